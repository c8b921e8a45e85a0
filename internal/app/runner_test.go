package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

func TestNewRunner_DuplicateAccount(t *testing.T) {
	f := newFixture(t)
	accounts := []AccountConfig{
		{UserID: 1, Symbols: []string{"ETHUSDT"}},
		{UserID: 1, Symbols: []string{"BTCUSDT"}},
	}
	_, err := NewRunner(accounts, f.deps)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestRunner_StartSkipsMisconfiguredAccount(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.Resolve = func(ctx context.Context, userID int64) (ports.Broker, error) {
		if userID == 2 {
			return nil, fmt.Errorf("no active config: %w", ports.ErrCredentialsMissing)
		}
		return f.broker, nil
	}
	accounts := []AccountConfig{
		{UserID: 1, Symbols: []string{"ETHUSDT"}, SignalInterval: time.Hour, MonitorInterval: time.Hour},
		{UserID: 2, Symbols: []string{"ETHUSDT"}, SignalInterval: time.Hour, MonitorInterval: time.Hour},
	}
	r, err := NewRunner(accounts, deps)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	assert.True(t, r.Running(1))
	assert.False(t, r.Running(2))
	assert.Contains(t, f.events.kinds(), domain.EventConfigurationError)
	assert.Error(t, r.Start(context.Background()), "second start is rejected")

	_, err = r.CloseTrade(context.Background(), 2, 1)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRunner_StartFailsWithoutAccounts(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.Resolve = func(ctx context.Context, userID int64) (ports.Broker, error) {
		return nil, ports.ErrCredentialsMissing
	}
	r, err := NewRunner([]AccountConfig{{UserID: 3, Symbols: []string{"ETHUSDT"}}}, deps)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Start(context.Background()), ports.ErrConfigurationError)
	r.Stop()
}

func TestRunner_StopWaitsForLoops(t *testing.T) {
	f := newFixture(t)
	f.strategy.action = ports.SignalBuy
	r, err := NewRunner([]AccountConfig{
		{UserID: 1, Symbols: []string{"ETHUSDT"}, SignalInterval: time.Hour, MonitorInterval: time.Hour},
	}, f.deps)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	// Both loops run a first cycle immediately.
	require.Eventually(t, func() bool {
		open, _ := f.trades.ListOpenByUser(context.Background(), 1)
		return len(open) == 1
	}, 2*time.Second, 10*time.Millisecond)

	trade, err := r.CloseTrade(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitReasonManual, trade.ExitReason)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, r.Running(1))
}
