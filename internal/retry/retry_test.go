package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/ports"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func TestValue_RetriesTransientErrors(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("GetTicker failed: %w", ports.ErrExchangeUnavailable)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestValue_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Value(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, ports.ErrInvalidSymbol
	})
	assert.ErrorIs(t, err, ports.ErrInvalidSymbol)
	assert.Equal(t, 1, calls)
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func(ctx context.Context) error {
		calls++
		return ports.ErrTimeout
	})
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Attempts: 10, Min: time.Hour, Max: time.Hour, Factor: 2}
	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		cancel()
		return ports.ErrRateLimited
	})
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
	assert.Equal(t, 1, calls)
}
