package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "exec-core-test-*")
	require.NoError(t, err)

	store, err := NewStore(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func openTrade(userID int64, symbol, strategy string) *domain.Trade {
	return &domain.Trade{
		UserID:          userID,
		Strategy:        strategy,
		Symbol:          symbol,
		Side:            domain.Buy,
		EntryOrderID:    "1001",
		EntryPrice:      100,
		InitialQuantity: 2,
		Quantity:        2,
		StopLossPrice:   98,
		TakeProfit1:     103,
		TakeProfit2:     106,
		EntryTime:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_CreateAndFindTrade(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := openTrade(7, "BTCUSDT", "ma_cross")
	id, err := store.CreateTrade(ctx, trade)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, trade.ID)

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.TradeStatusOpen, found.Status)
	assert.Equal(t, domain.PhasePending, found.Phase)
	assert.Equal(t, domain.Buy, found.Side)
	assert.Equal(t, 98.0, found.StopLossPrice)
	assert.True(t, found.EntryTime.Equal(trade.EntryTime))
	assert.True(t, found.ExitTime.IsZero())

	open, err := store.FindOpen(ctx, 7, "BTCUSDT", "ma_cross")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)

	missing, err := store.FindByID(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_OneOpenTradePerSlot(t *testing.T) {
	tests := []struct {
		name    string
		second  *domain.Trade
		closeFn bool
		wantErr error
	}{
		{name: "same slot", second: openTrade(7, "BTCUSDT", "ma_cross"), wantErr: ports.ErrDuplicatePosition},
		{name: "other strategy", second: openTrade(7, "BTCUSDT", "rsi")},
		{name: "other user", second: openTrade(8, "BTCUSDT", "ma_cross")},
		{name: "same slot after close", second: openTrade(7, "BTCUSDT", "ma_cross"), closeFn: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := setupTestDB(t)
			defer cleanup()
			ctx := context.Background()

			first := openTrade(7, "BTCUSDT", "ma_cross")
			_, err := store.CreateTrade(ctx, first)
			require.NoError(t, err)
			if tt.closeFn {
				first.Status = domain.TradeStatusClosed
				first.ExitTime = first.EntryTime.Add(time.Hour)
				require.NoError(t, store.UpdateTrade(ctx, first))
			}

			_, err = store.CreateTrade(ctx, tt.second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStore_UpdateTrade(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := openTrade(1, "ETHUSDT", "ma_cross")
	_, err := store.CreateTrade(ctx, trade)
	require.NoError(t, err)

	trade.Phase = domain.PhaseTrailing
	trade.StopLossPrice = 101.5
	trade.Quantity = 1
	trade.TP1PartialExecuted = true
	trade.Status = domain.TradeStatusClosed
	trade.ExitPrice = 104
	trade.ExitTime = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	trade.ExitReason = domain.ExitReasonTrailingStop
	trade.RealizedPNL = 7
	require.NoError(t, store.UpdateTrade(ctx, trade))

	found, err := store.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTrailing, found.Phase)
	assert.Equal(t, 101.5, found.StopLossPrice)
	assert.True(t, found.TP1PartialExecuted)
	assert.Equal(t, domain.ExitReasonTrailingStop, found.ExitReason)
	assert.True(t, found.ExitTime.Equal(trade.ExitTime))

	open, err := store.FindOpen(ctx, 1, "ETHUSDT", "ma_cross")
	require.NoError(t, err)
	assert.Nil(t, open)

	missing := &domain.Trade{ID: 9999, Status: domain.TradeStatusOpen, Phase: domain.PhasePending}
	assert.ErrorIs(t, store.UpdateTrade(ctx, missing), ports.ErrNotFound)
}

func TestStore_ListOpenAndPNL(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pnls := []float64{30, -10, -20, 50}
	for i, pnl := range pnls {
		tr := openTrade(3, "BTCUSDT", "s"+string(rune('a'+i)))
		_, err := store.CreateTrade(ctx, tr)
		require.NoError(t, err)
		tr.Status = domain.TradeStatusClosed
		tr.RealizedPNL = pnl
		tr.ExitTime = day.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, store.UpdateTrade(ctx, tr))
	}
	// Closed the previous day, outside the window.
	old := openTrade(3, "ETHUSDT", "old")
	_, err := store.CreateTrade(ctx, old)
	require.NoError(t, err)
	old.Status = domain.TradeStatusClosed
	old.RealizedPNL = -500
	old.ExitTime = day.Add(-time.Hour)
	require.NoError(t, store.UpdateTrade(ctx, old))

	_, err = store.CreateTrade(ctx, openTrade(3, "SOLUSDT", "ma_cross"))
	require.NoError(t, err)

	open, err := store.ListOpenByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "SOLUSDT", open[0].Symbol)

	closed, err := store.ListClosedByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, closed, 5)
	assert.Equal(t, "ETHUSDT", closed[0].Symbol, "closed trades come in exit order")
	assert.Equal(t, 50.0, closed[4].RealizedPNL)

	pnl, err := store.RealizedPNLSince(ctx, 3, day)
	require.NoError(t, err)
	assert.Equal(t, 50.0, pnl)

	stats, err := store.ClosedTradeStats(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.Equal(t, 40.0, stats.AvgWin)
	assert.Equal(t, 15.0, stats.AvgLoss)
}

func TestStore_ExchangeConfigUpsert(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	none, err := store.FindActiveDefault(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, none)

	cfg := &domain.ExchangeConfig{
		UserID:             5,
		Exchange:           "binance",
		EncryptedAPIKey:    "ENC[v1]:a",
		EncryptedAPISecret: "ENC[v1]:b",
		Testnet:            true,
		MaxTradeSize:       1000,
		MaxDailyTrades:     10,
		AllowedSymbols:     []string{"BTCUSDT", "ETHUSDT"},
		IsActive:           true,
		IsDefault:          true,
	}
	id, err := store.Upsert(ctx, cfg)
	require.NoError(t, err)

	found, err := store.FindActiveDefault(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, found.AllowedSymbols)
	assert.Equal(t, 1000.0, found.MaxTradeSize)
	assert.True(t, found.Testnet)
	assert.False(t, found.PaperTrading)

	cfg.MaxTradeSize = 250
	cfg.AllowedSymbols = nil
	id2, err := store.Upsert(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	found, err = store.FindActiveDefault(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 250.0, found.MaxTradeSize)
	assert.Empty(t, found.AllowedSymbols)

	cfg.IsActive = false
	_, err = store.Upsert(ctx, cfg)
	require.NoError(t, err)
	found, err = store.FindActiveDefault(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_DailyCounterAndPeak(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	late := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	next := late.Add(2 * time.Minute)

	n, err := store.GetDailyCount(ctx, 1, late)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementDailyCount(ctx, 1, late)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	n, err = store.GetDailyCount(ctx, 1, next)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a new UTC day starts at zero")

	require.NoError(t, store.SavePeakEquity(ctx, 1, 10000))
	require.NoError(t, store.SavePeakEquity(ctx, 1, 9000))
	peak, err := store.GetPeakEquity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, peak)

	require.NoError(t, store.SavePeakEquity(ctx, 1, 12000))
	peak, err = store.GetPeakEquity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, peak)
}

func TestStore_CandlesAndEvents(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	klines := make([]*domain.Kline, 0, 5)
	for i := 0; i < 5; i++ {
		open := start.Add(time.Duration(i) * time.Hour)
		klines = append(klines, &domain.Kline{
			Symbol: "BTCUSDT", Interval: "1h", OpenTime: open, CloseTime: open.Add(time.Hour - time.Millisecond),
			Open: 100 + float64(i), High: 101 + float64(i), Low: 99 + float64(i), Close: 100.5 + float64(i), Volume: 10,
		})
	}
	require.NoError(t, store.SaveCandles(ctx, klines))
	// Re-saving the same candles updates in place.
	klines[0].Close = 42
	require.NoError(t, store.SaveCandles(ctx, klines[:1]))

	loaded, err := store.LoadCandles(ctx, "BTCUSDT", "1h", start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, loaded, 4)
	assert.Equal(t, 42.0, loaded[0].Close)
	assert.True(t, loaded[3].OpenTime.Equal(start.Add(3*time.Hour)))

	require.NoError(t, store.SaveEvent(ctx, &domain.TradeEvent{UserID: 2, Symbol: "BTCUSDT", Kind: domain.EventLimitViolation, Message: "notional 1500.00 > max 1000.00"}))
	require.NoError(t, store.SaveEvent(ctx, &domain.TradeEvent{UserID: 2, TradeID: 4, Symbol: "BTCUSDT", Kind: domain.EventTradeClosed, Message: "closed"}))
	events, err := store.ListEvents(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTradeClosed, events[0].Kind)
	assert.Equal(t, int64(4), events[0].TradeID)
}
