package ports

import (
	"context"
	"time"

	"cryptoExecCore/internal/domain"
)

// TradeRepository stores trades owned by the execution path and the lifecycle manager.
type TradeRepository interface {
	// CreateTrade saves a new open trade and returns its ID. It fails with
	// ErrDuplicatePosition if an open trade already exists for the same
	// (user, symbol, strategy).
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// UpdateTrade persists levels, phase, quantity and exit fields.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindByID returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpen returns the open trade for the slot, or nil, nil.
	FindOpen(ctx context.Context, userID int64, symbol, strategy string) (*domain.Trade, error)
	// ListOpenByUser returns all open trades of a user, oldest first.
	ListOpenByUser(ctx context.Context, userID int64) ([]*domain.Trade, error)
	// RealizedPNLSince sums realized PnL of trades closed at or after since.
	RealizedPNLSince(ctx context.Context, userID int64, since time.Time) (float64, error)
	// ClosedTradeStats returns wins, losses, and the average win and loss
	// magnitudes over the last limit closed trades.
	ClosedTradeStats(ctx context.Context, userID int64, limit int) (*domain.TradeStats, error)
}

// ExchangeConfigRepository reads user exchange configurations.
type ExchangeConfigRepository interface {
	// FindActiveDefault returns the active config flagged as default, falling
	// back to any active config. Returns nil, nil if none exists.
	FindActiveDefault(ctx context.Context, userID int64) (*domain.ExchangeConfig, error)
	// Upsert creates or replaces the (user, exchange) row.
	Upsert(ctx context.Context, cfg *domain.ExchangeConfig) (int64, error)
}

// TradeCounterRepository holds the durable per-day placement counter.
type TradeCounterRepository interface {
	// GetDailyCount returns the number of placements recorded for day (UTC date).
	GetDailyCount(ctx context.Context, userID int64, day time.Time) (int, error)
	// IncrementDailyCount adds one placement for day and returns the new count.
	IncrementDailyCount(ctx context.Context, userID int64, day time.Time) (int, error)
}

// RiskStateRepository holds durable risk figures shared across loops and restarts.
type RiskStateRepository interface {
	// GetPeakEquity returns 0 if no peak has been recorded.
	GetPeakEquity(ctx context.Context, userID int64) (float64, error)
	// SavePeakEquity stores peak only if it is higher than the stored value.
	SavePeakEquity(ctx context.Context, userID int64, peak float64) error
}

// CandleRepository stores candles for storage-backed replay.
type CandleRepository interface {
	SaveCandles(ctx context.Context, klines []*domain.Kline) error
	// LoadCandles returns candles in open-time order.
	LoadCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Kline, error)
}

// EventRepository stores account-visible trade events.
type EventRepository interface {
	SaveEvent(ctx context.Context, event *domain.TradeEvent) error
	ListEvents(ctx context.Context, userID int64, limit int) ([]*domain.TradeEvent, error)
}
