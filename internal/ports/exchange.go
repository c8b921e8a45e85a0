package ports

import (
	"context"

	"cryptoExecCore/internal/domain"
)

// DataSource is the read-only market data contract shared by every execution
// backend and by the sources that feed simulated fills.
type DataSource interface {
	// GetCandles returns up to limit most recent candles, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
	// GetTicker returns the 24h ticker snapshot for symbol.
	GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	// GetLatestPrice returns the last traded price for symbol.
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Broker is the uniform contract over execution backends (live exchange or paper).
// Implementations must report insufficient balance, unknown symbols and an
// unreachable backend with ErrInsufficientFunds, ErrInvalidSymbol and
// ErrExchangeUnavailable respectively, so callers can use errors.Is.
type Broker interface {
	DataSource

	// PlaceOrder submits the intent once. It is never retried by the backend.
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error)
	// CancelOrder cancels an open order and returns its final state.
	CancelOrder(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error)
	// GetOrderStatus returns the current state of an order.
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderResult, error)
	// GetAccountBalance returns the account summarized in its quote currency.
	GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error)
	// GetSymbolInfo returns the trading rules for symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error)

	// Name identifies the backend (e.g. "binance", "paper").
	Name() string
	// IsPaper reports whether orders are simulated.
	IsPaper() bool
}
