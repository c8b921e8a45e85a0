package ports

import (
	"context"

	"cryptoExecCore/internal/domain"
)

// SignalAction is what a strategy asks the execution core to do.
type SignalAction string

const (
	SignalHold SignalAction = "HOLD"
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalExit SignalAction = "EXIT"
)

// Signal is a strategy decision for one symbol.
type Signal struct {
	Action SignalAction
	Reason string
}

// Strategy decides when to trade. Its logic is outside the execution core.
type Strategy interface {
	// Name identifies the strategy; it is part of the open-trade key.
	Name() string
	// RequiredDataPoints returns the minimum number of klines needed for the strategy calculations.
	RequiredDataPoints() int
	// Evaluate returns the signal for the latest klines. open is the current
	// open trade for the symbol, or nil.
	Evaluate(ctx context.Context, klines []*domain.Kline, currentPrice float64, open *domain.Trade) Signal
}
