package domain

import (
	"fmt"
	"time"
)

// TradePhase is the lifecycle phase of an open trade.
type TradePhase string

const (
	PhasePending   TradePhase = "PENDING"
	PhaseValidated TradePhase = "VALIDATED"
	PhaseTrailing  TradePhase = "TRAILING"
)

// Rank orders phases; a trade may only move to a higher rank.
func (p TradePhase) Rank() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseValidated:
		return 1
	case PhaseTrailing:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from p to next keeps the phase order.
func (p TradePhase) CanAdvanceTo(next TradePhase) bool {
	return p.Rank() >= 0 && next.Rank() > p.Rank()
}

// Trade is a position opened by a strategy for a user and owned by the
// lifecycle manager until it closes.
type Trade struct {
	ID                 int64
	UserID             int64
	Strategy           string
	Symbol             string
	Side               OrderSide // Side of the entry order
	Status             TradeStatus
	EntryOrderID       string
	EntryPrice         float64
	InitialQuantity    float64
	Quantity           float64 // Remaining open quantity
	StopLossPrice      float64
	TakeProfit1        float64
	TakeProfit2        float64
	Phase              TradePhase
	TP1PartialExecuted bool
	RealizedPNL        float64 // Accumulated from partial exits and the final close
	EntryCommission    float64
	EntryTime          time.Time
	ExitPrice          float64
	ExitTime           time.Time
	ExitReason         ExitReason
	CloseFailures      int
	UpdatedAt          time.Time
}

// IsOpen reports whether the trade still holds a position.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// IsLong reports whether the trade was opened with a BUY.
func (t *Trade) IsLong() bool {
	return t.Side == Buy
}

// UnrealizedGainPct returns the favorable price move from entry as a fraction.
func (t *Trade) UnrealizedGainPct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	if t.IsLong() {
		return (price - t.EntryPrice) / t.EntryPrice
	}
	return (t.EntryPrice - price) / t.EntryPrice
}

// PNLFor returns the gross PnL of closing qty at price.
func (t *Trade) PNLFor(qty, price float64) float64 {
	if t.IsLong() {
		return (price - t.EntryPrice) * qty
	}
	return (t.EntryPrice - price) * qty
}

// Key identifies the (user, symbol, strategy) slot an open trade occupies.
func (t *Trade) Key() string {
	return TradeKey(t.UserID, t.Symbol, t.Strategy)
}

// TradeKey builds the key used to serialize work on one open-trade slot.
func TradeKey(userID int64, symbol, strategy string) string {
	return fmt.Sprintf("%d/%s/%s", userID, symbol, strategy)
}

// TradeStats summarizes closed trades for Kelly sizing.
type TradeStats struct {
	Wins    int
	Losses  int
	AvgWin  float64
	AvgLoss float64 // Positive magnitude
}

// WinRate returns wins / (wins + losses), or 0 without history.
func (s *TradeStats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// PayoffRatio returns AvgWin / AvgLoss, or 0 without losses.
func (s *TradeStats) PayoffRatio() float64 {
	if s.AvgLoss <= 0 {
		return 0
	}
	return s.AvgWin / s.AvgLoss
}
