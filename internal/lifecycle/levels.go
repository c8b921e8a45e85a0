package lifecycle

import (
	"fmt"
	"math"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// Levels are the initial exit prices of a trade.
type Levels struct {
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
}

// StopDistance returns the initial stop distance for entry under p: an ATR
// multiple, a fixed percentage or the wider of both, capped at
// MaxStopLossPct of entry and never below MinStopDistance.
func StopDistance(p Profile, entry, atr float64) (float64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("entry price must be positive, got %v: %w", entry, ports.ErrInvalidRequest)
	}
	var dist float64
	switch p.StopMethod {
	case StopATR:
		if atr <= 0 {
			return 0, fmt.Errorf("ATR stop requires a positive ATR: %w", ports.ErrInvalidRequest)
		}
		dist = p.ATRMultiplier * atr
	case StopFixed:
		dist = p.StopLossPct * entry
	case StopHybrid:
		dist = p.StopLossPct * entry
		if atr > 0 {
			dist = math.Max(dist, p.ATRMultiplier*atr)
		}
	default:
		return 0, fmt.Errorf("unknown stop method %q: %w", p.StopMethod, ports.ErrConfigurationError)
	}
	if p.MaxStopLossPct > 0 {
		dist = math.Min(dist, p.MaxStopLossPct*entry)
	}
	if dist < p.MinStopDistance {
		dist = p.MinStopDistance
	}
	if dist <= 0 || dist >= entry {
		return 0, fmt.Errorf("stop distance %v invalid for entry %v: %w", dist, entry, ports.ErrInvalidRequest)
	}
	return dist, nil
}

// InitialLevels computes the stop-loss and both take-profits for a trade
// entered on side at entry. Levels mirror for a SELL entry.
func InitialLevels(p Profile, side domain.OrderSide, entry, atr float64) (Levels, error) {
	dist, err := StopDistance(p, entry, atr)
	if err != nil {
		return Levels{}, err
	}
	dir := 1.0
	if side == domain.Sell {
		dir = -1
	} else if side != domain.Buy {
		return Levels{}, fmt.Errorf("invalid side %q: %w", side, ports.ErrInvalidRequest)
	}
	return Levels{
		StopLoss:    entry - dir*dist,
		TakeProfit1: entry + dir*p.TP1RiskReward*dist,
		TakeProfit2: entry + dir*p.TP2RiskReward*dist,
	}, nil
}
