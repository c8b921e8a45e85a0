package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// ErrNoEdge is returned by the Kelly sizer when history shows no positive edge.
var ErrNoEdge = errors.New("kelly fraction is not positive")

// Sizing method names.
const (
	MethodFixed      = "fixed"
	MethodKelly      = "kelly"
	MethodVolatility = "volatility"
)

// SizingInput carries what a sizer needs to compute a quantity.
type SizingInput struct {
	Balance  float64 // Quote currency available for risk
	Entry    float64
	StopLoss float64
	ATR      float64
	Stats    *domain.TradeStats // Closed trade history for Kelly
}

// Sizer turns account risk parameters into an order quantity.
type Sizer interface {
	Name() string
	// StopDistance returns the price distance the quantity is sized against.
	StopDistance(in SizingInput) (float64, error)
	Quantity(in SizingInput) (float64, error)
}

// FixedFractional risks a fixed fraction of the balance per trade:
// quantity = balance × risk / |entry − stop|.
type FixedFractional struct {
	RiskPct float64
}

func (f FixedFractional) Name() string { return MethodFixed }

func (f FixedFractional) StopDistance(in SizingInput) (float64, error) {
	return stopDistance(in)
}

func (f FixedFractional) Quantity(in SizingInput) (float64, error) {
	dist, err := f.StopDistance(in)
	if err != nil {
		return 0, err
	}
	return riskQuantity(in.Balance, f.RiskPct, dist)
}

// Kelly sizes from historical win rate p and payoff ratio b with
// f = (b·p − q)/b, scaled by Fraction (0.5 half Kelly, 0.25 quarter Kelly).
// With fewer than MinTrades closed trades it falls back to FallbackPct.
type Kelly struct {
	Fraction    float64
	MaxPct      float64 // Cap on the scaled fraction; zero disables
	MinTrades   int
	FallbackPct float64
}

func (k Kelly) Name() string { return MethodKelly }

func (k Kelly) StopDistance(in SizingInput) (float64, error) {
	return stopDistance(in)
}

// RiskFraction returns the scaled Kelly fraction of the balance to risk.
func (k Kelly) RiskFraction(stats *domain.TradeStats) (float64, error) {
	if stats == nil || stats.Wins+stats.Losses < k.MinTrades {
		return k.FallbackPct, nil
	}
	if stats.Wins == 0 {
		return 0, fmt.Errorf("%w: no winning trades in %d", ErrNoEdge, stats.Losses)
	}
	if stats.Losses == 0 {
		// Payoff ratio is undefined without losses.
		return k.FallbackPct, nil
	}
	p := stats.WinRate()
	b := stats.PayoffRatio()
	f := (b*p - (1 - p)) / b
	if f <= 0 {
		return 0, fmt.Errorf("%w: win rate %.2f payoff %.2f", ErrNoEdge, p, b)
	}
	f *= k.Fraction
	if k.MaxPct > 0 && f > k.MaxPct {
		f = k.MaxPct
	}
	return f, nil
}

func (k Kelly) Quantity(in SizingInput) (float64, error) {
	dist, err := k.StopDistance(in)
	if err != nil {
		return 0, err
	}
	frac, err := k.RiskFraction(in.Stats)
	if err != nil {
		return 0, err
	}
	return riskQuantity(in.Balance, frac, dist)
}

// VolatilityAdjusted sizes against a stop Multiplier × ATR away from entry so
// quantity shrinks as volatility rises.
type VolatilityAdjusted struct {
	RiskPct    float64
	Multiplier float64
}

func (v VolatilityAdjusted) Name() string { return MethodVolatility }

func (v VolatilityAdjusted) StopDistance(in SizingInput) (float64, error) {
	if in.ATR <= 0 {
		return 0, fmt.Errorf("volatility sizing requires a positive ATR: %w", ports.ErrInvalidRequest)
	}
	return v.Multiplier * in.ATR, nil
}

func (v VolatilityAdjusted) Quantity(in SizingInput) (float64, error) {
	dist, err := v.StopDistance(in)
	if err != nil {
		return 0, err
	}
	return riskQuantity(in.Balance, v.RiskPct, dist)
}

// SizingConfig selects and parameterizes a sizer.
type SizingConfig struct {
	Method        string
	RiskPct       float64
	KellyFraction float64
	KellyMaxPct   float64
	MinTrades     int
	ATRMultiplier float64
}

// NewSizer builds the sizer named by cfg.Method.
func NewSizer(cfg SizingConfig) (Sizer, error) {
	if cfg.RiskPct <= 0 || cfg.RiskPct >= 1 {
		return nil, fmt.Errorf("risk per trade must be in (0, 1), got %v: %w", cfg.RiskPct, ports.ErrConfigurationError)
	}
	switch strings.ToLower(cfg.Method) {
	case "", MethodFixed:
		return FixedFractional{RiskPct: cfg.RiskPct}, nil
	case MethodKelly:
		frac := cfg.KellyFraction
		if frac <= 0 || frac > 1 {
			return nil, fmt.Errorf("kelly fraction must be in (0, 1], got %v: %w", frac, ports.ErrConfigurationError)
		}
		minTrades := cfg.MinTrades
		if minTrades <= 0 {
			minTrades = 20
		}
		return Kelly{Fraction: frac, MaxPct: cfg.KellyMaxPct, MinTrades: minTrades, FallbackPct: cfg.RiskPct}, nil
	case MethodVolatility:
		k := cfg.ATRMultiplier
		if k <= 0 {
			k = 2
		}
		return VolatilityAdjusted{RiskPct: cfg.RiskPct, Multiplier: k}, nil
	default:
		return nil, fmt.Errorf("unknown sizing method %q: %w", cfg.Method, ports.ErrConfigurationError)
	}
}

func stopDistance(in SizingInput) (float64, error) {
	dist := math.Abs(in.Entry - in.StopLoss)
	if in.Entry <= 0 || dist == 0 {
		return 0, fmt.Errorf("entry %v and stop %v give no stop distance: %w", in.Entry, in.StopLoss, ports.ErrInvalidRequest)
	}
	return dist, nil
}

func riskQuantity(balance, riskPct, dist float64) (float64, error) {
	if balance <= 0 {
		return 0, fmt.Errorf("no balance to size against: %w", ports.ErrInsufficientFunds)
	}
	return balance * riskPct / dist, nil
}
