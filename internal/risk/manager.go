// Package risk sizes new positions and runs the circuit breakers that halt
// new entries.
package risk

import (
	"context"
	"fmt"
	"math"

	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
)

// Breaker names a circuit breaker.
type Breaker string

const (
	BreakerDrawdown    Breaker = "drawdown"
	BreakerDailyLoss   Breaker = "daily_loss"
	BreakerOpenCount   Breaker = "open_positions"
	BreakerCorrelation Breaker = "correlated_positions"
)

// RiskConfig holds the circuit breaker thresholds. A zero value disables the
// corresponding breaker.
type RiskConfig struct {
	MaxDrawdown            float64 // Fraction of peak equity, e.g. 0.20
	MaxDailyLoss           float64 // Fraction of balance, e.g. 0.05
	MaxOpenPositions       int
	MaxCorrelatedPositions int
	CorrelationThreshold   float64 // Absolute Pearson coefficient, e.g. 0.8
}

// Snapshot is the account state the breakers are evaluated against.
type Snapshot struct {
	UserID           int64
	Symbol           string // Symbol of the candidate entry
	Equity           float64
	PeakEquity       float64
	Balance          float64 // Base for the daily loss fraction
	DailyRealizedPNL float64
	OpenPositions    int
	// Correlations holds each open position's correlation with the reference
	// asset. CandidateCorrelation is the same for Symbol.
	Correlations         []float64
	CandidateCorrelation float64
}

// Drawdown returns the fractional drop of equity from its peak.
func (s *Snapshot) Drawdown() float64 {
	if s.PeakEquity <= 0 || s.Equity >= s.PeakEquity {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}

// DailyPNLFraction returns today's realized PnL as a fraction of Balance.
func (s *Snapshot) DailyPNLFraction() float64 {
	if s.Balance <= 0 {
		return 0
	}
	return s.DailyRealizedPNL / s.Balance
}

// Decision is the outcome of a breaker check.
type Decision struct {
	Allowed bool
	Breaker Breaker
	Metric  string
	Value   float64
	Limit   float64
}

// Err returns a *BlockedError for a blocked decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &BlockedError{Decision: d}
}

// BlockedError reports a breached breaker. It unwraps to ports.ErrBreakerBlocked.
type BlockedError struct {
	Decision Decision
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("circuit breaker %s: %s %.4f breaches limit %.4f", e.Decision.Breaker, e.Decision.Metric, e.Decision.Value, e.Decision.Limit)
}

func (e *BlockedError) Unwrap() error { return ports.ErrBreakerBlocked }

// Engine evaluates the circuit breakers.
type Engine struct {
	config RiskConfig
	logger ports.Logger
}

// NewEngine creates a breaker engine.
func NewEngine(config RiskConfig, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk engine")
	}
	if config.MaxDrawdown < 0 || config.MaxDrawdown >= 1 || config.MaxDailyLoss < 0 || config.MaxDailyLoss >= 1 {
		return nil, fmt.Errorf("invalid breaker fractions: drawdown %v daily loss %v: %w", config.MaxDrawdown, config.MaxDailyLoss, ports.ErrConfigurationError)
	}
	return &Engine{config: config, logger: logger}, nil
}

// Config returns the breaker thresholds.
func (e *Engine) Config() RiskConfig { return e.config }

// Check runs drawdown, daily loss, open count and correlation breakers in
// that order and returns the first breach. Breakers hold no state, so trading
// resumes as soon as the metric recovers.
func (e *Engine) Check(ctx context.Context, s *Snapshot) Decision {
	d := e.evaluate(s)
	if !d.Allowed {
		metrics.BreakerBlocks.WithLabelValues(string(d.Breaker)).Inc()
		e.logger.Warn(ctx, "Entry blocked by circuit breaker", map[string]interface{}{
			"userID":  s.UserID,
			"symbol":  s.Symbol,
			"breaker": string(d.Breaker),
			"metric":  d.Metric,
			"value":   d.Value,
			"limit":   d.Limit,
		})
	}
	return d
}

func (e *Engine) evaluate(s *Snapshot) Decision {
	c := e.config
	if c.MaxDrawdown > 0 {
		if dd := s.Drawdown(); dd >= c.MaxDrawdown {
			return Decision{Breaker: BreakerDrawdown, Metric: "drawdown_pct", Value: dd, Limit: c.MaxDrawdown}
		}
	}
	if c.MaxDailyLoss > 0 {
		if f := s.DailyPNLFraction(); f <= -c.MaxDailyLoss {
			return Decision{Breaker: BreakerDailyLoss, Metric: "daily_pnl_pct", Value: f, Limit: -c.MaxDailyLoss}
		}
	}
	if c.MaxOpenPositions > 0 && s.OpenPositions >= c.MaxOpenPositions {
		return Decision{Breaker: BreakerOpenCount, Metric: "open_positions", Value: float64(s.OpenPositions), Limit: float64(c.MaxOpenPositions)}
	}
	if c.MaxCorrelatedPositions > 0 && c.CorrelationThreshold > 0 && math.Abs(s.CandidateCorrelation) >= c.CorrelationThreshold {
		n := 0
		for _, corr := range s.Correlations {
			if math.Abs(corr) >= c.CorrelationThreshold {
				n++
			}
		}
		if n >= c.MaxCorrelatedPositions {
			return Decision{Breaker: BreakerCorrelation, Metric: "correlated_positions", Value: float64(n), Limit: float64(c.MaxCorrelatedPositions)}
		}
	}
	return Decision{Allowed: true}
}
