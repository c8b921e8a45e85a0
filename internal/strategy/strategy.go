package strategy

import (
	"context"
	"fmt"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/strategy/indicators"
)

// Name identifies the trend strategy in open-trade keys.
const Name = "trend_rsi"

// Config holds parameters for the trading strategy.
type Config struct {
	ShortTermMAPeriod int     // e.g., 20
	LongTermMAPeriod  int     // e.g., 50
	EMAPeriod         int     // e.g., 20
	RSIPeriod         int     // e.g., 14
	RSIOverbought     float64 // e.g., 70.0
	RSIOversold       float64 // e.g., 30.0
}

// Strategy enters long on an established uptrend that is not overbought and
// asks for an exit once the trend breaks. Stops and targets belong to the
// lifecycle manager.
type Strategy struct {
	cfg    Config
	logger ports.Logger
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.ShortTermMAPeriod <= 0 || cfg.LongTermMAPeriod <= 0 || cfg.EMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.ShortTermMAPeriod >= cfg.LongTermMAPeriod {
		return nil, fmt.Errorf("short term MA period must be less than long term MA period")
	}
	return &Strategy{cfg: cfg, logger: logger}, nil
}

// Name returns the strategy name.
func (s *Strategy) Name() string { return Name }

// RequiredDataPoints returns the longest indicator lookback.
func (s *Strategy) RequiredDataPoints() int {
	need := indicators.Lookback(indicators.NameSMA, s.cfg.LongTermMAPeriod)
	for _, n := range []int{
		indicators.Lookback(indicators.NameEMA, s.cfg.EMAPeriod),
		indicators.Lookback(indicators.NameRSI, s.cfg.RSIPeriod),
	} {
		if n > need {
			need = n
		}
	}
	return need
}

type readings struct {
	shortMA, longMA, ema, rsi float64
}

func (s *Strategy) read(klines []*domain.Kline) (readings, error) {
	var r readings
	var err error
	if r.shortMA, err = indicators.SMA(klines, s.cfg.ShortTermMAPeriod); err != nil {
		return r, fmt.Errorf("short term MA: %w", err)
	}
	if r.longMA, err = indicators.SMA(klines, s.cfg.LongTermMAPeriod); err != nil {
		return r, fmt.Errorf("long term MA: %w", err)
	}
	if r.ema, err = indicators.EMA(klines, s.cfg.EMAPeriod); err != nil {
		return r, fmt.Errorf("EMA: %w", err)
	}
	if r.rsi, err = indicators.RSI(klines, s.cfg.RSIPeriod); err != nil {
		return r, fmt.Errorf("RSI: %w", err)
	}
	return r, nil
}

// Evaluate returns BUY when price sits above both moving averages and the
// EMA with the short average above the long one and RSI below overbought.
// With an open trade it returns EXIT once price falls under a falling long
// average, and HOLD otherwise.
func (s *Strategy) Evaluate(ctx context.Context, klines []*domain.Kline, currentPrice float64, open *domain.Trade) ports.Signal {
	requiredPoints := s.RequiredDataPoints()
	if len(klines) < requiredPoints {
		s.logger.Debug(ctx, "Not enough kline data for strategy evaluation",
			map[string]interface{}{"available": len(klines), "required": requiredPoints})
		return ports.Signal{Action: ports.SignalHold, Reason: "insufficient data"}
	}

	r, err := s.read(klines)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to calculate indicators")
		return ports.Signal{Action: ports.SignalHold, Reason: err.Error()}
	}
	fields := map[string]interface{}{
		"currentPrice": currentPrice,
		"shortMA":      r.shortMA,
		"longMA":       r.longMA,
		"ema":          r.ema,
		"rsi":          r.rsi,
	}

	if open != nil {
		if open.IsLong() && currentPrice < r.longMA && r.shortMA < r.longMA {
			s.logger.Info(ctx, "Trend broken, requesting exit", fields)
			return ports.Signal{Action: ports.SignalExit, Reason: "trend reversal"}
		}
		return ports.Signal{Action: ports.SignalHold, Reason: "position open"}
	}

	isTrendingUp := currentPrice > r.shortMA && currentPrice > r.longMA && r.shortMA > r.longMA
	isNotOverbought := r.rsi < s.cfg.RSIOverbought
	isAboveEMA := currentPrice > r.ema

	if isTrendingUp && isNotOverbought && isAboveEMA {
		s.logger.Info(ctx, "Trade entry conditions met", fields)
		return ports.Signal{Action: ports.SignalBuy, Reason: "uptrend"}
	}

	fields["isTrendingUp"] = isTrendingUp
	fields["isNotOverbought"] = isNotOverbought
	fields["isAboveEMA"] = isAboveEMA
	s.logger.Debug(ctx, "Trade entry conditions not met", fields)
	return ports.Signal{Action: ports.SignalHold, Reason: "no entry"}
}
