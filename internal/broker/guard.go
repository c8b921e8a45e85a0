package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
)

// LimitRule names the trading limit an order breached.
type LimitRule string

const (
	RuleMaxTradeSize   LimitRule = "max_trade_size"
	RuleAllowedSymbols LimitRule = "allowed_symbols"
	RuleMaxDailyTrades LimitRule = "max_daily_trades"
)

// LimitViolation is returned by Guard.PlaceOrder when an order breaks an
// account limit. It unwraps to ports.ErrLimitViolation.
type LimitViolation struct {
	Rule   LimitRule
	Symbol string
	Value  float64 // Notional or today's count; unused for the symbol rule
	Limit  float64
}

func (v *LimitViolation) Error() string {
	switch v.Rule {
	case RuleMaxTradeSize:
		return fmt.Sprintf("%s: notional %.2f > max %.2f for %s", v.Rule, v.Value, v.Limit, v.Symbol)
	case RuleAllowedSymbols:
		return fmt.Sprintf("%s: %s is not in the allowed symbols", v.Rule, v.Symbol)
	case RuleMaxDailyTrades:
		return fmt.Sprintf("%s: %.0f trades placed today, max %.0f", v.Rule, v.Value, v.Limit)
	default:
		return fmt.Sprintf("%s: value %v limit %v", v.Rule, v.Value, v.Limit)
	}
}

func (v *LimitViolation) Unwrap() error { return ports.ErrLimitViolation }

// Guard wraps a broker and validates every entry order against the account's
// trading limits before it reaches the wrapped backend. Market data, account
// and order-query calls pass through untouched.
type Guard struct {
	ports.Broker

	userID   int64
	configs  ports.ExchangeConfigRepository
	counters ports.TradeCounterRepository
	fallback domain.TradingLimits // Used when the user has no stored config
	logger   ports.Logger
	now      func() time.Time

	mu      sync.Mutex // Serializes placements so the daily count cannot be overrun
	day     string
	count   int
	counted bool
}

// GuardConfig holds the collaborators of a Guard.
type GuardConfig struct {
	UserID   int64
	Configs  ports.ExchangeConfigRepository
	Counters ports.TradeCounterRepository
	Fallback domain.TradingLimits
	Logger   ports.Logger
	Now      func() time.Time
}

// NewGuard wraps inner with the trading limits of cfg.UserID.
func NewGuard(inner ports.Broker, cfg GuardConfig) (*Guard, error) {
	if inner == nil {
		return nil, fmt.Errorf("guard requires a broker: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for the trading limits guard")
	}
	if cfg.Counters == nil {
		return nil, fmt.Errorf("trade counter repository is required for the trading limits guard")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Guard{
		Broker:   inner,
		userID:   cfg.UserID,
		configs:  cfg.Configs,
		counters: cfg.Counters,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
		now:      now,
	}, nil
}

// Inner returns the wrapped broker.
func (g *Guard) Inner() ports.Broker { return g.Broker }

// PlaceOrder checks, in order, the trade size, the symbol whitelist and the
// daily trade count, then delegates. Reduce-only orders close existing
// exposure and are neither checked nor counted.
func (g *Guard) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	op := "Guard.PlaceOrder"
	if intent.ReduceOnly {
		return g.Broker.PlaceOrder(ctx, intent)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	limits, err := g.limits(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	if limits.MaxTradeSize > 0 {
		market := 0.0
		if intent.ReferencePrice(0) <= 0 {
			market, err = g.Broker.GetLatestPrice(ctx, intent.Symbol)
			if err != nil {
				return nil, fmt.Errorf("%s failed: price for size check: %w", op, err)
			}
		}
		notional := intent.Notional(market)
		if notional > limits.MaxTradeSize {
			return nil, g.reject(ctx, &LimitViolation{Rule: RuleMaxTradeSize, Symbol: intent.Symbol, Value: notional, Limit: limits.MaxTradeSize})
		}
	}

	if !limits.SymbolAllowed(intent.Symbol) {
		return nil, g.reject(ctx, &LimitViolation{Rule: RuleAllowedSymbols, Symbol: intent.Symbol})
	}

	if limits.MaxDailyTrades > 0 {
		today, err := g.todayCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		if today >= limits.MaxDailyTrades {
			return nil, g.reject(ctx, &LimitViolation{Rule: RuleMaxDailyTrades, Symbol: intent.Symbol, Value: float64(today), Limit: float64(limits.MaxDailyTrades)})
		}
	}

	res, err := g.Broker.PlaceOrder(ctx, intent)
	if err != nil {
		// The order may have landed when the outcome is unknown, so it counts.
		if errors.Is(err, ports.ErrExchangeUnavailable) || errors.Is(err, ports.ErrTimeout) {
			g.recordPlacement(ctx)
		}
		return res, err
	}
	if res != nil && res.Status != domain.OrderStatusRejected {
		g.recordPlacement(ctx)
	}
	return res, nil
}

// limits re-reads the account limits so edits apply to the next placement.
func (g *Guard) limits(ctx context.Context) (domain.TradingLimits, error) {
	if g.configs == nil {
		return g.fallback, nil
	}
	cfg, err := g.configs.FindActiveDefault(ctx, g.userID)
	if err != nil {
		return domain.TradingLimits{}, fmt.Errorf("load trading limits for user %d: %w", g.userID, err)
	}
	if cfg == nil {
		return g.fallback, nil
	}
	return cfg.Limits(), nil
}

// todayCount returns the cached count for the current UTC day, loading it
// from storage when the day changed or nothing is cached yet.
func (g *Guard) todayCount(ctx context.Context) (int, error) {
	day := g.now().UTC().Format("2006-01-02")
	if g.counted && g.day == day {
		return g.count, nil
	}
	n, err := g.counters.GetDailyCount(ctx, g.userID, g.now())
	if err != nil {
		return 0, fmt.Errorf("load daily trade count for user %d: %w", g.userID, err)
	}
	g.day, g.count, g.counted = day, n, true
	return n, nil
}

func (g *Guard) recordPlacement(ctx context.Context) {
	now := g.now()
	day := now.UTC().Format("2006-01-02")
	if g.counted && g.day == day {
		g.count++
	}
	n, err := g.counters.IncrementDailyCount(ctx, g.userID, now)
	if err != nil {
		// The local count stays ahead; the next cache miss reconciles it.
		g.logger.Error(ctx, err, "Failed to persist daily trade count", map[string]interface{}{"userID": g.userID})
		return
	}
	g.day, g.count, g.counted = day, n, true
}

func (g *Guard) reject(ctx context.Context, v *LimitViolation) error {
	metrics.LimitViolations.WithLabelValues(string(v.Rule)).Inc()
	g.logger.Warn(ctx, "Order rejected by trading limits", map[string]interface{}{
		"userID": g.userID,
		"rule":   string(v.Rule),
		"symbol": strings.ToUpper(v.Symbol),
		"value":  v.Value,
		"limit":  v.Limit,
	})
	return v
}
