package risk

import (
	"context"
	"fmt"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// TrackerConfig holds the Tracker's collaborators.
type TrackerConfig struct {
	Trades            ports.TradeRepository
	State             ports.RiskStateRepository
	Logger            ports.Logger
	ReferenceSymbol   string // Asset correlations are measured against, e.g. BTCUSDT
	CorrelationWindow int    // Candles used for correlation
	Interval          string // Candle interval used for correlation
	StatsWindow       int    // Closed trades used for Kelly statistics
	Now               func() time.Time
}

// Tracker assembles breaker snapshots from durable storage and the broker.
type Tracker struct {
	trades    ports.TradeRepository
	state     ports.RiskStateRepository
	logger    ports.Logger
	reference string
	window    int
	interval  string
	stats     int
	now       func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Trades == nil || cfg.State == nil {
		return nil, fmt.Errorf("trade and risk state repositories are required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for risk tracker")
	}
	t := &Tracker{
		trades:    cfg.Trades,
		state:     cfg.State,
		logger:    cfg.Logger,
		reference: cfg.ReferenceSymbol,
		window:    cfg.CorrelationWindow,
		interval:  cfg.Interval,
		stats:     cfg.StatsWindow,
		now:       cfg.Now,
	}
	if t.window <= 0 {
		t.window = 50
	}
	if t.interval == "" {
		t.interval = "1h"
	}
	if t.stats <= 0 {
		t.stats = 100
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// Snapshot reads equity from the broker, raises the durable peak equity when
// exceeded, and gathers today's realized PnL, open positions and correlations
// for an entry on symbol.
func (t *Tracker) Snapshot(ctx context.Context, userID int64, symbol string, b ports.Broker) (*Snapshot, error) {
	op := "Snapshot"
	bal, err := b.GetAccountBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: balance: %w", op, err)
	}

	peak, err := t.state.GetPeakEquity(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if bal.Total > peak {
		if err := t.state.SavePeakEquity(ctx, userID, bal.Total); err != nil {
			// The in-memory peak is still used for this check.
			t.logger.Error(ctx, err, "Failed to persist peak equity", map[string]interface{}{"userID": userID})
		}
		peak = bal.Total
	}

	dayStart := t.now().UTC().Truncate(24 * time.Hour)
	pnl, err := t.trades.RealizedPNLSince(ctx, userID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	open, err := t.trades.ListOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	snap := &Snapshot{
		UserID:           userID,
		Symbol:           symbol,
		Equity:           bal.Total,
		PeakEquity:       peak,
		Balance:          bal.Total,
		DailyRealizedPNL: pnl,
		OpenPositions:    len(open),
		Correlations:     make([]float64, 0, len(open)),
	}
	if t.reference != "" {
		t.fillCorrelations(ctx, snap, open, b)
	}
	return snap, nil
}

// fillCorrelations is best effort: a missing series counts as uncorrelated.
func (t *Tracker) fillCorrelations(ctx context.Context, snap *Snapshot, open []*domain.Trade, src ports.DataSource) {
	ref, err := src.GetCandles(ctx, t.reference, t.interval, t.window+1)
	if err != nil {
		t.logger.Warn(ctx, "Reference candles unavailable, skipping correlation", map[string]interface{}{"symbol": t.reference, "error": err.Error()})
		return
	}
	refReturns := Returns(ref)
	cache := make(map[string]float64)
	corr := func(symbol string) float64 {
		if symbol == t.reference {
			return 1
		}
		if c, ok := cache[symbol]; ok {
			return c
		}
		klines, err := src.GetCandles(ctx, symbol, t.interval, t.window+1)
		if err != nil {
			t.logger.Debug(ctx, "Candles unavailable for correlation", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			cache[symbol] = 0
			return 0
		}
		c := Pearson(Returns(klines), refReturns)
		cache[symbol] = c
		return c
	}
	for _, tr := range open {
		snap.Correlations = append(snap.Correlations, corr(tr.Symbol))
	}
	snap.CandidateCorrelation = corr(snap.Symbol)
}

// TradeStats returns closed trade statistics for Kelly sizing.
func (t *Tracker) TradeStats(ctx context.Context, userID int64) (*domain.TradeStats, error) {
	return t.trades.ClosedTradeStats(ctx, userID, t.stats)
}
