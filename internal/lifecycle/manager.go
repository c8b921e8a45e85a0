package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
)

// ErrIncompleteClose is returned when a closing order filled less than the
// open quantity. The remainder stays open and is retried.
var ErrIncompleteClose = errors.New("closing order filled partially")

// DefaultAlertThreshold is the number of consecutive close failures that
// escalates to an alert.
const DefaultAlertThreshold = 3

// Outcome reports what Process did on a tick.
type Outcome struct {
	Closed       bool
	Reason       domain.ExitReason
	PartialQty   float64
	PhaseChanges []domain.TradePhase
	StopMoved    bool
}

// ManagerConfig holds the Manager's collaborators.
type ManagerConfig struct {
	Trades         ports.TradeRepository
	Events         ports.EventRepository
	Profiles       *Catalog
	Logger         ports.Logger
	AlertThreshold int
	Now            func() time.Time
}

// Manager applies lifecycle plans to stored trades through a broker.
type Manager struct {
	trades         ports.TradeRepository
	events         ports.EventRepository
	profiles       *Catalog
	logger         ports.Logger
	alertThreshold int
	now            func() time.Time
}

// NewManager creates a lifecycle Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Trades == nil || cfg.Profiles == nil {
		return nil, fmt.Errorf("trade repository and profiles are required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for lifecycle manager")
	}
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		trades:         cfg.Trades,
		events:         cfg.Events,
		profiles:       cfg.Profiles,
		logger:         cfg.Logger,
		alertThreshold: threshold,
		now:            now,
	}, nil
}

// Profile returns the profile applied to userID's trades.
func (m *Manager) Profile(userID int64) Profile {
	return m.profiles.For(userID)
}

// Open builds a new PENDING trade from an entry fill with levels from the
// user's profile. The caller persists it. A commission charged in the base
// asset reduces the held quantity.
func (m *Manager) Open(userID int64, strategy string, res *domain.OrderResult, info *domain.SymbolInfo, atr float64) (*domain.Trade, error) {
	if !res.HasFill() {
		return nil, fmt.Errorf("order %s has no fill: %w", res.OrderID, ports.ErrInvalidRequest)
	}
	levels, err := InitialLevels(m.profiles.For(userID), res.Side, res.AvgFillPrice, atr)
	if err != nil {
		return nil, err
	}
	entryTime := res.FilledAt
	if entryTime.IsZero() {
		entryTime = m.now()
	}

	qty := res.FilledQuantity
	var commission float64
	switch res.CommissionAsset {
	case "", info.QuoteAsset:
		commission = res.Commission
	case info.BaseAsset:
		commission = res.Commission * res.AvgFillPrice
		if res.Side == domain.Buy {
			qty -= res.Commission
		}
	}

	return &domain.Trade{
		UserID:          userID,
		Strategy:        strategy,
		Symbol:          res.Symbol,
		Side:            res.Side,
		Status:          domain.TradeStatusOpen,
		EntryOrderID:    res.OrderID,
		EntryPrice:      res.AvgFillPrice,
		InitialQuantity: qty,
		Quantity:        qty,
		StopLossPrice:   levels.StopLoss,
		TakeProfit1:     levels.TakeProfit1,
		TakeProfit2:     levels.TakeProfit2,
		Phase:           domain.PhasePending,
		EntryCommission: commission,
		EntryTime:       entryTime.UTC(),
	}, nil
}

// Process evaluates t at price and carries out the plan: closing or partially
// closing through b, then moving the phase and stop. A failed order leaves
// phase and levels untouched; only the failure count is stored.
func (m *Manager) Process(ctx context.Context, b ports.Broker, t *domain.Trade, price float64) (*Outcome, error) {
	op := "Process"
	plan, err := Evaluate(m.profiles.For(t.UserID), t, price)
	if err != nil {
		m.invariantViolation(ctx, t, err)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	if plan.Close {
		if err := m.close(ctx, b, t, plan.CloseReason, price); err != nil {
			return nil, err
		}
		return &Outcome{Closed: true, Reason: plan.CloseReason}, nil
	}

	if err := CheckTransition(t, plan); err != nil {
		m.invariantViolation(ctx, t, err)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	out := &Outcome{}
	if plan.PartialClose {
		qty, err := m.partialClose(ctx, b, t, plan.PartialQty, price)
		if err != nil {
			return nil, err
		}
		out.PartialQty = qty
		if !t.IsOpen() {
			out.Closed, out.Reason = true, t.ExitReason
			return out, nil
		}
	}

	if plan.Changed(t) {
		out.StopMoved = plan.StopLoss != t.StopLossPrice
		out.PhaseChanges = plan.Advanced
		t.Phase = plan.Phase
		t.StopLossPrice = plan.StopLoss
		if err := m.trades.UpdateTrade(ctx, t); err != nil {
			return nil, fmt.Errorf("%s failed: persist levels of trade %d: %w", op, t.ID, err)
		}
		for _, phase := range plan.Advanced {
			metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
			m.logger.Info(ctx, "Trade phase advanced", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "phase": string(phase), "stopLoss": t.StopLossPrice, "price": price})
		}
	} else if plan.PartialClose {
		if err := m.trades.UpdateTrade(ctx, t); err != nil {
			return nil, fmt.Errorf("%s failed: persist trade %d: %w", op, t.ID, err)
		}
	}
	return out, nil
}

// Exit closes the remaining quantity of t for an external reason such as a
// manual or strategy exit.
func (m *Manager) Exit(ctx context.Context, b ports.Broker, t *domain.Trade, reason domain.ExitReason) error {
	if t == nil || !t.IsOpen() {
		return fmt.Errorf("trade is not open: %w", ports.ErrInvalidRequest)
	}
	price, err := b.GetLatestPrice(ctx, t.Symbol)
	if err != nil {
		m.logger.Debug(ctx, "No price for exit bookkeeping", map[string]interface{}{"symbol": t.Symbol, "error": err.Error()})
	}
	return m.close(ctx, b, t, reason, price)
}

// close sells or buys back the remaining quantity. price is only used when
// nothing tradeable is left.
func (m *Manager) close(ctx context.Context, b ports.Broker, t *domain.Trade, reason domain.ExitReason, price float64) error {
	op := "Close"
	info, err := b.GetSymbolInfo(ctx, t.Symbol)
	if err != nil {
		return m.closeFailed(ctx, t, reason, fmt.Errorf("%s failed: symbol info: %w", op, err))
	}
	qty := info.RoundQuantity(t.Quantity)
	if qty <= 0 {
		// Only dust below one step remains.
		m.finish(ctx, t, reason, price, m.now())
		return m.persistClosed(ctx, t)
	}

	res, err := b.PlaceOrder(ctx, m.exitIntent(t, qty))
	if err != nil {
		return m.closeFailed(ctx, t, reason, fmt.Errorf("%s failed: %w", op, err))
	}
	if !res.HasFill() {
		return m.closeFailed(ctx, t, reason, fmt.Errorf("%s failed: order %s status %s: %w", op, res.OrderID, res.Status, ErrIncompleteClose))
	}

	m.applyFill(t, res, info)
	t.CloseFailures = 0
	if info.RoundQuantity(t.Quantity) > 0 {
		return m.closeFailed(ctx, t, reason, fmt.Errorf("%s failed: %v of %v left: %w", op, t.Quantity, qty, ErrIncompleteClose))
	}
	m.finish(ctx, t, reason, res.AvgFillPrice, res.FilledAt)
	return m.persistClosed(ctx, t)
}

// partialClose executes the TP1 exit and marks it done. It returns the
// quantity sold.
func (m *Manager) partialClose(ctx context.Context, b ports.Broker, t *domain.Trade, want, price float64) (float64, error) {
	op := "PartialClose"
	info, err := b.GetSymbolInfo(ctx, t.Symbol)
	if err != nil {
		return 0, m.closeFailed(ctx, t, domain.ExitReasonTakeProfit1, fmt.Errorf("%s failed: symbol info: %w", op, err))
	}
	qty := info.RoundQuantity(want)
	rest := info.RoundQuantity(t.Quantity - qty)
	if qty <= 0 {
		m.logger.Warn(ctx, "TP1 exit rounds to zero, skipping partial close", map[string]interface{}{"tradeID": t.ID, "quantity": want, "step": info.StepSize})
		t.TP1PartialExecuted = true
		return 0, nil
	}
	if rest <= 0 || (info.MinQty > 0 && rest < info.MinQty) {
		// The runner would be untradeable; take everything at TP1.
		before := t.Quantity
		if err := m.close(ctx, b, t, domain.ExitReasonTakeProfit1, price); err != nil {
			return 0, err
		}
		return before, nil
	}

	res, err := b.PlaceOrder(ctx, m.exitIntent(t, qty))
	if err != nil {
		return 0, m.closeFailed(ctx, t, domain.ExitReasonTakeProfit1, fmt.Errorf("%s failed: %w", op, err))
	}
	if !res.HasFill() {
		return 0, m.closeFailed(ctx, t, domain.ExitReasonTakeProfit1, fmt.Errorf("%s failed: order %s status %s: %w", op, res.OrderID, res.Status, ErrIncompleteClose))
	}
	m.applyFill(t, res, info)
	t.TP1PartialExecuted = true
	t.CloseFailures = 0
	metrics.TradeCloses.WithLabelValues(string(domain.ExitReasonTakeProfit1)).Inc()
	m.logger.Info(ctx, "TP1 partial exit", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "quantity": res.FilledQuantity, "price": res.AvgFillPrice, "remaining": t.Quantity})
	m.record(ctx, t, domain.EventPartialExit, fmt.Sprintf("sold %v at %v, %v remaining", res.FilledQuantity, res.AvgFillPrice, t.Quantity))
	return res.FilledQuantity, nil
}

func (m *Manager) exitIntent(t *domain.Trade, qty float64) domain.OrderIntent {
	return domain.OrderIntent{
		Symbol:        t.Symbol,
		Side:          t.Side.Opposite(),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: domain.NewClientOrderID(),
		ReduceOnly:    true,
	}
}

// applyFill books an exit fill against the trade.
func (m *Manager) applyFill(t *domain.Trade, res *domain.OrderResult, info *domain.SymbolInfo) {
	pnl := t.PNLFor(res.FilledQuantity, res.AvgFillPrice)
	if res.CommissionAsset == "" || res.CommissionAsset == info.QuoteAsset {
		pnl -= res.Commission
	}
	t.RealizedPNL += pnl
	t.Quantity -= res.FilledQuantity
	if t.Quantity < 0 {
		t.Quantity = 0
	}
}

func (m *Manager) finish(ctx context.Context, t *domain.Trade, reason domain.ExitReason, price float64, at time.Time) {
	if at.IsZero() {
		at = m.now()
	}
	t.Status = domain.TradeStatusClosed
	t.ExitPrice = price
	t.ExitTime = at.UTC()
	t.ExitReason = reason
	t.Quantity = 0
	t.CloseFailures = 0
	t.RealizedPNL -= t.EntryCommission
	metrics.TradeCloses.WithLabelValues(string(reason)).Inc()
	m.logger.Info(ctx, "Trade closed", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "reason": string(reason), "exitPrice": price, "pnl": t.RealizedPNL})
	m.record(ctx, t, domain.EventTradeClosed, fmt.Sprintf("%s at %v, pnl %.2f", reason, price, t.RealizedPNL))
}

func (m *Manager) persistClosed(ctx context.Context, t *domain.Trade) error {
	if err := m.trades.UpdateTrade(ctx, t); err != nil {
		// The position is flat on the backend; the stored row must follow.
		m.logger.Error(ctx, err, "Failed to persist closed trade", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol})
		return fmt.Errorf("persist closed trade %d: %w", t.ID, err)
	}
	return nil
}

// closeFailed counts the failure on the trade without touching its phase or
// levels, and escalates once the count reaches the alert threshold.
func (m *Manager) closeFailed(ctx context.Context, t *domain.Trade, reason domain.ExitReason, cause error) error {
	t.CloseFailures++
	metrics.CloseFailures.WithLabelValues(t.Symbol).Inc()
	fields := map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "reason": string(reason), "failures": t.CloseFailures}
	m.logger.Warn(ctx, "Closing order failed, will retry next cycle", fields)
	m.record(ctx, t, domain.EventCloseFailed, fmt.Sprintf("%s exit failed (%d): %v", reason, t.CloseFailures, cause))

	if t.CloseFailures == m.alertThreshold {
		metrics.CloseFailureAlerts.WithLabelValues(t.Symbol).Inc()
		m.logger.Error(ctx, cause, "Repeated close failures on open trade", fields)
		m.record(ctx, t, domain.EventCloseFailureAlert, fmt.Sprintf("%d consecutive %s exit failures: %v", t.CloseFailures, reason, cause))
	}
	if err := m.trades.UpdateTrade(ctx, t); err != nil {
		m.logger.Error(ctx, err, "Failed to persist close failure count", map[string]interface{}{"tradeID": t.ID})
	}
	return cause
}

func (m *Manager) invariantViolation(ctx context.Context, t *domain.Trade, err error) {
	if !errors.Is(err, ports.ErrPhaseRegression) && !errors.Is(err, ports.ErrStopRetreat) {
		return
	}
	m.logger.Error(ctx, err, "Lifecycle invariant violated", map[string]interface{}{"tradeID": t.ID, "symbol": t.Symbol, "phase": string(t.Phase), "stopLoss": t.StopLossPrice})
	m.record(ctx, t, domain.EventInvariantViolation, err.Error())
}

func (m *Manager) record(ctx context.Context, t *domain.Trade, kind domain.TradeEventKind, msg string) {
	if m.events == nil {
		return
	}
	e := &domain.TradeEvent{UserID: t.UserID, TradeID: t.ID, Symbol: t.Symbol, Kind: kind, Message: msg, CreatedAt: m.now().UTC()}
	if err := m.events.SaveEvent(ctx, e); err != nil {
		m.logger.Error(ctx, err, "Failed to record trade event", map[string]interface{}{"tradeID": t.ID, "kind": string(kind)})
	}
}
