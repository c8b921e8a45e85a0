package lifecycle

import (
	"fmt"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// Plan is what one price tick requires of an open trade. A plan that closes
// the trade carries no other change.
type Plan struct {
	Close       bool
	CloseReason domain.ExitReason

	PartialClose bool
	PartialQty   float64 // Unrounded TP1 exit quantity

	Phase    domain.TradePhase
	StopLoss float64
	Advanced []domain.TradePhase // Phases entered on this tick, in order
}

// Changed reports whether the plan moves the stop or the phase.
func (p Plan) Changed(t *domain.Trade) bool {
	return p.Phase != t.Phase || p.StopLoss != t.StopLossPrice
}

// Evaluate decides the next step of t at price. It checks, in order, a stop
// touch, a TP2 touch and a TP1 touch, then advances the phase and ratchets
// the trailing stop. It never mutates t.
func Evaluate(p Profile, t *domain.Trade, price float64) (Plan, error) {
	if t == nil || !t.IsOpen() {
		return Plan{}, fmt.Errorf("trade is not open: %w", ports.ErrInvalidRequest)
	}
	if price <= 0 {
		return Plan{}, fmt.Errorf("price must be positive, got %v: %w", price, ports.ErrInvalidRequest)
	}
	if t.Phase.Rank() < 0 {
		return Plan{}, fmt.Errorf("trade %d has unknown phase %q: %w", t.ID, t.Phase, ports.ErrPhaseRegression)
	}
	long := t.IsLong()

	plan := Plan{Phase: t.Phase, StopLoss: t.StopLossPrice}

	if touched(long, price, t.StopLossPrice, false) {
		plan.Close = true
		plan.CloseReason = stopReason(t)
		return plan, nil
	}
	if t.TakeProfit2 > 0 && touched(long, price, t.TakeProfit2, true) {
		plan.Close = true
		plan.CloseReason = domain.ExitReasonTakeProfit2
		return plan, nil
	}
	if !t.TP1PartialExecuted && t.TakeProfit1 > 0 && touched(long, price, t.TakeProfit1, true) {
		plan.PartialClose = true
		plan.PartialQty = t.Quantity * p.TP1ExitPct
	}

	gain := t.UnrealizedGainPct(price)
	if plan.Phase == domain.PhasePending && gain >= p.ValidationPct {
		plan.Phase = domain.PhaseValidated
		plan.Advanced = append(plan.Advanced, domain.PhaseValidated)
		if p.BreakevenOnValidation {
			plan.StopLoss = ratchet(long, plan.StopLoss, t.EntryPrice)
		}
	}
	if plan.Phase == domain.PhaseValidated && p.TrailingEnabled && gain >= p.TrailingActivationPct {
		plan.Phase = domain.PhaseTrailing
		plan.Advanced = append(plan.Advanced, domain.PhaseTrailing)
	}
	if plan.Phase == domain.PhaseTrailing && p.TrailingDistancePct > 0 {
		var candidate float64
		if long {
			candidate = price * (1 - p.TrailingDistancePct)
		} else {
			candidate = price * (1 + p.TrailingDistancePct)
		}
		plan.StopLoss = ratchet(long, plan.StopLoss, candidate)
	}
	return plan, nil
}

// CheckTransition fails when moving from before to the plan would regress the
// phase or move the stop against the trade.
func CheckTransition(t *domain.Trade, plan Plan) error {
	if plan.Phase != t.Phase && !t.Phase.CanAdvanceTo(plan.Phase) {
		return fmt.Errorf("trade %d: phase %s -> %s: %w", t.ID, t.Phase, plan.Phase, ports.ErrPhaseRegression)
	}
	if (t.IsLong() && plan.StopLoss < t.StopLossPrice) || (!t.IsLong() && plan.StopLoss > t.StopLossPrice) {
		return fmt.Errorf("trade %d: stop %v -> %v: %w", t.ID, t.StopLossPrice, plan.StopLoss, ports.ErrStopRetreat)
	}
	return nil
}

// ratchet moves stop toward candidate only in the trade's favor.
func ratchet(long bool, stop, candidate float64) float64 {
	if long {
		if candidate > stop {
			return candidate
		}
		return stop
	}
	if stop == 0 || candidate < stop {
		return candidate
	}
	return stop
}

// touched reports whether price reached level. Profit levels are above entry
// for a long, stops below; both mirror for a short.
func touched(long bool, price, level float64, profit bool) bool {
	if level <= 0 {
		return false
	}
	if long == profit {
		return price >= level
	}
	return price <= level
}

func stopReason(t *domain.Trade) domain.ExitReason {
	switch {
	case t.Phase == domain.PhaseTrailing:
		return domain.ExitReasonTrailingStop
	case t.Phase == domain.PhaseValidated && ((t.IsLong() && t.StopLossPrice >= t.EntryPrice) || (!t.IsLong() && t.StopLossPrice <= t.EntryPrice)):
		return domain.ExitReasonBreakeven
	default:
		return domain.ExitReasonStopLoss
	}
}
