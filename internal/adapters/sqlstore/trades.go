package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

const tradeColumns = `id, user_id, strategy, symbol, side, status, entry_order_id, entry_price, initial_quantity, quantity,
	stop_loss_price, take_profit_1, take_profit_2, trade_phase, tp1_partial_executed, pnl, entry_commission,
	entry_time, exit_price, exit_time, exit_reason, close_failures, updated_at`

// CreateTrade saves a new open trade and returns its assigned ID. The partial
// unique index on open trades turns a second open for the same slot into
// ErrDuplicatePosition.
func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (user_id, strategy, symbol, side, status, entry_order_id, entry_price, initial_quantity, quantity,
	                    stop_loss_price, take_profit_1, take_profit_2, trade_phase, tp1_partial_executed, pnl,
	                    entry_commission, entry_time, exit_price, exit_time, exit_reason, close_failures, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id`

	if t.Status == "" {
		t.Status = domain.TradeStatusOpen
	}
	if t.Phase == "" {
		t.Phase = domain.PhasePending
	}
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(query),
		t.UserID, t.Strategy, t.Symbol, string(t.Side), string(t.Status), t.EntryOrderID, t.EntryPrice, t.InitialQuantity, t.Quantity,
		t.StopLossPrice, t.TakeProfit1, t.TakeProfit2, string(t.Phase), t.TP1PartialExecuted, t.RealizedPNL,
		t.EntryCommission, t.EntryTime.UTC(), t.ExitPrice, nullTime(t.ExitTime), string(t.ExitReason), t.CloseFailures, now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("open trade exists for user %d %s/%s: %w", t.UserID, t.Symbol, t.Strategy, ports.ErrDuplicatePosition)
		}
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w: %w", t.Symbol, ports.ErrQueryFailed, err)
	}
	t.ID = id // Update the domain object with the ID
	t.UpdatedAt = now
	s.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "userID": t.UserID, "symbol": t.Symbol})
	return id, nil
}

// UpdateTrade persists the mutable fields of a trade.
func (s *Store) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET status = ?, quantity = ?, stop_loss_price = ?, take_profit_1 = ?, take_profit_2 = ?, trade_phase = ?,
	    tp1_partial_executed = ?, pnl = ?, exit_price = ?, exit_time = ?, exit_reason = ?, close_failures = ?,
	    updated_at = ?
	WHERE id = ?`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.rebind(query),
		string(t.Status), t.Quantity, t.StopLossPrice, t.TakeProfit1, t.TakeProfit2, string(t.Phase),
		t.TP1PartialExecuted, t.RealizedPNL, t.ExitPrice, nullTime(t.ExitTime), string(t.ExitReason), t.CloseFailures,
		now, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w: %w", t.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrNotFound)
	}
	t.UpdatedAt = now
	s.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": t.ID, "status": t.Status, "phase": t.Phase})
	return nil
}

// FindByID retrieves a trade by its unique ID.
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	t, err := scanTrade(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	return t, nil
}

// FindOpen retrieves the open trade for (user, symbol, strategy), if any.
func (s *Store) FindOpen(ctx context.Context, userID int64, symbol, strategy string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ? AND symbol = ? AND strategy = ? AND status = ?`
	t, err := scanTrade(s.db.QueryRowContext(ctx, s.rebind(query), userID, symbol, strategy, string(domain.TradeStatusOpen)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open trade for %s: %w", symbol, err)
	}
	return t, nil
}

// ListOpenByUser returns the user's open trades, oldest first.
func (s *Store) ListOpenByUser(ctx context.Context, userID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ? AND status = ? ORDER BY entry_time ASC, id ASC`
	return s.listTrades(ctx, "ListOpenByUser", query, userID, string(domain.TradeStatusOpen))
}

// ListClosedByUser returns the user's closed trades in exit order.
func (s *Store) ListClosedByUser(ctx context.Context, userID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = ? AND status = ? ORDER BY exit_time ASC, id ASC`
	return s.listTrades(ctx, "ListClosedByUser", query, userID, string(domain.TradeStatusClosed))
}

func (s *Store) listTrades(ctx context.Context, op, query string, userID int64, status string) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s trades for user %d: %w", strings.ToLower(status), userID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during %s: %w", op, err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// RealizedPNLSince sums the realized PnL of trades closed at or after since.
func (s *Store) RealizedPNLSince(ctx context.Context, userID int64, since time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE user_id = ? AND status = ? AND exit_time >= ?`
	var total float64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, string(domain.TradeStatusClosed), since.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized PnL for user %d: %w", userID, err)
	}
	return total, nil
}

// ClosedTradeStats summarizes the last limit closed trades.
func (s *Store) ClosedTradeStats(ctx context.Context, userID int64, limit int) (*domain.TradeStats, error) {
	const query = `SELECT pnl FROM trades WHERE user_id = ? AND status = ? ORDER BY exit_time DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, string(domain.TradeStatusClosed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades for user %d: %w", userID, err)
	}
	defer rows.Close()

	stats := &domain.TradeStats{}
	var winSum, lossSum float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("failed to scan pnl: %w", err)
		}
		switch {
		case pnl > 0:
			stats.Wins++
			winSum += pnl
		case pnl < 0:
			stats.Losses++
			lossSum += math.Abs(pnl)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pnl rows: %w", err)
	}
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = lossSum / float64(stats.Losses)
	}
	return stats, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(sc scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status, phase, exitReason string
	var exitTime sql.NullTime
	err := sc.Scan(
		&t.ID, &t.UserID, &t.Strategy, &t.Symbol, &side, &status, &t.EntryOrderID, &t.EntryPrice, &t.InitialQuantity,
		&t.Quantity, &t.StopLossPrice, &t.TakeProfit1, &t.TakeProfit2, &phase, &t.TP1PartialExecuted, &t.RealizedPNL,
		&t.EntryCommission, &t.EntryTime, &t.ExitPrice, &exitTime, &exitReason, &t.CloseFailures, &t.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	t.Phase = domain.TradePhase(phase)
	t.ExitReason = domain.ExitReason(exitReason)
	if exitTime.Valid {
		t.ExitTime = exitTime.Time
	}
	return t, nil
}
