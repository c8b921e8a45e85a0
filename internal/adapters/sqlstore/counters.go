package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cryptoExecCore/internal/ports"
)

// GetDailyCount returns the placements recorded for the UTC date of day.
func (s *Store) GetDailyCount(ctx context.Context, userID int64, day time.Time) (int, error) {
	const query = `SELECT count FROM daily_trade_counts WHERE user_id = ? AND day = ?`
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, dayKey(day)).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily trade count for user %d: %w: %w", userID, ports.ErrQueryFailed, err)
	}
	return count, nil
}

// IncrementDailyCount records one placement and returns the new count.
func (s *Store) IncrementDailyCount(ctx context.Context, userID int64, day time.Time) (int, error) {
	const query = `
	INSERT INTO daily_trade_counts (user_id, day, count) VALUES (?, ?, 1)
	ON CONFLICT (user_id, day) DO UPDATE SET count = daily_trade_counts.count + 1
	RETURNING count`
	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), userID, dayKey(day)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment daily trade count for user %d: %w: %w", userID, ports.ErrUpdateFailed, err)
	}
	return count, nil
}

// GetPeakEquity returns the recorded peak equity, 0 if none.
func (s *Store) GetPeakEquity(ctx context.Context, userID int64) (float64, error) {
	const query = `SELECT peak_equity FROM risk_state WHERE user_id = ?`
	var peak float64
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(&peak)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read peak equity for user %d: %w: %w", userID, ports.ErrQueryFailed, err)
	}
	return peak, nil
}

// SavePeakEquity raises the stored peak; a lower value is ignored.
func (s *Store) SavePeakEquity(ctx context.Context, userID int64, peak float64) error {
	const query = `
	INSERT INTO risk_state (user_id, peak_equity, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET peak_equity = excluded.peak_equity, updated_at = excluded.updated_at
	WHERE excluded.peak_equity > risk_state.peak_equity`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), userID, peak, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save peak equity for user %d: %w: %w", userID, ports.ErrUpdateFailed, err)
	}
	return nil
}
