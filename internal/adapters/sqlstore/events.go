package sqlstore

import (
	"context"
	"fmt"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// SaveEvent records an account-visible trade event.
func (s *Store) SaveEvent(ctx context.Context, e *domain.TradeEvent) error {
	const query = `
	INSERT INTO trade_events (user_id, trade_id, symbol, kind, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	RETURNING id`
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.rebind(query),
		e.UserID, e.TradeID, e.Symbol, string(e.Kind), e.Message, e.CreatedAt.UTC()).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert trade event for user %d: %w: %w", e.UserID, ports.ErrQueryFailed, err)
	}
	return nil
}

// ListEvents returns the user's most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, userID int64, limit int) ([]*domain.TradeEvent, error) {
	const query = `
	SELECT id, user_id, trade_id, symbol, kind, message, created_at
	FROM trade_events WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for user %d: %w", userID, err)
	}
	defer rows.Close()

	events := make([]*domain.TradeEvent, 0)
	for rows.Next() {
		e := &domain.TradeEvent{}
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TradeID, &e.Symbol, &kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = domain.TradeEventKind(kind)
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
