package sqlstore

import (
	"context"
	"fmt"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// SaveCandles upserts candles keyed by (symbol, interval, open time).
func (s *Store) SaveCandles(ctx context.Context, klines []*domain.Kline) error {
	const query = `
	INSERT INTO candles (symbol, kline_interval, open_time, close_time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, kline_interval, open_time) DO UPDATE SET
		close_time = excluded.close_time, open = excluded.open, high = excluded.high,
		low = excluded.low, close = excluded.close, volume = excluded.volume`
	if len(klines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, k := range klines {
		if _, err := stmt.ExecContext(ctx, k.Symbol, k.Interval, k.OpenTime.UnixMilli(), k.CloseTime.UnixMilli(),
			k.Open, k.High, k.Low, k.Close, k.Volume); err != nil {
			return fmt.Errorf("failed to insert candle %s %s %s: %w: %w", k.Symbol, k.Interval, k.OpenTime.Format(time.RFC3339), ports.ErrQueryFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candles: %w", err)
	}
	s.logger.Debug(ctx, "Candles stored", map[string]interface{}{"count": len(klines), "symbol": klines[0].Symbol})
	return nil
}

// LoadCandles returns stored candles with open time in [from, to], oldest first.
func (s *Store) LoadCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Kline, error) {
	const query = `
	SELECT open_time, close_time, open, high, low, close, volume
	FROM candles
	WHERE symbol = ? AND kline_interval = ? AND open_time >= ? AND open_time <= ?
	ORDER BY open_time ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), symbol, interval, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	klines := make([]*domain.Kline, 0)
	for rows.Next() {
		k := &domain.Kline{Symbol: symbol, Interval: interval, IsFinal: true}
		var openMs, closeMs int64
		if err := rows.Scan(&openMs, &closeMs, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		k.OpenTime = time.UnixMilli(openMs).UTC()
		k.CloseTime = time.UnixMilli(closeMs).UTC()
		klines = append(klines, k)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candle rows: %w", err)
	}
	return klines, nil
}
