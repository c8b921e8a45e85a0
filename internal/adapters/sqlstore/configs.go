package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// FindActiveDefault returns the user's active default exchange config, or any
// active config when none is flagged default.
func (s *Store) FindActiveDefault(ctx context.Context, userID int64) (*domain.ExchangeConfig, error) {
	const query = `
	SELECT id, user_id, exchange, api_key_enc, api_secret_enc, passphrase_enc, paper_trading, testnet,
	       max_trade_size, max_daily_trades, allowed_symbols, is_active, is_default, created_at, updated_at
	FROM exchange_configs
	WHERE user_id = ? AND is_active = ?
	ORDER BY is_default DESC, updated_at DESC
	LIMIT 1`

	cfg, err := scanExchangeConfig(s.db.QueryRowContext(ctx, s.rebind(query), userID, true))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug(ctx, "No active exchange config", map[string]interface{}{"userID": userID})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query exchange config for user %d: %w", userID, err)
	}
	return cfg, nil
}

// Upsert creates or replaces the (user, exchange) config row. Setting
// IsDefault clears the flag on the user's other configs.
func (s *Store) Upsert(ctx context.Context, cfg *domain.ExchangeConfig) (int64, error) {
	const upsert = `
	INSERT INTO exchange_configs (user_id, exchange, api_key_enc, api_secret_enc, passphrase_enc, paper_trading, testnet,
	                              max_trade_size, max_daily_trades, allowed_symbols, is_active, is_default, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, exchange) DO UPDATE SET
		api_key_enc = excluded.api_key_enc,
		api_secret_enc = excluded.api_secret_enc,
		passphrase_enc = excluded.passphrase_enc,
		paper_trading = excluded.paper_trading,
		testnet = excluded.testnet,
		max_trade_size = excluded.max_trade_size,
		max_daily_trades = excluded.max_daily_trades,
		allowed_symbols = excluded.allowed_symbols,
		is_active = excluded.is_active,
		is_default = excluded.is_default,
		updated_at = excluded.updated_at
	RETURNING id`
	const clearDefault = `UPDATE exchange_configs SET is_default = ? WHERE user_id = ? AND exchange <> ?`

	symbols := cfg.AllowedSymbols
	if symbols == nil {
		symbols = []string{}
	}
	allowed, err := json.Marshal(symbols)
	if err != nil {
		return 0, fmt.Errorf("failed to encode allowed symbols: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(upsert),
		cfg.UserID, cfg.Exchange, cfg.EncryptedAPIKey, cfg.EncryptedAPISecret, cfg.EncryptedPassphrase, cfg.PaperTrading,
		cfg.Testnet, cfg.MaxTradeSize, cfg.MaxDailyTrades, string(allowed), cfg.IsActive, cfg.IsDefault,
		cfg.CreatedAt.UTC(), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert exchange config for user %d: %w: %w", cfg.UserID, ports.ErrQueryFailed, err)
	}
	if cfg.IsDefault {
		if _, err := tx.ExecContext(ctx, s.rebind(clearDefault), false, cfg.UserID, cfg.Exchange); err != nil {
			return 0, fmt.Errorf("failed to clear other default configs: %w: %w", ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit exchange config: %w", err)
	}
	cfg.ID = id
	cfg.UpdatedAt = now
	s.logger.Info(ctx, "Exchange config stored", map[string]interface{}{"userID": cfg.UserID, "exchange": cfg.Exchange, "paper": cfg.PaperTrading, "testnet": cfg.Testnet})
	return id, nil
}

func scanExchangeConfig(sc scanner) (*domain.ExchangeConfig, error) {
	cfg := &domain.ExchangeConfig{}
	var allowed string
	err := sc.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Exchange, &cfg.EncryptedAPIKey, &cfg.EncryptedAPISecret, &cfg.EncryptedPassphrase,
		&cfg.PaperTrading, &cfg.Testnet, &cfg.MaxTradeSize, &cfg.MaxDailyTrades, &allowed, &cfg.IsActive, &cfg.IsDefault,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if allowed != "" {
		if err := json.Unmarshal([]byte(allowed), &cfg.AllowedSymbols); err != nil {
			return nil, fmt.Errorf("failed to decode allowed symbols %q: %w", allowed, err)
		}
	}
	return cfg, nil
}
