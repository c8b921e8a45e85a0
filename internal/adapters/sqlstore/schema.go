package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Column types are written for SQLite and translated for PostgreSQL.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id {{PK}},
	user_id BIGINT NOT NULL,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL,
	entry_order_id TEXT NOT NULL DEFAULT '',
	entry_price {{REAL}} NOT NULL,
	initial_quantity {{REAL}} NOT NULL,
	quantity {{REAL}} NOT NULL,
	stop_loss_price {{REAL}} NOT NULL,
	take_profit_1 {{REAL}} NOT NULL,
	take_profit_2 {{REAL}} NOT NULL,
	trade_phase TEXT NOT NULL,
	tp1_partial_executed BOOLEAN NOT NULL DEFAULT FALSE,
	pnl {{REAL}} NOT NULL DEFAULT 0,
	entry_commission {{REAL}} NOT NULL DEFAULT 0,
	entry_time {{TS}} NOT NULL,
	exit_price {{REAL}} NOT NULL DEFAULT 0,
	exit_time {{TS}} NULL,
	exit_reason TEXT NOT NULL DEFAULT '',
	close_failures INTEGER NOT NULL DEFAULT 0,
	updated_at {{TS}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_trades_open_slot ON trades (user_id, symbol, strategy) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades (user_id, status);
CREATE INDEX IF NOT EXISTS idx_trades_user_exit_time ON trades (user_id, exit_time);

CREATE TABLE IF NOT EXISTS exchange_configs (
	id {{PK}},
	user_id BIGINT NOT NULL,
	exchange TEXT NOT NULL,
	api_key_enc TEXT NOT NULL DEFAULT '',
	api_secret_enc TEXT NOT NULL DEFAULT '',
	passphrase_enc TEXT NOT NULL DEFAULT '',
	paper_trading BOOLEAN NOT NULL DEFAULT TRUE,
	testnet BOOLEAN NOT NULL DEFAULT FALSE,
	max_trade_size {{REAL}} NOT NULL DEFAULT 0,
	max_daily_trades INTEGER NOT NULL DEFAULT 0,
	allowed_symbols TEXT NOT NULL DEFAULT '[]',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at {{TS}} NOT NULL,
	updated_at {{TS}} NOT NULL,
	UNIQUE (user_id, exchange)
);

CREATE TABLE IF NOT EXISTS daily_trade_counts (
	user_id BIGINT NOT NULL,
	day TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS risk_state (
	user_id BIGINT PRIMARY KEY,
	peak_equity {{REAL}} NOT NULL DEFAULT 0,
	updated_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	kline_interval TEXT NOT NULL,
	open_time BIGINT NOT NULL,
	close_time BIGINT NOT NULL,
	open {{REAL}} NOT NULL,
	high {{REAL}} NOT NULL,
	low {{REAL}} NOT NULL,
	close {{REAL}} NOT NULL,
	volume {{REAL}} NOT NULL,
	PRIMARY KEY (symbol, kline_interval, open_time)
);

CREATE TABLE IF NOT EXISTS trade_events (
	id {{PK}},
	user_id BIGINT NOT NULL,
	trade_id BIGINT NOT NULL DEFAULT 0,
	symbol TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at {{TS}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_events_user_created ON trade_events (user_id, created_at);
`

func (s *Store) schemaSQL() string {
	r := strings.NewReplacer(
		"{{PK}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{REAL}}", "REAL",
		"{{TS}}", "TIMESTAMP",
	)
	if s.dialect == DialectPostgres {
		r = strings.NewReplacer(
			"{{PK}}", "BIGSERIAL PRIMARY KEY",
			"{{REAL}}", "DOUBLE PRECISION",
			"{{TS}}", "TIMESTAMPTZ",
		)
	}
	return r.Replace(schema)
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schemaSQL(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
