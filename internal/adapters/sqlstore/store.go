package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"cryptoExecCore/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dialect selects SQL differences between the supported databases.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Store implements the repository ports on SQLite or PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  ports.Logger
}

// Config holds configuration for the SQL store.
type Config struct {
	Driver string // "sqlite3" (default) or "postgres"
	DSN    string // PostgreSQL connection string
	DBPath string // SQLite database file
	Logger ports.Logger
}

// NewStore opens the database and creates the schema if needed.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQL store")
	}
	ctx := context.Background()
	dialect := Dialect(strings.ToLower(cfg.Driver))
	if dialect == "" {
		dialect = DialectSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		dbPath := cfg.DBPath
		if dbPath == "" {
			dbPath = "./data/exec_core.db" // Default path
		}
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(ctx, err, "SQL store initialization failed")
			return nil, err
		}
		db, err = sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on") // WAL mode for better concurrency
		if err == nil {
			// SQLite handles concurrency internally, but Go driver benefits from limiting connections
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("DSN is required for postgres: %w", ports.ErrConfigurationError)
		}
		db, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q: %w", cfg.Driver, ports.ErrConfigurationError)
	}
	if err != nil {
		err = fmt.Errorf("failed to open %s database: %w: %w", dialect, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQL store initialization failed")
		return nil, err
	}
	db.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping %s database: %w: %w", dialect, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQL store initialization failed")
		return nil, err
	}

	s := &Store{db: db, dialect: dialect, logger: cfg.Logger}
	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQL store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Database schema initialized/verified", map[string]interface{}{"driver": string(dialect)})
	return s, nil
}

// NewWithDB wraps an already open database without touching the schema.
func NewWithDB(db *sql.DB, dialect Dialect, logger ports.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logger}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing database connection")
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// isUniqueViolation reports whether err is a unique constraint failure on either database.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
