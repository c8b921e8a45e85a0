package sqlstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/ports"
)

func TestRebind(t *testing.T) {
	pg := NewWithDB(nil, DialectPostgres, &mockLogger{})
	lite := NewWithDB(nil, DialectSQLite, &mockLogger{})

	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestPostgres_DuplicateOpenTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewWithDB(db, DialectPostgres, &mockLogger{})

	mock.ExpectQuery(`INSERT INTO trades .* VALUES \(\$1, \$2, .*\$22\) RETURNING id`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err = store.CreateTrade(context.Background(), openTrade(1, "BTCUSDT", "ma_cross"))
	assert.ErrorIs(t, err, ports.ErrDuplicatePosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IncrementDailyCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewWithDB(db, DialectPostgres, &mockLogger{})

	day := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO daily_trade_counts (user_id, day, count) VALUES ($1, $2, 1)")).
		WithArgs(int64(9), "2024-05-06").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.IncrementDailyCount(context.Background(), 9, day)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryFailureWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewWithDB(db, DialectPostgres, &mockLogger{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM daily_trade_counts WHERE user_id = $1 AND day = $2")).
		WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection"})

	_, err = store.GetDailyCount(context.Background(), 1, time.Now())
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
