package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"foodglow-backend/internal/logging"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:migrator_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrator_RunIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	m, err := NewMigrator(db, DialectSQLite, logging.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Run(ctx))
	require.NoError(t, m.Run(ctx))

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"trial_records", "accounts"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrator_CreditBalanceCannotGoNegative(t *testing.T) {
	db := openSQLite(t)
	m, err := NewMigrator(db, DialectSQLite, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	_, err = db.Exec(`INSERT INTO accounts (id, credit_balance, created_at, updated_at) VALUES ('neg', -1, 0, 0)`)
	assert.Error(t, err)
}

func TestNewMigrator_UnsupportedDialect(t *testing.T) {
	_, err := NewMigrator(nil, "mysql", nil)
	assert.ErrorContains(t, err, "unsupported migration dialect")
}
