package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err, "failed to create test database")

	err = db.RunMigrations(context.Background())
	require.NoError(t, err, "failed to run migrations")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestMigrations(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"polls", "poll_options", "vote_records"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err, "failed to query table %s", table)
		require.Equal(t, 1, count, "table %s not found", table)
	}

	require.NoError(t, db.RunMigrations(context.Background()), "migrations must be rerunnable")
}

func TestForeignKeys(t *testing.T) {
	db := NewTestDB(t)

	var enabled int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled)
	require.NoError(t, err)
	require.Equal(t, 1, enabled, "foreign keys not enabled")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	lite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}

	q := "UPDATE polls SET version = ? WHERE id = ? AND version = ?"
	require.Equal(t, q, lite.rebind(q))
	require.Equal(t, "UPDATE polls SET version = $1 WHERE id = $2 AND version = $3", pg.rebind(q))
}
