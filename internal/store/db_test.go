package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSQLiteDSN(t *testing.T) {
	require.Equal(t, "file:/tmp/x.db?mode=rwc", normalizeSQLiteDSN("/tmp/x.db"))
	require.Equal(t, "file::memory:?cache=shared", normalizeSQLiteDSN(":memory:"))
	// Explicit DSNs pass through untouched.
	require.Equal(t, "file:/tmp/x.db?mode=ro", normalizeSQLiteDSN("file:/tmp/x.db?mode=ro"))
}

func TestInitAppliesAllMigrations(t *testing.T) {
	db := testDB(t)

	current, latest, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, latest, current)
	require.Positive(t, latest)
}

// WAL mode and foreign keys are in effect on the open connection.
func TestInitPragmas(t *testing.T) {
	db := testDB(t)

	var journal string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&journal))
	require.Equal(t, "wal", journal)

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	require.Equal(t, 1, fk)
}
