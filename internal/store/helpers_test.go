package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

// testDB opens a migrated database in a per-test temp dir. A file-backed DB
// (rather than :memory:) keeps tests honest about WAL mode and the
// single-connection pool.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEvent(eventID, tenantID, rawType string) models.IngestionEvent {
	return models.IngestionEvent{
		EventID:    eventID,
		TenantID:   tenantID,
		RawType:    rawType,
		Payload:    []byte(`{"amount":100}`),
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}
