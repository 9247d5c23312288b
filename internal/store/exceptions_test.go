package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

func TestCreateExceptionIdempotent(t *testing.T) {
	db := testDB(t)

	ev := testEvent("evt-1", "acme", ": fin_settlement_fail")
	exc, replayed, err := CreateExceptionIdempotent(db, ev, "FIN_SETTLEMENT_FAIL", models.SeverityHigh)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, "evt-1", exc.EventID)
	require.Equal(t, "acme", exc.TenantID)
	require.Equal(t, "FIN_SETTLEMENT_FAIL", exc.TypeCode)
	require.Equal(t, ": fin_settlement_fail", exc.RawType)
	require.Equal(t, models.SeverityHigh, exc.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, exc.SeveritySource)
	require.Equal(t, models.ExceptionStatusOpen, exc.Status)
}

// Redelivering the same event any number of times yields exactly one row and
// replays the original record.
func TestCreateExceptionRedelivery(t *testing.T) {
	db := testDB(t)

	ev := testEvent("evt-dup", "acme", "fin_settlement_fail")
	first, replayed, err := CreateExceptionIdempotent(db, ev, "FIN_SETTLEMENT_FAIL", models.SeverityHigh)
	require.NoError(t, err)
	require.False(t, replayed)

	for i := 0; i < 3; i++ {
		again, replayed, err := CreateExceptionIdempotent(db, ev, "FIN_SETTLEMENT_FAIL", models.SeverityHigh)
		require.NoError(t, err)
		require.True(t, replayed)
		require.Equal(t, first.ID, again.ID)
	}

	count, err := CountExceptions(db, "acme")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestCreateExceptionValidation(t *testing.T) {
	db := testDB(t)

	_, _, err := CreateExceptionIdempotent(db, testEvent("", "acme", "x"), "X", models.SeverityLow)
	require.Error(t, err)

	_, _, err = CreateExceptionIdempotent(db, testEvent("e1", "", "x"), "X", models.SeverityLow)
	require.Error(t, err)

	_, _, err = CreateExceptionIdempotent(db, testEvent("e1", "acme", "x"), "", models.SeverityLow)
	require.Error(t, err)

	_, _, err = CreateExceptionIdempotent(db, testEvent("e1", "acme", "x"), "X", models.Severity("SHRUG"))
	require.Error(t, err)
}

func TestGetExceptionNotFound(t *testing.T) {
	db := testDB(t)

	_, err := GetException(db, "exc_missing")
	require.ErrorIs(t, err, ErrExceptionNotFound)

	_, err = GetExceptionByEventID(db, "evt-missing")
	require.ErrorIs(t, err, ErrExceptionNotFound)
}

func TestApplySeverityOverride(t *testing.T) {
	db := testDB(t)

	exc, _, err := CreateExceptionIdempotent(db, testEvent("evt-ovr", "acme", "x"), "X", models.SeverityMedium)
	require.NoError(t, err)

	require.NoError(t, ApplySeverityOverride(db, exc.ID, models.SeverityLow, 2))

	got, err := GetException(db, exc.ID)
	require.NoError(t, err)
	require.Equal(t, models.SeverityLow, got.Severity)
	require.Equal(t, models.SeveritySourcePolicyOverride, got.SeveritySource)

	events, err := ListAudit(db, ListAuditParams{Kind: models.AuditKindSeverityOverridden})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, exc.ID, events[0].ExceptionID)
}

func TestApplySeverityOverrideMissingException(t *testing.T) {
	db := testDB(t)
	err := ApplySeverityOverride(db, "exc_missing", models.SeverityLow, 1)
	require.ErrorIs(t, err, ErrExceptionNotFound)
}

func TestAssignPlaybook(t *testing.T) {
	db := testDB(t)

	exc, _, err := CreateExceptionIdempotent(db, testEvent("evt-pb", "acme", "x"), "X", models.SeverityMedium)
	require.NoError(t, err)

	pb, err := CreatePlaybook(db, "core", "acme", "X", "Handle X")
	require.NoError(t, err)

	require.NoError(t, AssignPlaybook(db, exc.ID, pb.ID))

	got, err := GetException(db, exc.ID)
	require.NoError(t, err)
	require.Equal(t, pb.ID, got.PlaybookID)
	require.True(t, got.HasPlaybook())
}

func TestListExceptionsFilters(t *testing.T) {
	db := testDB(t)

	_, _, err := CreateExceptionIdempotent(db, testEvent("e1", "acme", "a"), "A", models.SeverityLow)
	require.NoError(t, err)
	_, _, err = CreateExceptionIdempotent(db, testEvent("e2", "acme", "b"), "B", models.SeverityLow)
	require.NoError(t, err)
	_, _, err = CreateExceptionIdempotent(db, testEvent("e3", "globex", "a"), "A", models.SeverityLow)
	require.NoError(t, err)

	all, err := ListExceptions(db, ListExceptionsParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	acme, err := ListExceptions(db, ListExceptionsParams{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, acme, 2)

	typeA, err := ListExceptions(db, ListExceptionsParams{TypeCode: "A"})
	require.NoError(t, err)
	require.Len(t, typeA, 2)

	both, err := ListExceptions(db, ListExceptionsParams{TenantID: "globex", TypeCode: "A"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	require.Equal(t, "e3", both[0].EventID)
}
