package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

func TestInsertAuditAndList(t *testing.T) {
	db := testDB(t)

	id, err := InsertAudit(db, models.AuditKindExceptionCreated, "acme", "exc_1", "exception created", `{"k":"v"}`)
	require.NoError(t, err)
	require.Positive(t, id)

	_, err = InsertAudit(db, models.AuditKindPackActivated, "globex", "", "pack activated", "")
	require.NoError(t, err)

	all, err := ListAudit(db, ListAuditParams{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	require.Equal(t, models.AuditKindPackActivated, all[0].Kind)

	byKind, err := ListAudit(db, ListAuditParams{Kind: models.AuditKindExceptionCreated})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	require.JSONEq(t, `{"k":"v"}`, string(byKind[0].Metadata))

	byTenant, err := ListAudit(db, ListAuditParams{TenantID: "globex"})
	require.NoError(t, err)
	require.Len(t, byTenant, 1)

	since, err := ListAudit(db, ListAuditParams{SinceID: id})
	require.NoError(t, err)
	require.Len(t, since, 1)
}

func TestAuditValidation(t *testing.T) {
	db := testDB(t)

	_, err := InsertAudit(db, "", "", "", "msg", "")
	require.Error(t, err)

	_, err = InsertAudit(db, "kind", "", "", "", "")
	require.Error(t, err)

	_, err = InsertAudit(db, "kind", "", "", "msg", "not json")
	require.Error(t, err)

	_, err = InsertAudit(db, strings.Repeat("k", MaxAuditKindLength+1), "", "", "msg", "")
	require.Error(t, err)

	_, err = InsertAudit(db, "kind", "", "", strings.Repeat("m", MaxAuditMessageLength+1), "")
	require.Error(t, err)
}
