package policy

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/store"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func activePackWithRule(t *testing.T, db *sql.DB, tenant, typeCode, value string) *models.TenantPolicyPack {
	t.Helper()
	pack, err := store.CreatePolicyPack(db, tenant)
	require.NoError(t, err)
	require.NoError(t, store.AddPolicyRule(db, pack.ID, models.PolicyOverrideRule{
		TypeCode: typeCode, Field: models.OverrideFieldSeverity, Value: value,
	}))
	_, err = store.ActivatePolicyPack(db, pack.ID)
	require.NoError(t, err)
	return pack
}

func TestResolveNoActivePack(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Minute, time.Minute)

	res := r.Resolve(context.Background(), "acme", "FIN_SETTLEMENT_FAIL", models.SeverityHigh)
	require.Equal(t, models.SeverityHigh, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
	require.Empty(t, res.PackID)

	// The miss is cached.
	require.Equal(t, 1, r.CachedTenants())
}

func TestResolveOverride(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Minute, time.Minute)

	pack := activePackWithRule(t, db, "acme", "FIN_SETTLEMENT_FAIL", "LOW")

	res := r.Resolve(context.Background(), "acme", "FIN_SETTLEMENT_FAIL", models.SeverityHigh)
	require.Equal(t, models.SeverityLow, res.Severity)
	require.Equal(t, models.SeveritySourcePolicyOverride, res.Source)
	require.Equal(t, pack.ID, res.PackID)
	require.Equal(t, 1, res.PackVersion)

	// Unlisted code: policy is intentionally silent, catalog default stands.
	res = r.Resolve(context.Background(), "acme", "OTHER_CODE", models.SeverityMedium)
	require.Equal(t, models.SeverityMedium, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
}

// Activation through the resolver evicts the tenant's entry, so the very
// next resolution reflects the new pack with no TTL wait.
func TestActivationInvalidatesCache(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)

	// Warm the cache with a miss: the tenant has no pack yet.
	res := r.Resolve(context.Background(), "acme", "X", models.SeverityHigh)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)

	pack, err := store.CreatePolicyPack(db, "acme")
	require.NoError(t, err)
	require.NoError(t, store.AddPolicyRule(db, pack.ID, models.PolicyOverrideRule{
		TypeCode: "X", Field: models.OverrideFieldSeverity, Value: "CRITICAL",
	}))

	tenant, err := r.Activate(pack.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", tenant)

	res = r.Resolve(context.Background(), "acme", "X", models.SeverityHigh)
	require.Equal(t, models.SeverityCritical, res.Severity)
	require.Equal(t, models.SeveritySourcePolicyOverride, res.Source)
}

func TestDeactivationInvalidatesCache(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)

	pack := activePackWithRule(t, db, "acme", "X", "LOW")

	res := r.Resolve(context.Background(), "acme", "X", models.SeverityHigh)
	require.Equal(t, models.SeverityLow, res.Severity)

	_, err := r.Deactivate(pack.ID)
	require.NoError(t, err)

	res = r.Resolve(context.Background(), "acme", "X", models.SeverityHigh)
	require.Equal(t, models.SeverityHigh, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
}

// A DRAFT pack carrying an invalid stored value is ignored with a warning;
// resolution falls back to the catalog default rather than failing intake.
func TestResolveInvalidOverrideValueIgnored(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)

	pack, err := store.CreatePolicyPack(db, "acme")
	require.NoError(t, err)
	// Bypass AddPolicyRule validation to simulate corrupted stored state.
	_, err = db.Exec(`INSERT INTO policy_rules (pack_id, type_code, field, value) VALUES (?, ?, ?, ?)`,
		pack.ID, "X", models.OverrideFieldSeverity, "SHRUG")
	require.NoError(t, err)
	_, err = store.ActivatePolicyPack(db, pack.ID)
	require.NoError(t, err)

	res := r.Resolve(context.Background(), "acme", "X", models.SeverityMedium)
	require.Equal(t, models.SeverityMedium, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
}

// Storage failure on a Cold lookup degrades to the catalog default instead
// of blocking ingestion.
func TestResolveStorageFailureFallsBack(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)
	require.NoError(t, db.Close())

	res := r.Resolve(context.Background(), "acme", "X", models.SeverityHigh)
	require.Equal(t, models.SeverityHigh, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
}

func TestResolveCanceledContextFallsBack(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Resolve(ctx, "acme", "X", models.SeverityLow)
	require.Equal(t, models.SeverityLow, res.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, res.Source)
}

func TestInvalidate(t *testing.T) {
	db := testDB(t)
	r := NewResolver(db, time.Hour, time.Hour)

	r.Resolve(context.Background(), "acme", "X", models.SeverityLow)
	require.Equal(t, 1, r.CachedTenants())

	r.Invalidate("acme")
	require.Zero(t, r.CachedTenants())
}
