// Package policy resolves tenant policy-pack overrides for exceptions,
// backed by a shared, invalidatable per-tenant cache.
package policy

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/store"
)

// Resolution is the outcome of resolving (tenant, type_code).
type Resolution struct {
	Severity    models.Severity        `json:"severity"`
	Source      models.SeveritySource  `json:"source"`
	PackID      string                 `json:"pack_id,omitempty"`
	PackVersion int                    `json:"pack_version,omitempty"`
}

// Resolver loads the tenant's ACTIVE policy pack through a shared cache
// with three states per tenant:
//
//	Fresh-Hit  — ACTIVE pack cached within TTL, served from cache
//	Fresh-Miss — "no ACTIVE pack" cached with a short TTL
//	Cold       — no entry or TTL expired; a storage lookup runs, collapsed
//	             across concurrent callers by singleflight
//
// Activation and deactivation route through the Resolver so the tenant's
// entry is proactively evicted on the exact transition that invalidates it.
type Resolver struct {
	db      *sql.DB
	cache   *tenantCache
	hitTTL  time.Duration
	missTTL time.Duration
	group   singleflight.Group
}

// NewResolver builds a Resolver. hitTTL bounds staleness when an external
// writer bypasses this process; missTTL keeps "no pack" lookups from
// hammering storage.
func NewResolver(db *sql.DB, hitTTL, missTTL time.Duration) *Resolver {
	return &Resolver{
		db:      db,
		cache:   newTenantCache(),
		hitTTL:  hitTTL,
		missTTL: missTTL,
	}
}

// Resolve computes the severity for (tenant, type_code) given the catalog
// default. Storage unavailability on a Cold lookup degrades to the catalog
// default rather than blocking ingestion; the caller's ctx bounds the wait.
func (r *Resolver) Resolve(ctx context.Context, tenantID, typeCode string, defaultSeverity models.Severity) Resolution {
	fallback := Resolution{Severity: defaultSeverity, Source: models.SeveritySourceCatalogDefault}

	pack, err := r.activePack(ctx, tenantID)
	if err != nil {
		slog.Warn("policy lookup failed, using catalog default severity",
			"tenant", tenantID, "type_code", typeCode, "error", err.Error())
		return fallback
	}
	if pack == nil {
		// Policy intentionally silent: no ACTIVE pack for this tenant.
		return fallback
	}

	sev, ok := pack.SeverityOverride(typeCode)
	if !ok {
		return fallback
	}
	if !sev.Valid() {
		slog.Warn("policy pack carries invalid severity override, ignoring",
			"tenant", tenantID, "pack", pack.ID, "value", string(sev))
		return fallback
	}
	return Resolution{
		Severity:    sev,
		Source:      models.SeveritySourcePolicyOverride,
		PackID:      pack.ID,
		PackVersion: pack.Version,
	}
}

// activePack returns the tenant's ACTIVE pack, nil when there is none.
// Cache hits (including cached misses) never touch storage.
func (r *Resolver) activePack(ctx context.Context, tenantID string) (*models.TenantPolicyPack, error) {
	if pack, found := r.cache.get(tenantID); found {
		return pack, nil
	}

	// Cold: collapse concurrent lookups for the same tenant into one
	// storage read. DoChan keeps the caller's deadline in charge; a
	// caller that times out falls back while the flight completes and
	// warms the cache for the next event.
	ch := r.group.DoChan(tenantID, func() (any, error) {
		pack, err := store.GetActivePack(r.db, tenantID)
		if errors.Is(err, store.ErrNoActivePack) {
			r.cache.put(tenantID, nil, r.missTTL)
			return (*models.TenantPolicyPack)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		r.cache.put(tenantID, pack, r.hitTTL)
		return pack, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.TenantPolicyPack), nil
	}
}

// Invalidate evicts one tenant's cache entry.
func (r *Resolver) Invalidate(tenantID string) {
	r.cache.invalidate(tenantID)
}

// Activate transitions a pack to ACTIVE and evicts the tenant's cache
// entry, so the very next resolution observes the new pack.
func (r *Resolver) Activate(packID string) (tenantID string, err error) {
	tenantID, err = store.ActivatePolicyPack(r.db, packID)
	if err != nil {
		return "", err
	}
	r.cache.invalidate(tenantID)
	return tenantID, nil
}

// Deactivate transitions a pack to DEPRECATED and evicts the tenant's
// cache entry.
func (r *Resolver) Deactivate(packID string) (tenantID string, err error) {
	tenantID, err = store.DeactivatePolicyPack(r.db, packID)
	if err != nil {
		return "", err
	}
	r.cache.invalidate(tenantID)
	return tenantID, nil
}

// CachedTenants reports how many tenants currently have cache entries.
func (r *Resolver) CachedTenants() int {
	return r.cache.size()
}
