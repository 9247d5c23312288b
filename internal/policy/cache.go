package policy

import (
	"sync"
	"time"

	"github.com/dotcommander/exceptd/internal/models"
)

// cacheEntry is one tenant's cached resolution state. A nil pack is a
// Fresh-Miss: a prior lookup established "no ACTIVE pack" and that answer
// is served until the (short) TTL expires or the entry is invalidated.
type cacheEntry struct {
	pack      *models.TenantPolicyPack
	expiresAt time.Time
}

// tenantCache is the shared policy cache keyed by tenant. It is one
// structure shared by every resolution unit in the process — never held
// privately per worker — so an activation observed by one worker is
// observed by all. Expired entries are evicted lazily on read.
type tenantCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newTenantCache() *tenantCache {
	return &tenantCache{entries: make(map[string]cacheEntry)}
}

// get returns the cached entry for tenant. found=false means Cold: either
// no entry exists or its TTL expired.
func (c *tenantCache) get(tenantID string) (pack *models.TenantPolicyPack, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tenantID]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, tenantID)
		return nil, false
	}
	return e.pack, true
}

// put caches a lookup result. pack=nil records a miss.
func (c *tenantCache) put(tenantID string, pack *models.TenantPolicyPack, ttl time.Duration) {
	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{pack: pack, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// invalidate evicts one tenant's entry. Fired on pack activation and
// deactivation so the very next resolution goes Cold instead of waiting
// out the TTL.
func (c *tenantCache) invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

// size returns the number of cached tenants, expired entries included.
func (c *tenantCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
