package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

func TestTenantCacheStates(t *testing.T) {
	c := newTenantCache()

	// Cold: nothing cached.
	_, found := c.get("acme")
	require.False(t, found)

	// Fresh-Hit.
	pack := &models.TenantPolicyPack{ID: "pack_1", TenantID: "acme"}
	c.put("acme", pack, time.Hour)
	got, found := c.get("acme")
	require.True(t, found)
	require.Equal(t, "pack_1", got.ID)

	// Fresh-Miss: nil pack with found=true is a cached "no active pack".
	c.put("globex", nil, time.Hour)
	got, found = c.get("globex")
	require.True(t, found)
	require.Nil(t, got)
}

func TestTenantCacheTTLExpiry(t *testing.T) {
	c := newTenantCache()
	c.put("acme", &models.TenantPolicyPack{ID: "pack_1"}, time.Nanosecond)

	time.Sleep(time.Millisecond)
	_, found := c.get("acme")
	require.False(t, found)
	// Lazy eviction removed the entry.
	require.Zero(t, c.size())
}

func TestTenantCacheInvalidate(t *testing.T) {
	c := newTenantCache()
	c.put("acme", &models.TenantPolicyPack{ID: "pack_1"}, time.Hour)
	c.put("globex", &models.TenantPolicyPack{ID: "pack_2"}, time.Hour)

	c.invalidate("acme")

	_, found := c.get("acme")
	require.False(t, found)
	_, found = c.get("globex")
	require.True(t, found)
}
