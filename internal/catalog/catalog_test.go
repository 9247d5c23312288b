package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

const testCatalogYAML = `
unknown_severity: MEDIUM
entries:
  - raw: ": fin_settlement_fail"
    type_code: FIN_SETTLEMENT_FAIL
    default_severity: HIGH
  - type_code: OPS_QUEUE_STALL
    default_severity: LOW
`

func TestLoad(t *testing.T) {
	c, err := Load([]byte(testCatalogYAML))
	require.NoError(t, err)

	e, ok := c.Resolve("FIN_SETTLEMENT_FAIL")
	require.True(t, ok)
	require.Equal(t, models.SeverityHigh, e.DefaultSeverity)

	_, ok = c.Resolve("NO_SUCH_CODE")
	require.False(t, ok)

	require.Equal(t, models.SeverityMedium, c.UnknownSeverity())
}

func TestLoadRejectsInvalidSeverity(t *testing.T) {
	_, err := Load([]byte(`
entries:
  - type_code: BAD
    default_severity: SHRUG
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid default_severity")
}

func TestLoadRejectsMissingTypeCode(t *testing.T) {
	_, err := Load([]byte(`
entries:
  - raw: something
    default_severity: LOW
`))
	require.Error(t, err)
}

// Alias keys are stored normalized, so a lookup with the canonical form of
// the raw token resolves through one alias hop.
func TestResolveAlias(t *testing.T) {
	c, err := Load([]byte(testCatalogYAML))
	require.NoError(t, err)

	e, ok := c.Resolve(Normalize(": fin_settlement_fail"))
	require.True(t, ok)
	require.Equal(t, "FIN_SETTLEMENT_FAIL", e.TypeCode)
}

func TestEmptyCatalog(t *testing.T) {
	c := Empty()
	_, ok := c.Resolve("ANYTHING")
	require.False(t, ok)
	require.Equal(t, models.SeverityMedium, c.UnknownSeverity())
}

func TestServiceDefaultSeverity(t *testing.T) {
	c, err := Load([]byte(testCatalogYAML))
	require.NoError(t, err)
	svc := NewService(c, 0)

	require.Equal(t, models.SeverityHigh, svc.DefaultSeverity("FIN_SETTLEMENT_FAIL"))
	require.Equal(t, models.SeverityLow, svc.DefaultSeverity("OPS_QUEUE_STALL"))
	require.Equal(t, models.SeverityMedium, svc.DefaultSeverity("UNKNOWN"))
}

// A miss is cached for the TTL even if the snapshot would now hit, bounding
// lookup storms for uncataloged codes.
func TestServiceMissTTL(t *testing.T) {
	svc := NewService(Empty(), time.Hour)

	_, ok := svc.Resolve("LATE_ARRIVAL")
	require.False(t, ok)

	// Swap the snapshot without Replace: the cached miss still wins.
	c, err := Load([]byte(`
entries:
  - type_code: LATE_ARRIVAL
    default_severity: LOW
`))
	require.NoError(t, err)
	svc.snap.Store(c)

	_, ok = svc.Resolve("LATE_ARRIVAL")
	require.False(t, ok)
}

// Replace drops all cached misses so a newly cataloged code is visible on
// the very next lookup.
func TestServiceReplaceClearsMisses(t *testing.T) {
	svc := NewService(Empty(), time.Hour)

	_, ok := svc.Resolve("LATE_ARRIVAL")
	require.False(t, ok)

	c, err := Load([]byte(`
entries:
  - type_code: LATE_ARRIVAL
    default_severity: LOW
`))
	require.NoError(t, err)
	svc.Replace(c)

	e, ok := svc.Resolve("LATE_ARRIVAL")
	require.True(t, ok)
	require.Equal(t, models.SeverityLow, e.DefaultSeverity)
}

func TestServiceExpiredMissRetries(t *testing.T) {
	svc := NewService(Empty(), time.Nanosecond)

	_, ok := svc.Resolve("LATE_ARRIVAL")
	require.False(t, ok)

	c, err := Load([]byte(`
entries:
  - type_code: LATE_ARRIVAL
    default_severity: HIGH
`))
	require.NoError(t, err)
	svc.snap.Store(c)

	time.Sleep(time.Millisecond)
	_, ok = svc.Resolve("LATE_ARRIVAL")
	require.True(t, ok)
}
