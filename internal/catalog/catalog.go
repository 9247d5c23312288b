// Package catalog owns the canonical exception-type vocabulary: the pure
// Normalize transform and the read-only registry mapping type codes (and raw
// aliases) to default severities.
package catalog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/exceptd/internal/models"
)

// defaultUnknownSeverity is assigned when neither the catalog nor a policy
// pack says anything about a type code. Mid-scale keeps it visible without
// paging anyone.
const defaultUnknownSeverity = models.SeverityMedium

// catalogFile is the YAML shape of the externally maintained catalog source.
type catalogFile struct {
	Entries         []models.CatalogEntry `yaml:"entries"`
	UnknownSeverity models.Severity       `yaml:"unknown_severity"`
}

// Catalog is one immutable snapshot of the registry. Snapshots are swapped
// whole on refresh so a reader can never observe an entry that contradicts
// the current persisted catalog.
type Catalog struct {
	entries         map[string]models.CatalogEntry
	aliases         map[string]string
	unknownSeverity models.Severity
}

// Load parses a catalog snapshot from YAML bytes. Alias keys are stored
// normalized so a lookup after Normalize hits directly.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		entries:         make(map[string]models.CatalogEntry, len(f.Entries)),
		aliases:         make(map[string]string, len(f.Entries)),
		unknownSeverity: defaultUnknownSeverity,
	}
	if f.UnknownSeverity.Valid() {
		c.unknownSeverity = f.UnknownSeverity
	}

	for i, e := range f.Entries {
		if e.TypeCode == "" {
			return nil, fmt.Errorf("catalog entry %d: type_code is required", i)
		}
		if !e.DefaultSeverity.Valid() {
			return nil, fmt.Errorf("catalog entry %d (%s): invalid default_severity %q", i, e.TypeCode, e.DefaultSeverity)
		}
		c.entries[e.TypeCode] = e
		if e.Raw != "" {
			c.aliases[Normalize(e.Raw)] = e.TypeCode
		}
	}
	return c, nil
}

// LoadFile reads and parses a catalog snapshot from path.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Load(b)
}

// Empty returns a catalog with no entries. Every lookup misses and falls
// back to the unknown severity.
func Empty() *Catalog {
	return &Catalog{
		entries:         map[string]models.CatalogEntry{},
		aliases:         map[string]string{},
		unknownSeverity: defaultUnknownSeverity,
	}
}

// Resolve looks up code (already normalized), following one alias hop.
func (c *Catalog) Resolve(code string) (models.CatalogEntry, bool) {
	if target, ok := c.aliases[code]; ok {
		code = target
	}
	e, ok := c.entries[code]
	return e, ok
}

// UnknownSeverity is the severity for codes absent from the catalog.
func (c *Catalog) UnknownSeverity() models.Severity {
	return c.unknownSeverity
}

// Service holds the current catalog snapshot for concurrent readers and
// caches "not found" results with a short TTL to bound retry storms.
// Snapshot replacement clears the miss cache: a miss may be served stale
// for at most missTTL, a hit never.
type Service struct {
	snap    atomic.Pointer[Catalog]
	missTTL time.Duration

	mu     sync.Mutex
	misses map[string]time.Time
}

// NewService wraps an initial snapshot. missTTL <= 0 disables miss caching.
func NewService(c *Catalog, missTTL time.Duration) *Service {
	s := &Service{
		missTTL: missTTL,
		misses:  make(map[string]time.Time),
	}
	s.snap.Store(c)
	return s
}

// Snapshot returns the current catalog snapshot.
func (s *Service) Snapshot() *Catalog {
	return s.snap.Load()
}

// Replace swaps in a new snapshot and drops all cached misses, so an entry
// added by a refresh is visible on the very next lookup.
func (s *Service) Replace(c *Catalog) {
	s.snap.Store(c)
	s.mu.Lock()
	s.misses = make(map[string]time.Time)
	s.mu.Unlock()
}

// Resolve returns the catalog entry for code. A recent cached miss is
// returned without consulting the snapshot.
func (s *Service) Resolve(code string) (models.CatalogEntry, bool) {
	if s.missTTL > 0 {
		s.mu.Lock()
		exp, missed := s.misses[code]
		if missed && time.Now().Before(exp) {
			s.mu.Unlock()
			return models.CatalogEntry{}, false
		}
		if missed {
			delete(s.misses, code)
		}
		s.mu.Unlock()
	}

	e, ok := s.Snapshot().Resolve(code)
	if !ok && s.missTTL > 0 {
		s.mu.Lock()
		s.misses[code] = time.Now().Add(s.missTTL)
		s.mu.Unlock()
	}
	return e, ok
}

// DefaultSeverity returns the catalog default severity for code, falling
// back to the snapshot's unknown severity when the code is not cataloged.
func (s *Service) DefaultSeverity(code string) models.Severity {
	if e, ok := s.Resolve(code); ok {
		return e.DefaultSeverity
	}
	return s.Snapshot().UnknownSeverity()
}
