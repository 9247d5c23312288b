package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath                 string `yaml:"db_path"`
	CatalogPath            string `yaml:"catalog_path"`
	CatalogRefreshSeconds  int    `yaml:"catalog_refresh_seconds"`
	CatalogMissTTLSeconds  int    `yaml:"catalog_miss_ttl_seconds"`
	PolicyCacheTTLSeconds  int    `yaml:"policy_cache_ttl_seconds"`
	PolicyMissTTLSeconds   int    `yaml:"policy_miss_ttl_seconds"`
	IntakePartitions       int    `yaml:"intake_partitions"`
	IntakeMaxAttempts      int    `yaml:"intake_max_attempts"`
	IntakeResolveTimeoutMS int    `yaml:"intake_resolve_timeout_ms"`
}

// PipelineSettings are effective runtime values used by the intake consumer
// and the policy resolver.
type PipelineSettings struct {
	CatalogRefresh  time.Duration `json:"catalog_refresh"`
	CatalogMissTTL  time.Duration `json:"catalog_miss_ttl"`
	PolicyCacheTTL  time.Duration `json:"policy_cache_ttl"`
	PolicyMissTTL   time.Duration `json:"policy_miss_ttl"`
	Partitions      int           `json:"partitions"`
	MaxAttempts     int           `json:"max_attempts"`
	ResolveTimeout  time.Duration `json:"resolve_timeout"`
}

const (
	defaultCatalogRefresh   = 5 * time.Minute
	defaultCatalogMissTTL   = 30 * time.Second
	defaultPolicyCacheTTL   = 60 * time.Second
	defaultPolicyMissTTL    = 10 * time.Second
	defaultIntakePartitions = 4
	defaultIntakeAttempts   = 5
	defaultResolveTimeout   = 2 * time.Second
)

// EffectivePipelineSettings returns validated pipeline settings with
// defaults. Invalid or missing config values fall back to safe defaults.
func EffectivePipelineSettings() PipelineSettings {
	cfg := PipelineSettings{
		CatalogRefresh: defaultCatalogRefresh,
		CatalogMissTTL: defaultCatalogMissTTL,
		PolicyCacheTTL: defaultPolicyCacheTTL,
		PolicyMissTTL:  defaultPolicyMissTTL,
		Partitions:     defaultIntakePartitions,
		MaxAttempts:    defaultIntakeAttempts,
		ResolveTimeout: defaultResolveTimeout,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if s.CatalogRefreshSeconds > 0 {
		cfg.CatalogRefresh = time.Duration(s.CatalogRefreshSeconds) * time.Second
	}
	if s.CatalogMissTTLSeconds > 0 {
		cfg.CatalogMissTTL = time.Duration(s.CatalogMissTTLSeconds) * time.Second
	}
	if s.PolicyCacheTTLSeconds > 0 {
		cfg.PolicyCacheTTL = time.Duration(s.PolicyCacheTTLSeconds) * time.Second
	}
	if s.PolicyMissTTLSeconds > 0 {
		cfg.PolicyMissTTL = time.Duration(s.PolicyMissTTLSeconds) * time.Second
	}
	if s.IntakePartitions > 0 {
		cfg.Partitions = s.IntakePartitions
	}
	if s.IntakeMaxAttempts > 0 {
		cfg.MaxAttempts = s.IntakeMaxAttempts
	}
	if s.IntakeResolveTimeoutMS > 0 {
		cfg.ResolveTimeout = time.Duration(s.IntakeResolveTimeoutMS) * time.Millisecond
	}

	if cfg.Partitions > 64 {
		cfg.Partitions = 64
	}
	if cfg.MaxAttempts > 20 {
		cfg.MaxAttempts = 20
	}
	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/exceptd/config.yaml
// 2) /etc/exceptd/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/exceptd/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "exceptd", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// GetCatalogPath resolves the catalog source file path.
// Order of precedence:
// 1) Environment variable: EXCEPTD_CATALOG_PATH
// 2) config.yaml: catalog_path
// 3) Default: ~/.config/exceptd/catalog.yaml
func GetCatalogPath() (string, error) {
	if envPath := os.Getenv("EXCEPTD_CATALOG_PATH"); envPath != "" {
		return envPath, nil
	}

	cfg, err := LoadSettings()
	if err != nil {
		return "", err
	}
	if cfg.CatalogPath != "" {
		return cfg.CatalogPath, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "catalog.yaml"), nil
}
