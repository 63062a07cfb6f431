// Package config holds RUNE's on-disk configuration shape: YAML file,
// defaults, environment overrides and validation, following the same
// Load/Save/Validate shape used throughout the pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rune-authz/rune/internal/rerr"
)

// Config holds all engine configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Eval    EvalConfig    `yaml:"eval"`
	Cache   CacheConfig   `yaml:"cache"`
	Reload  ReloadConfig  `yaml:"reload"`
	Logging LoggingConfig `yaml:"logging"`

	// Composition names the predicates the composition engine (C11) reads
	// out of a Datalog evaluation result to form a per-request Decision.
	Composition CompositionConfig `yaml:"composition"`
}

// EvalConfig controls the semi-naive evaluator (C6/C7).
type EvalConfig struct {
	MaxIterations    int  `yaml:"max_iterations"`
	Parallel         bool `yaml:"parallel"`
	RecordProvenance bool `yaml:"record_provenance"`
}

// CacheConfig controls the decision cache (C10).
type CacheConfig struct {
	MaxSize int    `yaml:"max_size"`
	TTL     string `yaml:"ttl"`
}

// ReloadConfig controls the file-watching reload coordinator (C12).
type ReloadConfig struct {
	RulesPath        string `yaml:"rules_path"`
	PoliciesPath     string `yaml:"policies_path"`
	DebounceInterval string `yaml:"debounce_interval"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryDelay       string `yaml:"retry_delay"`
}

// LoggingConfig controls the zap logger built in internal/rlog.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// CompositionConfig names the permit and forbid predicates read from a
// Datalog derivation by the composition engine (spec.md §4.7 step 2).
type CompositionConfig struct {
	PermitPredicate string `yaml:"permit_predicate"`
	ForbidPredicate string `yaml:"forbid_predicate"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rune",
		Version: "0.1.0",

		Eval: EvalConfig{
			MaxIterations:    10000,
			Parallel:         false,
			RecordProvenance: false,
		},

		Cache: CacheConfig{
			MaxSize: 10000,
			TTL:     "5m",
		},

		Reload: ReloadConfig{
			RulesPath:        "rules.datalog",
			PoliciesPath:     "policies.json",
			DebounceInterval: "250ms",
			MaxRetries:       3,
			RetryDelay:       "500ms",
		},

		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
			Encoding:    "json",
		},

		Composition: CompositionConfig{
			PermitPredicate: "permit",
			ForbidPredicate: "forbid",
		},
	}
}

// Load reads a YAML config file, overlaying it onto DefaultConfig. A
// missing file is not an error: defaults are returned untouched aside
// from environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, rerr.Wrap(rerr.KindConfig, "reading config file "+path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, rerr.Wrap(rerr.KindConfig, "parsing config file "+path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes c to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rerr.Wrap(rerr.KindConfig, "creating config directory "+dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return rerr.Wrap(rerr.KindConfig, "marshaling config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return rerr.Wrap(rerr.KindConfig, "writing config file "+path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override file-based
// settings without editing the YAML on disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RUNE_RULES_PATH"); v != "" {
		c.Reload.RulesPath = v
	}
	if v := os.Getenv("RUNE_POLICIES_PATH"); v != "" {
		c.Reload.PoliciesPath = v
	}
	if v := os.Getenv("RUNE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RUNE_CACHE_MAX_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Cache.MaxSize = n
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Eval.MaxIterations <= 0 {
		return rerr.New(rerr.KindConfig, "eval.max_iterations must be positive")
	}
	if c.Cache.MaxSize <= 0 {
		return rerr.New(rerr.KindConfig, "cache.max_size must be positive")
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return rerr.Wrap(rerr.KindConfig, "cache.ttl is not a valid duration", err)
	}
	if _, err := time.ParseDuration(c.Reload.DebounceInterval); err != nil {
		return rerr.Wrap(rerr.KindConfig, "reload.debounce_interval is not a valid duration", err)
	}
	if _, err := time.ParseDuration(c.Reload.RetryDelay); err != nil {
		return rerr.Wrap(rerr.KindConfig, "reload.retry_delay is not a valid duration", err)
	}
	if c.Reload.MaxRetries < 0 {
		return rerr.New(rerr.KindConfig, "reload.max_retries must not be negative")
	}
	if c.Composition.PermitPredicate == "" || c.Composition.ForbidPredicate == "" {
		return rerr.New(rerr.KindConfig, "composition.permit_predicate and forbid_predicate must be set")
	}
	if c.Composition.PermitPredicate == c.Composition.ForbidPredicate {
		return rerr.New(rerr.KindConfig, "composition.permit_predicate and forbid_predicate must differ")
	}
	return nil
}

// CacheTTL returns the decision cache TTL, falling back to 5 minutes if
// the configured value fails to parse (Validate should normally catch
// this earlier).
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// DebounceInterval returns the reload coordinator's debounce window.
func (c *Config) DebounceInterval() time.Duration {
	d, err := time.ParseDuration(c.Reload.DebounceInterval)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// RetryDelay returns the delay between reload retry attempts.
func (c *Config) RetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Reload.RetryDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
