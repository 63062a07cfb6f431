package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.MaxSize != DefaultConfig().Cache.MaxSize {
		t.Errorf("expected default cache size, got %d", cfg.Cache.MaxSize)
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rune.yaml")
	yaml := "cache:\n  max_size: 42\n  ttl: 1m\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.MaxSize != 42 {
		t.Errorf("expected overridden cache size 42, got %d", cfg.Cache.MaxSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected overridden log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Eval.MaxIterations != DefaultConfig().Eval.MaxIterations {
		t.Errorf("expected eval defaults to survive partial overlay, got %d", cfg.Eval.MaxIterations)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rune.yaml")
	if err := os.WriteFile(path, []byte("cache: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a parse error for malformed YAML")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rune.yaml")
	cfg := DefaultConfig()
	cfg.Cache.MaxSize = 777
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Cache.MaxSize != 777 {
		t.Errorf("expected round-tripped cache size 777, got %d", loaded.Cache.MaxSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Eval.MaxIterations = 0 },
		func(c *Config) { c.Cache.MaxSize = 0 },
		func(c *Config) { c.Cache.TTL = "not-a-duration" },
		func(c *Config) { c.Reload.DebounceInterval = "nope" },
		func(c *Config) { c.Reload.MaxRetries = -1 },
		func(c *Config) { c.Composition.PermitPredicate = "" },
		func(c *Config) { c.Composition.PermitPredicate = c.Composition.ForbidPredicate },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("RUNE_LOG_LEVEL", "warn")
	t.Setenv("RUNE_CACHE_MAX_SIZE", "99")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected env override warn, got %s", cfg.Logging.Level)
	}
	if cfg.Cache.MaxSize != 99 {
		t.Errorf("expected env override 99, got %d", cfg.Cache.MaxSize)
	}
}

func TestDurationHelpersFallBackOnInvalidValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.TTL = "garbage"
	cfg.Reload.DebounceInterval = "garbage"
	cfg.Reload.RetryDelay = "garbage"

	if cfg.CacheTTL() <= 0 {
		t.Errorf("expected a positive fallback TTL")
	}
	if cfg.DebounceInterval() <= 0 {
		t.Errorf("expected a positive fallback debounce interval")
	}
	if cfg.RetryDelay() <= 0 {
		t.Errorf("expected a positive fallback retry delay")
	}
}
