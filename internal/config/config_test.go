package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.CacheTTL() != 300*time.Second {
		t.Errorf("expected 300s TTL, got %v", cfg.CacheTTL())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool", func(c *Config) { c.Pool.Size = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero ttl", func(c *Config) { c.Cache.TTLSeconds = 0 }},
		{"negative max entries", func(c *Config) { c.Cache.MaxEntries = -1 }},
		{"bad storage", func(c *Config) { c.Report.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Report.Storage.Type = "s3" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qgate.yaml")
	content := `
server:
  addr: ":7000"
pool:
  size: 4
cache:
  enabled: false
  ttl_seconds: 60
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Pool.Size != 4 {
		t.Errorf("unexpected server/pool: %+v %+v", cfg.Server, cfg.Pool)
	}
	if cfg.Cache.Enabled || cfg.Cache.TTLSeconds != 60 {
		t.Errorf("unexpected cache: %+v", cfg.Cache)
	}
	// Unspecified keys keep their defaults
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qgate.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QGATE_PORT", "9555")
	t.Setenv("QGATE_POOL_SIZE", "3")
	t.Setenv("QGATE_CACHE_ENABLED", "0")
	t.Setenv("QGATE_REDIS_HOST", "cache.internal")
	t.Setenv("QGATE_REDIS_PORT", "6380")
	t.Setenv("QGATE_CACHE_TTL", "42")
	t.Setenv("QGATE_COUNT_CACHE_IN_SCENARIO", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Server.Addr != ":9555" {
		t.Errorf("expected :9555, got %q", cfg.Server.Addr)
	}
	if cfg.Pool.Size != 3 {
		t.Errorf("expected pool size 3, got %d", cfg.Pool.Size)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled")
	}
	if got := cfg.Cache.Redis.Addr(); got != "cache.internal:6380" {
		t.Errorf("unexpected redis addr %q", got)
	}
	if cfg.Cache.TTLSeconds != 42 {
		t.Errorf("expected ttl 42, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.Cache.CountInScenario {
		t.Error("expected count_in_scenario off")
	}
}
