package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
batch:
  chunk_size: 3
  chunk_delay: 2s
trigger:
  source: pubsub
  max_instances: 2
  budget: 90s
fetch:
  user_agent: catalog-bot
  timeout_seconds: 45
  headless:
    enabled: true
    max_parallel: 2
extract:
  api_key: key
  model: gemini-2.0-flash
  search_enabled: false
records:
  backend: postgres
  dsn: postgres://localhost/catalog
storage:
  backend: local
  local:
    base_dir: /tmp/pages
pubsub:
  project_id: proj
  topic_name: record-changes
  subscription: enricher
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Batch.ChunkSize != 3 || cfg.Batch.ChunkDelay != 2*time.Second {
		t.Fatalf("expected batch overrides to apply: %+v", cfg.Batch)
	}
	if cfg.Trigger.Source != "pubsub" || cfg.Trigger.MaxInstances != 2 || cfg.Trigger.Budget != 90*time.Second {
		t.Fatalf("expected trigger overrides to apply: %+v", cfg.Trigger)
	}
	if cfg.Trigger.ReaperGrace != 30*time.Second {
		t.Fatalf("expected default reaper grace, got %v", cfg.Trigger.ReaperGrace)
	}
	if cfg.Extract.SearchEnabled || cfg.Extract.Model != "gemini-2.0-flash" {
		t.Fatalf("expected extract overrides to apply: %+v", cfg.Extract)
	}
	if cfg.Records.Backend != "postgres" || cfg.Records.Table != "catalog_records" {
		t.Fatalf("expected records backend with default table: %+v", cfg.Records)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.ChunkSize != 5 || cfg.Batch.ChunkDelay != 4*time.Second {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Trigger.MaxInstances != 5 || cfg.Trigger.Budget != 120*time.Second {
		t.Fatalf("unexpected trigger defaults: %+v", cfg.Trigger)
	}
	if cfg.Records.Backend != "memory" || cfg.Storage.Backend != "memory" {
		t.Fatalf("expected in-memory backends by default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Batch:   BatchConfig{ChunkSize: 5},
		Trigger: TriggerConfig{Source: "store", MaxInstances: 5, Budget: time.Minute},
		Fetch:   FetchConfig{TimeoutSeconds: 10},
		Records: RecordsConfig{Backend: "memory"},
		Storage: StorageConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"zero chunk size", func(c *Config) { c.Batch.ChunkSize = 0 }, "batch.chunk_size"},
		{"negative chunk delay", func(c *Config) { c.Batch.ChunkDelay = -time.Second }, "batch.chunk_delay"},
		{"zero instances", func(c *Config) { c.Trigger.MaxInstances = 0 }, "trigger.max_instances"},
		{"zero budget", func(c *Config) { c.Trigger.Budget = 0 }, "trigger.budget"},
		{"unknown source", func(c *Config) { c.Trigger.Source = "kafka" }, "trigger.source"},
		{"pubsub source without subscription", func(c *Config) { c.Trigger.Source = "pubsub" }, "pubsub.subscription"},
		{"invalid timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{
			"headless missing max parallel",
			func(c *Config) { c.Fetch.Headless.Enabled = true },
			"fetch.headless.max_parallel",
		},
		{"postgres without dsn", func(c *Config) { c.Records.Backend = "postgres" }, "records.dsn"},
		{"unknown records backend", func(c *Config) { c.Records.Backend = "sqlite" }, "records.backend"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.local.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
