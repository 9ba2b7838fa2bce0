package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.MaxAttempts != 30 || cfg.Upstream.MinContentBytes != 1000 {
		t.Fatalf("unexpected upstream defaults: %+v", cfg.Upstream)
	}
	if cfg.Server.RequestTimeoutSeconds != 0 || cfg.RequestTimeout() != cfg.ScanBudget() {
		t.Fatalf("expected derived request timeout, got %v", cfg.RequestTimeout())
	}
	if cfg.Upstream.RespectRobots {
		t.Fatal("expected robots.txt to be ignored by default")
	}
	if cfg.Upstream.PageMarker != "Daily Papers" {
		t.Fatalf("unexpected page marker %q", cfg.Upstream.PageMarker)
	}
	if cfg.MaxAge() != 24*time.Hour || cfg.Cache.RetentionDays != 7 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Storage.Backend != "memory" || cfg.Archive.Backend != "none" || cfg.Evaluator.Provider != "noop" {
		t.Fatalf("unexpected backend defaults: %+v", cfg)
	}
}

func TestRequestTimeoutCoversWorstCaseScan(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// 31 attempts of 30s each, paced at 2 rps.
	want := 31 * (30*time.Second + 500*time.Millisecond)
	if got := cfg.ScanBudget(); got != want {
		t.Fatalf("ScanBudget() = %v, want %v", got, want)
	}
	worstScan := time.Duration(cfg.Upstream.MaxAttempts) * Seconds(cfg.Upstream.TimeoutSeconds)
	if cfg.RequestTimeout() <= worstScan {
		t.Fatalf("RequestTimeout() = %v does not cover a %v scan", cfg.RequestTimeout(), worstScan)
	}

	cfg.Upstream.RateLimit.RPS = 0
	if got := cfg.ScanBudget(); got != 31*30*time.Second {
		t.Fatalf("ScanBudget() without pacing = %v", got)
	}

	cfg.Server.RequestTimeoutSeconds = 45
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("explicit RequestTimeout() = %v, want 45s", got)
	}

	cfg.Server.RequestTimeoutSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative request timeout to be rejected")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
upstream:
  base_url: http://localhost:1234/papers
  timeout_seconds: 45
  max_attempts: 5
  respect_robots: true
  rate_limit:
    rps: 0.5
    burst: 3
cache:
  max_age_hours: 6
storage:
  backend: sqlite
  sqlite:
    path: /tmp/cache.db
archive:
  backend: local
  base_dir: /tmp/archive
evaluator:
  provider: anthropic
  api_key: key
  model: custom-model
logging:
  development: false
  level: debug
parser:
  selectors:
    card: div.paper
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Upstream.BaseURL != "http://localhost:1234/papers" || cfg.Upstream.MaxAttempts != 5 {
		t.Fatalf("expected upstream overrides, got %+v", cfg.Upstream)
	}
	if !cfg.Upstream.RespectRobots {
		t.Fatal("expected respect_robots override")
	}
	if cfg.Upstream.RateLimit.RPS != 0.5 || cfg.Upstream.RateLimit.Burst != 3 {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.Upstream.RateLimit)
	}
	if got := Seconds(cfg.Upstream.TimeoutSeconds); got != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", got)
	}
	if cfg.MaxAge() != 6*time.Hour {
		t.Fatalf("expected 6h max age, got %v", cfg.MaxAge())
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/cache.db" {
		t.Fatalf("expected sqlite storage, got %+v", cfg.Storage)
	}
	if cfg.Evaluator.Model != "custom-model" || cfg.Evaluator.MaxTokens != 4000 {
		t.Fatalf("expected evaluator overrides with default tokens, got %+v", cfg.Evaluator)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Parser.Selectors.Card != "div.paper" {
		t.Fatalf("expected selector override, got %+v", cfg.Parser.Selectors)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAPERS_SERVER_PORT", "7070")
	t.Setenv("PAPERS_CACHE_RETENTION_DAYS", "14")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Cache.RetentionDays != 14 {
		t.Fatalf("expected env overrides, got port=%d retention=%d", cfg.Server.Port, cfg.Cache.RetentionDays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "missing base url", mutate: func(c *Config) { c.Upstream.BaseURL = " " }, want: "upstream.base_url"},
		{name: "invalid attempts", mutate: func(c *Config) { c.Upstream.MaxAttempts = 0 }, want: "upstream.max_attempts"},
		{name: "invalid retention", mutate: func(c *Config) { c.Cache.RetentionDays = 0 }, want: "cache.retention_days"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, want: "storage.postgres.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = "gcs" }, want: "archive.bucket"},
		{name: "evaluator without key", mutate: func(c *Config) { c.Evaluator.Provider = "gemini" }, want: "evaluator.api_key"},
		{name: "bad pdf template", mutate: func(c *Config) { c.Evaluator.PDFURLTemplate = "https://arxiv.org" }, want: "pdf_url_template"},
		{name: "pubsub without project", mutate: func(c *Config) { c.Events.Provider = "pubsub" }, want: "events.project_id"},
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
