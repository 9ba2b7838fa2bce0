// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/daily-papers/internal/parser"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Parser    ParserConfig    `mapstructure:"parser"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	// RequestTimeoutSeconds caps each HTTP request. Zero derives the cap
	// from the upstream scan budget.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// UpstreamConfig describes the listing site and how hard to probe it.
type UpstreamConfig struct {
	BaseURL             string          `mapstructure:"base_url"`
	UserAgent           string          `mapstructure:"user_agent"`
	TimeoutSeconds      int             `mapstructure:"timeout_seconds"`
	ProbeTimeoutSeconds int             `mapstructure:"probe_timeout_seconds"`
	MaxAttempts         int             `mapstructure:"max_attempts"`
	MinContentBytes     int             `mapstructure:"min_content_bytes"`
	PageMarker          string          `mapstructure:"page_marker"`
	RespectRobots       bool            `mapstructure:"respect_robots"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig paces upstream requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CacheConfig controls snapshot freshness and retention.
type CacheConfig struct {
	MaxAgeHours            int `mapstructure:"max_age_hours"`
	RetentionDays          int `mapstructure:"retention_days"`
	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
	AvailableDatesLimit    int `mapstructure:"available_dates_limit"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds the database file location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where raw listing markup is archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// EvaluatorConfig selects and tunes the LLM evaluator.
type EvaluatorConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	PDFURLTemplate string `mapstructure:"pdf_url_template"`
}

// EventsConfig holds metadata for evaluation notifications.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ParserConfig overrides listing selectors.
type ParserConfig struct {
	SiteURL   string           `mapstructure:"site_url"`
	Selectors parser.Selectors `mapstructure:"selectors"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout_seconds", 0)
	v.SetDefault("upstream.base_url", "https://huggingface.co/papers/date")
	v.SetDefault("upstream.user_agent", "Mozilla/5.0 (compatible; daily-papers/1.0)")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.probe_timeout_seconds", 10)
	v.SetDefault("upstream.max_attempts", 30)
	v.SetDefault("upstream.min_content_bytes", 1000)
	v.SetDefault("upstream.page_marker", "Daily Papers")
	v.SetDefault("upstream.respect_robots", false)
	v.SetDefault("upstream.rate_limit.rps", 2.0)
	v.SetDefault("upstream.rate_limit.burst", 2)
	v.SetDefault("cache.max_age_hours", 24)
	v.SetDefault("cache.retention_days", 7)
	v.SetDefault("cache.cleanup_interval_minutes", 60)
	v.SetDefault("cache.available_dates_limit", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite.path", "daily_papers_cache.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table_prefix", "")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "daily")
	v.SetDefault("evaluator.provider", "noop")
	v.SetDefault("evaluator.api_key", "")
	v.SetDefault("evaluator.model", "")
	v.SetDefault("evaluator.endpoint", "")
	v.SetDefault("evaluator.max_tokens", 4000)
	v.SetDefault("evaluator.timeout_seconds", 600)
	v.SetDefault("evaluator.max_retries", 3)
	v.SetDefault("evaluator.pdf_url_template", "https://arxiv.org/pdf/%s.pdf")
	v.SetDefault("events.provider", "memory")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "paper-evaluations")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("parser.site_url", "https://huggingface.co")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.MaxAttempts <= 0 {
		return fmt.Errorf("upstream.max_attempts must be > 0")
	}
	if c.Cache.MaxAgeHours <= 0 {
		return fmt.Errorf("cache.max_age_hours must be > 0")
	}
	if c.Cache.RetentionDays <= 0 {
		return fmt.Errorf("cache.retention_days must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Evaluator.Provider {
	case "noop":
	case "anthropic", "gemini":
		if strings.TrimSpace(c.Evaluator.APIKey) == "" {
			return fmt.Errorf("evaluator.api_key is required for provider %s", c.Evaluator.Provider)
		}
	default:
		return fmt.Errorf("evaluator.provider %q is not supported", c.Evaluator.Provider)
	}
	if !strings.Contains(c.Evaluator.PDFURLTemplate, "%s") {
		return fmt.Errorf("evaluator.pdf_url_template must contain %%s")
	}
	switch c.Events.Provider {
	case "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("events.provider %q is not supported", c.Events.Provider)
	}
	return nil
}

// MaxAge is the cache freshness window.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}

// ScanBudget is the longest a single request can spend upstream: the
// initial fetch plus a full backward scan, each attempt running to the
// upstream timeout and waiting its turn at the rate limiter.
func (c Config) ScanBudget() time.Duration {
	perAttempt := Seconds(c.Upstream.TimeoutSeconds)
	if c.Upstream.RateLimit.RPS > 0 {
		perAttempt += time.Duration(float64(time.Second) / c.Upstream.RateLimit.RPS)
	}
	return time.Duration(c.Upstream.MaxAttempts+1) * perAttempt
}

// RequestTimeout is the HTTP handler deadline. An explicit setting wins;
// otherwise the deadline is the scan budget.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds > 0 {
		return Seconds(c.Server.RequestTimeoutSeconds)
	}
	return c.ScanBudget()
}

// Seconds converts a seconds knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
