// Package config loads and validates enricher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Records   RecordsConfig   `mapstructure:"records"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeout bounds every route except synchronous scrapes.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing. An empty ProjectID keeps spans in process.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// BatchConfig tunes the synchronous orchestrator.
type BatchConfig struct {
	ChunkSize  int           `mapstructure:"chunk_size"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
}

// TriggerConfig tunes the status-change trigger path.
type TriggerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Source selects where change events come from: "store" or "pubsub".
	Source         string        `mapstructure:"source"`
	MaxInstances   int           `mapstructure:"max_instances"`
	Budget         time.Duration `mapstructure:"budget"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	ReaperGrace    time.Duration `mapstructure:"reaper_grace"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	UserAgent      string         `mapstructure:"user_agent"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	RespectRobots  bool           `mapstructure:"respect_robots"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	MinTextChars    int  `mapstructure:"min_text_chars"`
}

// ExtractConfig configures the extraction service.
type ExtractConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	Model         string  `mapstructure:"model"`
	MaxTextChars  int     `mapstructure:"max_text_chars"`
	Temperature   float32 `mapstructure:"temperature"`
	SearchEnabled bool    `mapstructure:"search_enabled"`
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
}

// RecordsConfig selects the record store.
type RecordsConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Channel string `mapstructure:"channel"`
}

// StorageConfig sets the page archive backend.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig points the local archive at a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the change-event topic and subscription.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	TopicName    string `mapstructure:"topic_name"`
	Subscription string `mapstructure:"subscription"`
}

// ProgressConfig toggles progress tracking.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig sets flush thresholds for the progress hub.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DatabaseConfig points at the run repository.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENRICHER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "course-enricher")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("batch.chunk_size", 5)
	v.SetDefault("batch.chunk_delay", 4*time.Second)
	v.SetDefault("trigger.enabled", true)
	v.SetDefault("trigger.source", "store")
	v.SetDefault("trigger.max_instances", 5)
	v.SetDefault("trigger.budget", 120*time.Second)
	v.SetDefault("trigger.queue_depth", 64)
	v.SetDefault("trigger.reaper_interval", time.Minute)
	v.SetDefault("trigger.reaper_grace", 30*time.Second)
	v.SetDefault("fetch.user_agent", "course-enricher/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 1)
	v.SetDefault("fetch.headless.nav_timeout_seconds", 25)
	v.SetDefault("fetch.headless.promotion_threshold", 2048)
	v.SetDefault("fetch.headless.min_text_chars", 200)
	v.SetDefault("extract.model", "gemini-2.5-flash")
	v.SetDefault("extract.max_text_chars", 150000)
	v.SetDefault("extract.temperature", 0.1)
	v.SetDefault("extract.search_enabled", true)
	v.SetDefault("extract.rps", 0.0)
	v.SetDefault("extract.burst", 1)
	v.SetDefault("records.backend", "memory")
	v.SetDefault("records.table", "catalog_records")
	v.SetDefault("records.channel", "catalog_record_changes")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be > 0")
	}
	if c.Batch.ChunkDelay < 0 {
		return fmt.Errorf("batch.chunk_delay must be >= 0")
	}
	if c.Trigger.MaxInstances <= 0 {
		return fmt.Errorf("trigger.max_instances must be > 0")
	}
	if c.Trigger.Budget <= 0 {
		return fmt.Errorf("trigger.budget must be > 0")
	}
	switch c.Trigger.Source {
	case "store":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.subscription are required for the pubsub trigger source")
		}
	default:
		return fmt.Errorf("trigger.source must be store or pubsub, got %q", c.Trigger.Source)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless.Enabled && c.Fetch.Headless.MaxParallel <= 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Records.Backend {
	case "memory":
	case "postgres":
		if c.Records.DSN == "" {
			return fmt.Errorf("records.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("records.backend must be memory or postgres, got %q", c.Records.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	return nil
}

// FetchTimeout converts the fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
