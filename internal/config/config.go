// Package config handles loading and validating engine configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the action engine.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default.
	Crypto        CryptoConfig         `json:"crypto" yaml:"crypto"`
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Scheduler     SchedulerConfig      `json:"scheduler" yaml:"scheduler"`
	Handoff       *HandoffConfig       `json:"handoff,omitempty" yaml:"handoff,omitempty"` // nil = live_agent actions disabled.
	LLM           *LLMConfig           `json:"llm,omitempty" yaml:"llm,omitempty"`         // nil = prompt actions disabled.
	WebSearch     *WebSearchConfig     `json:"web_search,omitempty" yaml:"web_search,omitempty"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`                                           // Default ":8080".
	APIKeys         []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`               // Keys accepted on /v1. Empty = auth disabled.
	CallbackBaseURL string   `json:"callback_base_url,omitempty" yaml:"callback_base_url,omitempty"` // External base for callback URLs.
	EnableDocs      bool     `json:"enable_docs" yaml:"enable_docs"`                             // Serve OpenAPI docs.

	// Per-sender rate limit on /v1/turn. Zero = unlimited.
	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RateLimitBurst     int `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// ListenAddr returns the bind address, defaulting to ":8080".
func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite at ./data/msaidizi.db.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: ./data/msaidizi.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// DatabasePath returns the database file path, defaulting under ./data.
func (s *SQLiteStorageConfig) DatabasePath() string {
	if s != nil && s.Path != "" {
		return s.Path
	}
	return filepath.Join("data", "msaidizi.db")
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// CryptoConfig carries the process master key for the secret store.
type CryptoConfig struct {
	// MasterKey seals secrets at rest. Override: MSAIDIZI_MASTER_KEY.
	MasterKey string `json:"master_key,omitempty" yaml:"master_key,omitempty"`
	// CallbackSigningKey signs DYNAMIC callback tokens. Defaults to a key
	// derived from MasterKey when empty.
	CallbackSigningKey string `json:"callback_signing_key,omitempty" yaml:"callback_signing_key,omitempty"`
}

// EngineConfig bounds turn execution.
type EngineConfig struct {
	TurnDeadlineS int `json:"turn_deadline_s" yaml:"turn_deadline_s"` // Default 30, max 120.
}

// TurnDeadline returns the configured deadline as a duration.
func (e EngineConfig) TurnDeadline() time.Duration {
	return time.Duration(e.TurnDeadlineS) * time.Second
}

// SandboxConfig configures the script sandbox.
type SandboxConfig struct {
	Interpreter     string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"` // Default "python3".
	DefaultTimeoutS int    `json:"default_timeout_s" yaml:"default_timeout_s"`         // Default 10, max 60.
	MaxCPUSeconds   int    `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`             // Default 5.
	MaxMemoryMB     int    `json:"max_memory_mb" yaml:"max_memory_mb"`                 // Default 128.
}

// SchedulerConfig bounds the deferred-execution poll loop.
type SchedulerConfig struct {
	PollIntervalS int `json:"poll_interval_s" yaml:"poll_interval_s"` // Default 1.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`   // Default 8.
	LeaseS        int `json:"lease_s" yaml:"lease_s"`                 // Default 60.
}

// HandoffConfig configures live-agent handoff.
type HandoffConfig struct {
	IdleTimeoutS int                  `json:"idle_timeout_s" yaml:"idle_timeout_s"` // Default 1800.
	WorkingHours *WorkingHoursConfig  `json:"working_hours,omitempty" yaml:"working_hours,omitempty"`
	Chatwoot     *ChatwootAgentConfig `json:"chatwoot,omitempty" yaml:"chatwoot,omitempty"`
}

// WorkingHoursConfig gates handoff requests to a daily window.
type WorkingHoursConfig struct {
	Start    int    `json:"start" yaml:"start"` // Hour of day, inclusive.
	End      int    `json:"end" yaml:"end"`     // Hour of day, exclusive.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ChatwootAgentConfig connects the handoff controller to a Chatwoot
// deployment. APIToken can be overridden by CHATWOOT_API_TOKEN.
type ChatwootAgentConfig struct {
	BaseURL      string `json:"base_url" yaml:"base_url"`
	AccountID    string `json:"account_id" yaml:"account_id"`
	InboxID      string `json:"inbox_id" yaml:"inbox_id"`
	APIToken     string `json:"api_token" yaml:"api_token"`
	WebsocketURL string `json:"websocket_url,omitempty" yaml:"websocket_url,omitempty"`
}

// LLMConfig configures the completion provider for prompt actions.
// APIKey can be overridden by OPENAI_API_KEY.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "openai" (default) or any OpenAI-compatible server.
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"` // For Ollama/vLLM-style servers.
	RetryMax int    `json:"retry_max" yaml:"retry_max"`                   // Default 2.

	// Fallbacks are tried in order when the primary provider fails.
	Fallbacks []LLMConfig `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// WebSearchConfig points web_search actions at a SearXNG-compatible
// metasearch endpoint.
type WebSearchConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// ObservabilityConfig configures metrics, tracing, health checks, and
// anomaly detection. When nil, all observability features are disabled.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "msaidizi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection over turn
// outcomes.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file location, honoring
// MSAIDIZI_CONFIG.
func DefaultConfigPath() string {
	return goutils.Env("MSAIDIZI_CONFIG", "config.yaml")
}

// Load reads a YAML or JSON config file and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

// Default returns the configuration used when no file is given: SQLite
// storage, no auth, observability off.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides lets environment variables take precedence over file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MSAIDIZI_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MSAIDIZI_MASTER_KEY"); v != "" {
		c.Crypto.MasterKey = v
	}
	if v := os.Getenv("MSAIDIZI_API_KEY"); v != "" {
		c.Server.APIKeys = append(c.Server.APIKeys, v)
	}
	if v := os.Getenv("MSAIDIZI_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.Driver = "postgres"
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.LLM == nil {
			c.LLM = &LLMConfig{}
		}
		c.LLM.APIKey = v
	}
	if v := os.Getenv("CHATWOOT_API_TOKEN"); v != "" {
		if c.Handoff != nil && c.Handoff.Chatwoot != nil {
			c.Handoff.Chatwoot.APIToken = v
		}
	}
}

// Validate checks cross-field invariants before startup.
func (c *Config) Validate() error {
	if c.Crypto.MasterKey == "" {
		return fmt.Errorf("crypto.master_key is required (or set MSAIDIZI_MASTER_KEY)")
	}
	if c.Engine.TurnDeadlineS < 0 || c.Engine.TurnDeadlineS > 120 {
		return fmt.Errorf("engine.turn_deadline_s must be within [0, 120]")
	}
	if c.Sandbox.DefaultTimeoutS < 0 || c.Sandbox.DefaultTimeoutS > 60 {
		return fmt.Errorf("sandbox.default_timeout_s must be within [0, 60]")
	}
	if d := c.Storage.StorageDriver(); d != "sqlite" && d != "postgres" {
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", d)
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	}
	if c.Handoff != nil && c.Handoff.WorkingHours != nil {
		wh := c.Handoff.WorkingHours
		if wh.Start < 0 || wh.Start > 23 || wh.End < 0 || wh.End > 24 {
			return fmt.Errorf("handoff.working_hours start/end must be hours of day")
		}
		if wh.Timezone != "" {
			if _, err := time.LoadLocation(wh.Timezone); err != nil {
				return fmt.Errorf("handoff.working_hours.timezone: %w", err)
			}
		}
	}
	if c.LLM != nil && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.api_key is required (or set OPENAI_API_KEY, or point base_url at a local server)")
	}
	return nil
}
