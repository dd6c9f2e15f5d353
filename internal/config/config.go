// Package config loads and validates application configuration.
// The environment is the source of truth; an optional YAML file pointed
// at by CONFIG_FILE overlays it, and the watcher re-applies the overlay
// on change for the settings that are safe to adjust at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"curio-backend/internal/redact"
)

const (
	Development = "development"
	Staging     = "staging"
	Production  = "production"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=development staging production"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Queue     QueueConfig     `yaml:"queue"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig holds the embedded store settings.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LLMConfig holds provider settings for both phases.
type LLMConfig struct {
	APIKey            string        `yaml:"api_key"`
	ClassifyModel     string        `yaml:"classify_model" validate:"required"`
	EnrichModel       string        `yaml:"enrich_model" validate:"required"`
	ClassifyMaxTokens int           `yaml:"classify_max_tokens" validate:"min=64"`
	EnrichMaxTokens   int           `yaml:"enrich_max_tokens" validate:"min=64"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxConcurrent     int64         `yaml:"max_concurrent" validate:"min=1"`
}

// FetchConfig bounds outbound content fetches.
type FetchConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes" validate:"min=1024"`
	PerHostConcurrency int64         `yaml:"per_host_concurrency" validate:"min=1"`
	GlobalConcurrency  int64         `yaml:"global_concurrency" validate:"min=1"`
	UpgradeHTTP        bool          `yaml:"upgrade_http"`
	UserAgent          string        `yaml:"user_agent"`
	GitHubToken        string        `yaml:"github_token"`
}

// QueueConfig drives the background processing queue.
type QueueConfig struct {
	Workers            int           `yaml:"workers" validate:"min=1"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	VisibilityTimeout  time.Duration `yaml:"visibility_timeout"`
	ReaperInterval     time.Duration `yaml:"reaper_interval"`
	MaxAttempts        int           `yaml:"max_attempts" validate:"min=1"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffCeiling     time.Duration `yaml:"backoff_ceiling"`
	CompletedRetention time.Duration `yaml:"completed_retention"`
}

// CacheConfig sizes the in-memory caches.
type CacheConfig struct {
	MaxEntries        int           `yaml:"max_entries" validate:"min=16"`
	HierarchyTTL      time.Duration `yaml:"hierarchy_ttl"`
	ClassificationTTL time.Duration `yaml:"classification_ttl"`
}

// RateLimitConfig throttles the HTTP surface per client IP.
type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled"`
	PerMinute       int  `yaml:"per_minute" validate:"min=1"`
	ImportPerMinute int  `yaml:"import_per_minute" validate:"min=1"`
}

// TracingConfig configures the optional OTLP exporter.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// LoadConfig loads configuration from environment variables, then overlays
// the optional YAML file named by CONFIG_FILE, then validates.
func LoadConfig() (*Config, error) {
	cfg := fromEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", Development),

		Server: ServerConfig{
			Host:            getEnv("HOST", "127.0.0.1"),
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
			MaxBodyBytes:    getEnvInt64("SERVER_MAX_BODY_BYTES", 1<<20),
		},

		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/curio.db"),
		},

		LLM: LLMConfig{
			APIKey:            getEnv("ANTHROPIC_API_KEY", ""),
			ClassifyModel:     getEnv("LLM_CLASSIFY_MODEL", "claude-3-5-haiku-latest"),
			EnrichModel:       getEnv("LLM_ENRICH_MODEL", "claude-3-5-sonnet-latest"),
			ClassifyMaxTokens: getEnvInt("LLM_CLASSIFY_MAX_TOKENS", 1024),
			EnrichMaxTokens:   getEnvInt("LLM_ENRICH_MAX_TOKENS", 2048),
			Timeout:           getEnvDuration("LLM_TIMEOUT", 60*time.Second),
			MaxConcurrent:     getEnvInt64("LLM_MAX_CONCURRENT", 4),
		},

		Fetch: FetchConfig{
			Timeout:            getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			MaxBodyBytes:       getEnvInt64("FETCH_MAX_BODY_BYTES", 10<<20),
			PerHostConcurrency: getEnvInt64("FETCH_PER_HOST_CONCURRENCY", 4),
			GlobalConcurrency:  getEnvInt64("FETCH_GLOBAL_CONCURRENCY", 16),
			UpgradeHTTP:        getEnvBool("FETCH_UPGRADE_HTTP", true),
			UserAgent:          getEnv("FETCH_USER_AGENT", "curio-backend/"+Version),
			GitHubToken:        getEnv("GITHUB_TOKEN", ""),
		},

		Queue: QueueConfig{
			Workers:            getEnvInt("QUEUE_WORKERS", 3),
			PollInterval:       getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
			VisibilityTimeout:  getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 10*time.Minute),
			ReaperInterval:     getEnvDuration("QUEUE_REAPER_INTERVAL", time.Minute),
			MaxAttempts:        getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:        getEnvDuration("QUEUE_BACKOFF_BASE", time.Second),
			BackoffCeiling:     getEnvDuration("QUEUE_BACKOFF_CEILING", 5*time.Minute),
			CompletedRetention: getEnvDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour),
		},

		Cache: CacheConfig{
			MaxEntries:        getEnvInt("CACHE_MAX_ENTRIES", 10000),
			HierarchyTTL:      getEnvDuration("HIERARCHY_CACHE_TTL", 5*time.Minute),
			ClassificationTTL: getEnvDuration("CLASSIFICATION_CACHE_TTL", time.Hour),
		},

		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			PerMinute:       getEnvInt("RATE_LIMIT_PER_MINUTE", 100),
			ImportPerMinute: getEnvInt("RATE_LIMIT_IMPORT_PER_MINUTE", 10),
		},

		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},

		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// overlayFile merges the YAML file at path over the current values.
// Zero values in the file leave the environment-derived value in place
// only for absent keys; present keys win, which is what yaml.Unmarshal
// into the existing struct gives us.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can support the process.
// Failures here abort boot.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("config validation: queue backoff base must be positive")
	}
	if c.Queue.BackoffBase >= c.Queue.BackoffCeiling {
		return fmt.Errorf("config validation: queue backoff base %s must be below ceiling %s",
			c.Queue.BackoffBase, c.Queue.BackoffCeiling)
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("config validation: queue visibility timeout must be positive")
	}
	if c.Cache.ClassificationTTL <= 0 {
		return fmt.Errorf("config validation: classification cache TTL must be positive")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// Redacted returns a loggable view of the configuration with every
// sensitive option replaced. The YAML round trip keeps the key names in
// sync with the struct without a hand-maintained mirror.
func (c *Config) Redacted() map[string]any {
	data, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{"error": "config not serializable"}
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return map[string]any{"error": "config not serializable"}
	}
	return redact.Map(m)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 gets a 64-bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
