// Package models - Service configuration and operational settings.
// This file defines comprehensive configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, upstream, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Support for multiple deployment scenarios (development, production, cloud)
// - Every field is consumed by a component; no decorative settings
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Outbound limiter strategy names. The ladder is ordered from most to least
// cautious; a 429 from the provider steps the active strategy down one notch.
const (
	StrategyConservative = "conservative"
	StrategyNormal       = "normal"
	StrategyAggressive   = "aggressive"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Cache persistence configuration
// - Upstream: Market-data provider endpoint
// - Limiter: Outbound pacing toward the provider
// - Security: Authentication and inbound rate limiting
// - Cache: TTLs and retention for stored market data
// - Logging: Structured logging and output configuration
// - Metrics: Monitoring and observability
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`     // HTTP server configuration
	Storage  StorageConfig  `yaml:"storage" json:"storage"`   // Data persistence settings
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"` // Market-data provider
	Limiter  LimiterConfig  `yaml:"limiter" json:"limiter"`   // Outbound rate limiting
	Security SecurityConfig `yaml:"security" json:"security"` // Authentication and inbound limits
	Cache    CacheConfig    `yaml:"cache" json:"cache"`       // Market-data caching
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`   // Logging and output configuration
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`   // Monitoring and metrics
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// UpstreamConfig locates the market-data provider.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// LimiterConfig tunes the adaptive outbound limiter. Strategy picks the
// requests-per-minute ceiling (conservative=6, normal=12, aggressive=30).
type LimiterConfig struct {
	Strategy      string        `yaml:"strategy" json:"strategy"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	Cooldown      time.Duration `yaml:"cooldown" json:"cooldown"`
}

type SecurityConfig struct {
	EnableAuth   bool            `yaml:"enable_auth" json:"enable_auth"`
	BootstrapKey string          `yaml:"bootstrap_key" json:"bootstrap_key"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// CacheConfig governs how long fetched market data stays fresh and when
// expired rows are swept from storage.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	QuoteTTL       time.Duration `yaml:"quote_ttl" json:"quote_ttl"`
	HistoryTTL     time.Duration `yaml:"history_ttl" json:"history_ttl"`
	PruneSchedule  string        `yaml:"prune_schedule" json:"prune_schedule"`
	RetentionGrace time.Duration `yaml:"retention_grace" json:"retention_grace"`
}

type MetricsConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Path           string  `yaml:"path" json:"path"`
	Port           int     `yaml:"port" json:"port"`
	TracingEnabled bool    `yaml:"tracing_enabled" json:"tracing_enabled"`
	TraceExporter  string  `yaml:"trace_exporter" json:"trace_exporter"` // stdout or otlp
	OTLPEndpoint   string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory storage: quotes are ephemeral, a process-lifetime cache is a
//   sensible starting point; sqlite/postgres are the durable options
// - Normal strategy (12 rpm): the provider tolerates it on free tiers
// - Cooldown 1h: a 429 means back off hard, not politely
// - 5m quote TTL / 1h history TTL: freshness vs. provider quota balance
// - Rate limiting enabled: prevent abuse from the start
// - Metrics enabled by default for monitoring
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/cache.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:   "https://query1.finance.yahoo.com",
			Timeout:   10 * time.Second,
			UserAgent: "stockd",
		},
		Limiter: LimiterConfig{
			Strategy:      StrategyNormal,
			BackoffFactor: 2.0,
			MaxRetries:    3,
			Cooldown:      time.Hour,
		},
		Security: SecurityConfig{
			EnableAuth: false,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Enabled:        true,
			QuoteTTL:       5 * time.Minute,
			HistoryTTL:     time.Hour,
			PruneSchedule:  "*/10 * * * *",
			RetentionGrace: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Path:          "/metrics",
			Port:          9090,
			TraceExporter: "stdout",
			SampleRate:    1.0,
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}
	found := false
	for _, vt := range validTypes {
		if stc.Type == vt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Type == StorageTypeJSON && stc.Path == "" {
		return errors.New("path is required for JSON storage")
	}

	if (stc.Type == StorageTypePostgres || stc.Type == StorageTypeSQLite) && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.BaseURL == "" {
		return errors.New("base URL cannot be empty")
	}

	parsed, err := url.Parse(uc.BaseURL)
	if err != nil {
		return fmt.Errorf("malformed base URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("base URL must use HTTP or HTTPS scheme")
	}

	if parsed.Host == "" {
		return errors.New("base URL must have a valid host")
	}

	if uc.Timeout <= 0 {
		return errors.New("upstream timeout must be positive")
	}

	return nil
}

func (lc *LimiterConfig) Validate() error {
	switch lc.Strategy {
	case StrategyConservative, StrategyNormal, StrategyAggressive:
	default:
		return fmt.Errorf("invalid limiter strategy: %s", lc.Strategy)
	}

	if lc.BackoffFactor <= 0 {
		return errors.New("backoff factor must be positive")
	}

	if lc.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}

	if lc.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute < 1 {
			return errors.New("requests per minute must be at least 1")
		}
		if sec.RateLimit.BurstSize < 1 {
			return errors.New("burst size must be at least 1")
		}
		if sec.RateLimit.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	}

	if sec.EnableAuth && sec.BootstrapKey != "" && len(sec.BootstrapKey) < 16 {
		return errors.New("bootstrap key must be at least 16 characters")
	}

	return nil
}

func (cc *CacheConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}

	if cc.QuoteTTL <= 0 {
		return errors.New("quote TTL must be positive")
	}

	if cc.HistoryTTL <= 0 {
		return errors.New("history TTL must be positive")
	}

	if cc.RetentionGrace < 0 {
		return errors.New("retention grace cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	if mc.TracingEnabled {
		switch mc.TraceExporter {
		case "stdout":
		case "otlp":
			if mc.OTLPEndpoint == "" {
				return errors.New("OTLP endpoint is required for the otlp exporter")
			}
		default:
			return fmt.Errorf("invalid trace exporter: %s", mc.TraceExporter)
		}
	}

	if mc.SampleRate < 0 || mc.SampleRate > 1 {
		return errors.New("sample rate must be within [0, 1]")
	}

	return nil
}
