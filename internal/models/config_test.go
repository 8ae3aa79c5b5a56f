package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyNormal, cfg.Limiter.Strategy)
	assert.Equal(t, 2.0, cfg.Limiter.BackoffFactor)
	assert.Equal(t, 3, cfg.Limiter.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Limiter.Cooldown)
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "default ok",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "port out of range",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between",
		},
		{
			name:        "empty host",
			mutate:      func(c *Config) { c.Server.Host = "" },
			expectError: true,
			errorMsg:    "host cannot be empty",
		},
		{
			name:        "tls without cert",
			mutate:      func(c *Config) { c.Server.TLSEnabled = true },
			expectError: true,
			errorMsg:    "TLS cert file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStorageConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Storage.Type = "cassandra"
	assert.ErrorContains(t, cfg.Storage.Validate(), "invalid storage type")

	cfg.Storage.Type = StorageTypeJSON
	cfg.Storage.Path = ""
	assert.ErrorContains(t, cfg.Storage.Validate(), "path is required")

	cfg.Storage.Type = StorageTypePostgres
	cfg.Storage.Database.DSN = ""
	assert.ErrorContains(t, cfg.Storage.Validate(), "DSN is required")

	cfg.Storage.Database.DSN = "postgres://localhost/stockd"
	assert.NoError(t, cfg.Storage.Validate())
}

func TestUpstreamConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Upstream.Validate())

	cfg.Upstream.BaseURL = "ftp://example.com"
	assert.ErrorContains(t, cfg.Upstream.Validate(), "HTTP or HTTPS")

	cfg.Upstream.BaseURL = ""
	assert.ErrorContains(t, cfg.Upstream.Validate(), "base URL cannot be empty")

	cfg.Upstream.BaseURL = "https://query1.finance.yahoo.com"
	cfg.Upstream.Timeout = 0
	assert.ErrorContains(t, cfg.Upstream.Validate(), "timeout must be positive")
}

func TestLimiterConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         LimiterConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid conservative",
			cfg:         LimiterConfig{Strategy: StrategyConservative, BackoffFactor: 2, MaxRetries: 3, Cooldown: time.Hour},
			expectError: false,
		},
		{
			name:        "unknown strategy",
			cfg:         LimiterConfig{Strategy: "reckless", BackoffFactor: 2, MaxRetries: 3, Cooldown: time.Hour},
			expectError: true,
			errorMsg:    "invalid limiter strategy",
		},
		{
			name:        "zero backoff factor",
			cfg:         LimiterConfig{Strategy: StrategyNormal, BackoffFactor: 0, MaxRetries: 3, Cooldown: time.Hour},
			expectError: true,
			errorMsg:    "backoff factor must be positive",
		},
		{
			name:        "zero retries",
			cfg:         LimiterConfig{Strategy: StrategyNormal, BackoffFactor: 2, MaxRetries: 0, Cooldown: time.Hour},
			expectError: true,
			errorMsg:    "max retries must be at least 1",
		},
		{
			name:        "zero cooldown",
			cfg:         LimiterConfig{Strategy: StrategyNormal, BackoffFactor: 2, MaxRetries: 3},
			expectError: true,
			errorMsg:    "cooldown must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecurityConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         SecurityConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid rate limit",
			cfg:         SecurityConfig{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 10, CleanupInterval: 5 * time.Minute}},
			expectError: false,
		},
		{
			name:        "disabled skips rate limit fields",
			cfg:         SecurityConfig{RateLimit: RateLimitConfig{Enabled: false}},
			expectError: false,
		},
		{
			name:        "zero requests per minute",
			cfg:         SecurityConfig{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 0, BurstSize: 10, CleanupInterval: 5 * time.Minute}},
			expectError: true,
			errorMsg:    "requests per minute must be at least 1",
		},
		{
			name:        "zero burst size",
			cfg:         SecurityConfig{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 0, CleanupInterval: 5 * time.Minute}},
			expectError: true,
			errorMsg:    "burst size must be at least 1",
		},
		{
			name:        "zero cleanup interval",
			cfg:         SecurityConfig{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 10}},
			expectError: true,
			errorMsg:    "cleanup interval must be positive",
		},
		{
			name:        "short bootstrap key",
			cfg:         SecurityConfig{EnableAuth: true, BootstrapKey: "stk_short", RateLimit: RateLimitConfig{Enabled: false}},
			expectError: true,
			errorMsg:    "bootstrap key must be at least 16 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheConfig_Validate(t *testing.T) {
	cfg := CacheConfig{Enabled: false}
	assert.NoError(t, cfg.Validate(), "disabled cache skips validation")

	cfg = CacheConfig{Enabled: true, QuoteTTL: time.Minute, HistoryTTL: time.Hour}
	assert.NoError(t, cfg.Validate())

	cfg.QuoteTTL = 0
	assert.ErrorContains(t, cfg.Validate(), "quote TTL must be positive")
}

func TestMetricsConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Metrics.TracingEnabled = true
	cfg.Metrics.TraceExporter = "otlp"
	assert.ErrorContains(t, cfg.Metrics.Validate(), "OTLP endpoint is required")

	cfg.Metrics.OTLPEndpoint = "localhost:4317"
	assert.NoError(t, cfg.Metrics.Validate())

	cfg.Metrics.SampleRate = 1.5
	assert.ErrorContains(t, cfg.Metrics.Validate(), "sample rate")
}
