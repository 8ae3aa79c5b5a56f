package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stockd/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors removed config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Security struct {
		JWTSecret string      `yaml:"jwt_secret"`
		APIKeys   interface{} `yaml:"api_keys"`
	} `yaml:"security"`
	Upstream struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"upstream"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The service continues to start normally - these keys are silently ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Cache.TTL != "" {
		slog.Warn("Config key was split into cache.quote_ttl and cache.history_ttl; set those instead.", "config_key", "cache.ttl")
	}
	if dep.Security.JWTSecret != "" {
		slog.Warn("Config key is no longer used and can be removed from your config file.", "config_key", "security.jwt_secret")
	}
	if dep.Security.APIKeys != nil {
		slog.Warn("Config key is no longer supported; API keys are stored in the storage backend and managed via /api/v1/keys.", "config_key", "security.api_keys")
	}
	if dep.Upstream.APIKey != "" {
		slog.Warn("Config key is no longer used; the chart endpoint requires no credentials.", "config_key", "upstream.api_key")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	if port := os.Getenv("STOCKD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("STOCKD_HOST"); host != "" {
		config.Server.Host = host
	}

	if timeout := os.Getenv("STOCKD_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.ReadTimeout = d
		}
	}

	if timeout := os.Getenv("STOCKD_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.WriteTimeout = d
		}
	}

	if timeout := os.Getenv("STOCKD_IDLE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.IdleTimeout = d
		}
	}

	if tls := os.Getenv("STOCKD_TLS_ENABLED"); tls != "" {
		config.Server.TLSEnabled = strings.ToLower(tls) == "true"
	}

	if certFile := os.Getenv("STOCKD_TLS_CERT_FILE"); certFile != "" {
		config.Server.TLSCertFile = certFile
	}

	if keyFile := os.Getenv("STOCKD_TLS_KEY_FILE"); keyFile != "" {
		config.Server.TLSKeyFile = keyFile
	}

	// Storage configuration
	if storageType := os.Getenv("STOCKD_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}

	if storagePath := os.Getenv("STOCKD_STORAGE_PATH"); storagePath != "" {
		config.Storage.Path = storagePath
	}

	if dsn := os.Getenv("STOCKD_DATABASE_DSN"); dsn != "" {
		config.Storage.Database.DSN = dsn
	}

	if maxOpen := os.Getenv("STOCKD_DATABASE_MAX_OPEN_CONNS"); maxOpen != "" {
		if conns, err := strconv.Atoi(maxOpen); err == nil {
			config.Storage.Database.MaxOpenConns = conns
		}
	}

	if maxIdle := os.Getenv("STOCKD_DATABASE_MAX_IDLE_CONNS"); maxIdle != "" {
		if conns, err := strconv.Atoi(maxIdle); err == nil {
			config.Storage.Database.MaxIdleConns = conns
		}
	}

	// Upstream configuration
	if baseURL := os.Getenv("STOCKD_UPSTREAM_BASE_URL"); baseURL != "" {
		config.Upstream.BaseURL = baseURL
	}

	if timeout := os.Getenv("STOCKD_UPSTREAM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Upstream.Timeout = d
		}
	}

	if userAgent := os.Getenv("STOCKD_UPSTREAM_USER_AGENT"); userAgent != "" {
		config.Upstream.UserAgent = userAgent
	}

	// Limiter configuration
	if strategy := os.Getenv("STOCKD_LIMITER_STRATEGY"); strategy != "" {
		config.Limiter.Strategy = strategy
	}

	if factor := os.Getenv("STOCKD_LIMITER_BACKOFF_FACTOR"); factor != "" {
		if f, err := strconv.ParseFloat(factor, 64); err == nil {
			config.Limiter.BackoffFactor = f
		}
	}

	if retries := os.Getenv("STOCKD_LIMITER_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.Limiter.MaxRetries = n
		}
	}

	if cooldown := os.Getenv("STOCKD_LIMITER_COOLDOWN"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			config.Limiter.Cooldown = d
		}
	}

	// Security configuration
	if auth := os.Getenv("STOCKD_ENABLE_AUTH"); auth != "" {
		config.Security.EnableAuth = strings.ToLower(auth) == "true"
	}

	// Bootstrap key from environment
	if bk := os.Getenv("STOCKD_BOOTSTRAP_KEY"); bk != "" {
		config.Security.BootstrapKey = bk
	}

	// Cache configuration
	if cache := os.Getenv("STOCKD_CACHE_ENABLED"); cache != "" {
		config.Cache.Enabled = strings.ToLower(cache) == "true"
	}

	if ttl := os.Getenv("STOCKD_CACHE_QUOTE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Cache.QuoteTTL = d
		}
	}

	if ttl := os.Getenv("STOCKD_CACHE_HISTORY_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Cache.HistoryTTL = d
		}
	}

	if schedule := os.Getenv("STOCKD_CACHE_PRUNE_SCHEDULE"); schedule != "" {
		config.Cache.PruneSchedule = schedule
	}

	if grace := os.Getenv("STOCKD_CACHE_RETENTION_GRACE"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			config.Cache.RetentionGrace = d
		}
	}

	// Logging configuration
	if level := os.Getenv("STOCKD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if format := os.Getenv("STOCKD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if output := os.Getenv("STOCKD_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if filePath := os.Getenv("STOCKD_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Metrics configuration
	if metrics := os.Getenv("STOCKD_METRICS_ENABLED"); metrics != "" {
		config.Metrics.Enabled = strings.ToLower(metrics) == "true"
	}

	if path := os.Getenv("STOCKD_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}

	if port := os.Getenv("STOCKD_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Metrics.Port = p
		}
	}

	if tracing := os.Getenv("STOCKD_TRACING_ENABLED"); tracing != "" {
		config.Metrics.TracingEnabled = strings.ToLower(tracing) == "true"
	}

	if exporter := os.Getenv("STOCKD_TRACE_EXPORTER"); exporter != "" {
		config.Metrics.TraceExporter = exporter
	}

	if endpoint := os.Getenv("STOCKD_OTLP_ENDPOINT"); endpoint != "" {
		config.Metrics.OTLPEndpoint = endpoint
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Set example bootstrap key
	config.Security.BootstrapKey = "stk_your-bootstrap-key-here"

	// Enable authentication for example
	config.Security.EnableAuth = true

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
