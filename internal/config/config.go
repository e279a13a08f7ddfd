package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cart-safety-engine/internal/domain"
)

// Manager loads and validates the application configuration using Viper.
type Manager struct {
	v        *viper.Viper
	config   *domain.Config
	clinical *clinicalSnapshot
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	m.v.SetConfigName("config")
	m.v.SetConfigType("yaml")
	m.v.AddConfigPath(".")
	m.v.AddConfigPath("./config")
	m.v.AddConfigPath("/etc/cart-safety-engine/")

	m.v.SetEnvPrefix("CART_SAFETY")
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment variables suffice.
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := m.v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	clinical, err := buildClinical(config.Analysis)
	if err != nil {
		return fmt.Errorf("invalid clinical configuration: %w", err)
	}

	m.config = config
	m.clinical = clinical
	return nil
}

// setDefaults sets default configuration values. The prior defaults are
// placeholder registry summaries; deployments override them with the
// current versioned clinical configuration.
func (m *Manager) setDefaults() {
	// Server defaults
	m.v.SetDefault("server.host", "0.0.0.0")
	m.v.SetDefault("server.port", 8080)
	m.v.SetDefault("server.read_timeout", "30s")
	m.v.SetDefault("server.write_timeout", "30s")
	m.v.SetDefault("server.idle_timeout", "120s")

	// Reporting database defaults
	m.v.SetDefault("reporting.base_url", "https://api.fda.gov")
	m.v.SetDefault("reporting.timeout", "30s")
	m.v.SetDefault("reporting.rate_limit", 240)
	m.v.SetDefault("reporting.rate_window", "1m")
	m.v.SetDefault("reporting.burst", 4)
	m.v.SetDefault("reporting.retry_count", 3)
	m.v.SetDefault("reporting.retry_backoff", "500ms")

	// Cache defaults; an empty redis_url disables the Redis tier.
	m.v.SetDefault("cache.redis_url", "")
	m.v.SetDefault("cache.default_ttl", "24h")
	m.v.SetDefault("cache.max_retries", 3)
	m.v.SetDefault("cache.pool_size", 10)
	m.v.SetDefault("cache.pool_timeout", "4s")
	m.v.SetDefault("cache.memory_size", 512)

	// Logging defaults
	m.v.SetDefault("logging.level", "info")
	m.v.SetDefault("logging.format", "json")
	m.v.SetDefault("logging.output", "stdout")

	// Analysis defaults
	m.v.SetDefault("analysis.config_version", "defaults-2025.1")
	m.v.SetDefault("analysis.credible_level", 0.95)
	m.v.SetDefault("analysis.monte_carlo_samples", 10000)
	m.v.SetDefault("analysis.heterogeneity_policy", "annotate")
	m.v.SetDefault("analysis.heterogeneity_i2_max", 75.0)
	m.v.SetDefault("analysis.weber_window", "17520h") // two years
	m.v.SetDefault("analysis.weber_suppress", false)
	m.v.SetDefault("analysis.priors", []map[string]interface{}{
		{"event_type": "CRS", "alpha": 1.4, "beta": 8.6, "provenance": "pooled registry grade>=3 rates", "version": "defaults-2025.1"},
		{"event_type": "ICANS", "alpha": 0.9, "beta": 8.1, "provenance": "pooled registry grade>=3 rates", "version": "defaults-2025.1"},
		{"event_type": "HLH", "alpha": 0.21, "beta": 20.79, "provenance": "pooled registry rates", "version": "defaults-2025.1"},
		{"event_type": "ICAHS", "alpha": 0.3, "beta": 9.7, "provenance": "pooled registry rates", "version": "defaults-2025.1"},
		{"event_type": "LICATS", "alpha": 0.2, "beta": 19.8, "provenance": "pooled registry rates", "version": "defaults-2025.1"},
	})
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetReportingConfig returns the external reporting database configuration.
func (m *Manager) GetReportingConfig() *domain.ReportingConfig {
	return &m.config.Reporting
}

// GetCacheConfig returns cache configuration.
func (m *Manager) GetCacheConfig() *domain.CacheConfig {
	return &m.config.Cache
}

// GetLoggingConfig returns logging configuration.
func (m *Manager) GetLoggingConfig() *domain.LoggingConfig {
	return &m.config.Logging
}

// GetAnalysisConfig returns the statistical defaults.
func (m *Manager) GetAnalysisConfig() *domain.AnalysisConfig {
	return &m.config.Analysis
}

// Clinical returns the immutable versioned clinical configuration snapshot.
func (m *Manager) Clinical() domain.ClinicalConfig {
	return m.clinical
}

// Reload reloads the configuration, producing a fresh clinical snapshot.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Reporting.BaseURL == "" {
		return fmt.Errorf("reporting base URL is required")
	}
	if config.Reporting.RateLimit <= 0 {
		return fmt.Errorf("reporting rate limit must be positive")
	}
	if config.Reporting.RateWindow <= 0 {
		return fmt.Errorf("reporting rate window must be positive")
	}
	if config.Reporting.RetryCount < 0 {
		return fmt.Errorf("reporting retry count must not be negative")
	}

	if config.Cache.MemorySize <= 0 {
		return fmt.Errorf("cache memory size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if config.Analysis.CredibleLevel <= 0 || config.Analysis.CredibleLevel >= 1 {
		return fmt.Errorf("credible level must be in (0, 1): %f", config.Analysis.CredibleLevel)
	}
	if config.Analysis.MonteCarloSamples <= 0 {
		return fmt.Errorf("monte carlo sample count must be positive")
	}
	switch config.Analysis.HeterogeneityPolicy {
	case domain.HETEROGENEITY_ANNOTATE, domain.HETEROGENEITY_REJECT:
	default:
		return fmt.Errorf("invalid heterogeneity policy: %s", config.Analysis.HeterogeneityPolicy)
	}

	return nil
}
