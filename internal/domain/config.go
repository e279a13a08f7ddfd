package domain

import (
	"time"
)

// Configuration Models

// Config represents the main application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Reporting ReportingConfig `mapstructure:"reporting"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ReportingConfig represents the external spontaneous-report database
// endpoint configuration, including its request budget.
type ReportingConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    int           `mapstructure:"rate_limit"` // requests per window
	RateWindow   time.Duration `mapstructure:"rate_window"`
	Burst        int           `mapstructure:"burst"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// CacheConfig represents cache configuration. When RedisURL is empty the
// engine falls back to a bounded in-process TTL cache.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MemorySize  int           `mapstructure:"memory_size"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// HeterogeneityPolicy controls how the random-effects estimator treats
// clinically heterogeneous pooling: annotate the estimate or reject it.
type HeterogeneityPolicy string

const (
	HETEROGENEITY_ANNOTATE HeterogeneityPolicy = "annotate"
	HETEROGENEITY_REJECT   HeterogeneityPolicy = "reject"
)

// AnalysisConfig holds statistical defaults and the versioned clinical
// configuration: priors per adverse event type, mitigation strategies and
// their pairwise mechanistic correlations.
type AnalysisConfig struct {
	ConfigVersion       string              `mapstructure:"config_version"`
	CredibleLevel       float64             `mapstructure:"credible_level"`
	MonteCarloSamples   int                 `mapstructure:"monte_carlo_samples"`
	HeterogeneityPolicy HeterogeneityPolicy `mapstructure:"heterogeneity_policy"`
	HeterogeneityI2Max  float64             `mapstructure:"heterogeneity_i2_max"`
	// WeberWindow suppresses or annotates signals for products approved more
	// recently than this window, where stimulated reporting inflates counts.
	WeberWindow   time.Duration        `mapstructure:"weber_window"`
	WeberSuppress bool                 `mapstructure:"weber_suppress"`
	Priors        []PriorEntry         `mapstructure:"priors"`
	Strategies    []MitigationStrategy `mapstructure:"strategies"`
	Correlations  []CorrelationEntry   `mapstructure:"correlations"`
}

// PriorEntry binds a versioned prior to an adverse event type in the
// configuration store.
type PriorEntry struct {
	EventType AdverseEventType `mapstructure:"event_type"`
	Prior     Prior            `mapstructure:",squash"`
}

// CorrelationEntry is one pairwise mechanistic-overlap coefficient.
type CorrelationEntry struct {
	StrategyA string  `mapstructure:"strategy_a"`
	StrategyB string  `mapstructure:"strategy_b"`
	Rho       float64 `mapstructure:"rho"`
}
