// Package config loads engine configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Config is the complete engine configuration.
type Config struct {
	Scoring   ScoringConfig   `yaml:"scoring"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ScoringConfig holds the model selection weights.
type ScoringConfig struct {
	CostWeight    float64 `yaml:"cost_weight"`
	LatencyWeight float64 `yaml:"latency_weight"`
	ErrorWeight   float64 `yaml:"error_weight"`
	QualityWeight float64 `yaml:"quality_weight"`
}

// Weights converts the config to engine weights.
func (s ScoringConfig) Weights() types.ScoringWeights {
	return types.ScoringWeights{
		Cost:    s.CostWeight,
		Latency: s.LatencyWeight,
		Error:   s.ErrorWeight,
		Quality: s.QualityWeight,
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	DeviationThreshold float64       `yaml:"deviation_threshold"`
	ErrorRateCeiling   float64       `yaml:"error_rate_ceiling"`
	CoolDown           time.Duration `yaml:"cool_down"`
	MinSamples         int           `yaml:"min_samples"`
}

// RateLimitConfig holds the admission window lengths.
type RateLimitConfig struct {
	BurstWindow     time.Duration `yaml:"burst_window"`
	SustainedWindow time.Duration `yaml:"sustained_window"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	TTL            time.Duration `yaml:"ttl"`
	MaxEntries     int           `yaml:"max_entries"`
	NominalCostUSD float64       `yaml:"nominal_cost_usd"`
	KeyPrefix      string        `yaml:"key_prefix"`
}

// TelemetryConfig holds rolling window settings.
type TelemetryConfig struct {
	WindowSize int `yaml:"window_size"`
}

// CatalogConfig points at the model catalog file.
type CatalogConfig struct {
	Path      string `yaml:"path"`
	HotReload bool   `yaml:"hot_reload"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Logger builds a slog logger writing to stderr at the configured level
// and format. Unknown values fall back to info and json.
func (l LoggingConfig) Logger() *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if l.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// DefaultConfig returns a configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			CostWeight:    0.3,
			LatencyWeight: 0.2,
			ErrorWeight:   0.2,
			QualityWeight: 0.3,
		},
		Breaker: BreakerConfig{
			DeviationThreshold: 0.2,
			ErrorRateCeiling:   0.3,
			CoolDown:           60 * time.Second,
			MinSamples:         10,
		},
		RateLimit: RateLimitConfig{
			BurstWindow:     10 * time.Second,
			SustainedWindow: 60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        true,
			TTL:            5 * time.Minute,
			MaxEntries:     10000,
			NominalCostUSD: 0.0001,
		},
		Telemetry: TelemetryConfig{
			WindowSize: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for name, w := range map[string]float64{
		"scoring.cost_weight":    c.Scoring.CostWeight,
		"scoring.latency_weight": c.Scoring.LatencyWeight,
		"scoring.error_weight":   c.Scoring.ErrorWeight,
		"scoring.quality_weight": c.Scoring.QualityWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", name, w)
		}
	}

	if c.Breaker.DeviationThreshold <= 0 {
		return fmt.Errorf("breaker.deviation_threshold must be positive")
	}
	if c.Breaker.ErrorRateCeiling <= 0 || c.Breaker.ErrorRateCeiling > 1 {
		return fmt.Errorf("breaker.error_rate_ceiling must be within (0,1]")
	}
	if c.Breaker.CoolDown < 0 {
		return fmt.Errorf("breaker.cool_down cannot be negative")
	}
	if c.Breaker.MinSamples < 1 {
		return fmt.Errorf("breaker.min_samples must be at least 1")
	}

	if c.RateLimit.BurstWindow <= 0 {
		return fmt.Errorf("rate_limit.burst_window must be positive")
	}
	if c.RateLimit.SustainedWindow <= 0 {
		return fmt.Errorf("rate_limit.sustained_window must be positive")
	}
	if c.RateLimit.BurstWindow >= c.RateLimit.SustainedWindow {
		return fmt.Errorf("rate_limit.burst_window must be shorter than sustained_window")
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries cannot be negative")
	}
	if c.Cache.NominalCostUSD < 0 {
		return fmt.Errorf("cache.nominal_cost_usd cannot be negative")
	}

	if c.Telemetry.WindowSize < 1 {
		return fmt.Errorf("telemetry.window_size must be at least 1")
	}

	return nil
}
