// Package config loads named limiter profiles from a YAML file with
// environment-variable overrides. It exists for applications that configure
// their API clients from deployment config; library users can also construct
// limiter.Config values directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fourlimit/internal/logger"
	"fourlimit/limiter"
	"fourlimit/statestore"
)

// Config is the full loaded configuration: logging, an optional shared state
// store, and one limiter profile per remote API.
type Config struct {
	Logging  logger.Config            `yaml:"logging"`
	Store    *statestore.Config       `yaml:"store"`
	Limiters map[string]LimiterConfig `yaml:"limiters"`
}

// LimiterConfig is the YAML shape of one limiter profile. Durations are the
// integer units the wire format uses (milliseconds for windows, seconds for
// cleanup).
type LimiterConfig struct {
	Algorithm              string             `yaml:"algorithm"`
	RatePerSecond          float64            `yaml:"rate_per_second"`
	BurstCapacity          int                `yaml:"burst_capacity"`
	SafetyBuffer           float64            `yaml:"safety_buffer"`
	EndpointLimits         map[string]float64 `yaml:"endpoint_limits"`
	HeaderMappings         map[string]string  `yaml:"header_mappings"`
	WindowSizeMS           int                `yaml:"window_size_ms"`
	PersistState           bool               `yaml:"persist_state"`
	StateFile              string             `yaml:"state_file"`
	CleanupIntervalSeconds int                `yaml:"cleanup_interval_seconds"`
}

// Limiter converts the profile to a limiter.Config.
func (lc LimiterConfig) Limiter() limiter.Config {
	return limiter.Config{
		Algorithm:       limiter.Algorithm(lc.Algorithm),
		RatePerSecond:   lc.RatePerSecond,
		BurstCapacity:   lc.BurstCapacity,
		SafetyBuffer:    lc.SafetyBuffer,
		EndpointLimits:  lc.EndpointLimits,
		HeaderMappings:  lc.HeaderMappings,
		WindowSize:      time.Duration(lc.WindowSizeMS) * time.Millisecond,
		PersistState:    lc.PersistState,
		StateFile:       lc.StateFile,
		CleanupInterval: time.Duration(lc.CleanupIntervalSeconds) * time.Second,
	}
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Limiters: map[string]LimiterConfig{},
	}
}

// Load loads configuration from file and environment variables. A missing
// path loads defaults plus environment overrides; validation runs on the
// final result.
func Load(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(config *Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies FOURLIMIT_* environment overrides.
func loadFromEnvironment(config *Config) {
	if level := os.Getenv("FOURLIMIT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("FOURLIMIT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("FOURLIMIT_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	if storeType := os.Getenv("FOURLIMIT_STORE_TYPE"); storeType != "" {
		if config.Store == nil {
			config.Store = &statestore.Config{}
		}
		config.Store.Type = storeType
	}
	if config.Store != nil {
		if path := os.Getenv("FOURLIMIT_STORE_PATH"); path != "" {
			config.Store.Path = path
		}
		if dsn := os.Getenv("FOURLIMIT_STORE_DSN"); dsn != "" {
			config.Store.DSN = dsn
		}
		if addr := os.Getenv("FOURLIMIT_STORE_ADDR"); addr != "" {
			config.Store.Addr = addr
		}
		if password := os.Getenv("FOURLIMIT_STORE_PASSWORD"); password != "" {
			config.Store.Password = password
		}
	}

	if persist := os.Getenv("FOURLIMIT_PERSIST_STATE"); persist != "" {
		value := strings.ToLower(persist) == "true"
		for name, lc := range config.Limiters {
			lc.PersistState = value
			config.Limiters[name] = lc
		}
	}
	if safety := os.Getenv("FOURLIMIT_SAFETY_BUFFER"); safety != "" {
		if f, err := strconv.ParseFloat(safety, 64); err == nil {
			for name, lc := range config.Limiters {
				lc.SafetyBuffer = f
				config.Limiters[name] = lc
			}
		}
	}
}

// Validate checks every limiter profile and the optional store block.
func (c *Config) Validate() error {
	for name, lc := range c.Limiters {
		if err := lc.Limiter().Validate(); err != nil {
			return fmt.Errorf("limiter %q: %w", name, err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Validate(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	return nil
}
