package limiter

import (
	"fmt"
	"time"
)

// Default values applied by New when the corresponding Config field is zero.
const (
	DefaultSafetyBuffer    = 0.8
	DefaultWindowSize      = time.Second
	DefaultCleanupInterval = time.Hour
)

// Header mapping field names. These are the keys of Config.HeaderMappings;
// the values are the header names the remote service actually uses.
const (
	FieldLimit          = "limit"
	FieldRemaining      = "remaining"
	FieldReset          = "reset"
	FieldRetryAfter     = "retry_after"
	FieldDailyLimit     = "daily_limit"
	FieldHourlyLimit    = "hourly_limit"
	FieldDailyRemaining = "daily_remaining"
)

// Config is the immutable parameter bundle for one limiter. The zero value is
// not usable; Algorithm, RatePerSecond and BurstCapacity must be set.
type Config struct {
	// Algorithm selects the pacing algorithm.
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`

	// RatePerSecond is the steady-state admission rate before the safety
	// buffer is applied. Must be positive.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`

	// BurstCapacity is the maximum number of tokens admissible in one burst.
	// Must be at least 1.
	BurstCapacity int `yaml:"burst_capacity" json:"burst_capacity"`

	// SafetyBuffer derates every effective rate, local or header-derived.
	// Must be in (0, 1]. Zero means DefaultSafetyBuffer.
	SafetyBuffer float64 `yaml:"safety_buffer" json:"safety_buffer"`

	// EndpointLimits overrides RatePerSecond for specific keys
	// (pre-safety-buffer).
	EndpointLimits map[string]float64 `yaml:"endpoint_limits" json:"endpoint_limits,omitempty"`

	// HeaderMappings maps internal field names (FieldLimit, FieldRemaining,
	// ...) to the response header names the remote service uses. Nil disables
	// header reconciliation; see DefaultHeaderMappings.
	HeaderMappings map[string]string `yaml:"header_mappings" json:"header_mappings,omitempty"`

	// WindowSize is the window length for the window-based algorithms.
	// Zero means DefaultWindowSize.
	WindowSize time.Duration `yaml:"window_size" json:"window_size"`

	// PersistState enables loading and saving state across process lifetime.
	PersistState bool `yaml:"persist_state" json:"persist_state"`

	// StateFile is the target path for the file backend. Relative paths
	// resolve against the working directory; paths escaping the working
	// directory and the system temp directory are rejected.
	StateFile string `yaml:"state_file" json:"state_file,omitempty"`

	// CleanupInterval is the age after which dormant keys may be reclaimed.
	// Zero means DefaultCleanupInterval.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// DefaultHeaderMappings returns mappings for the de-facto standard
// X-RateLimit-* header family.
func DefaultHeaderMappings() map[string]string {
	return map[string]string{
		FieldLimit:      "X-RateLimit-Limit",
		FieldRemaining:  "X-RateLimit-Remaining",
		FieldReset:      "X-RateLimit-Reset",
		FieldRetryAfter: "Retry-After",
	}
}

// withDefaults returns a copy of c with zero-valued optional fields replaced
// by their defaults.
func (c Config) withDefaults() Config {
	if c.SafetyBuffer == 0 {
		c.SafetyBuffer = DefaultSafetyBuffer
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// Validate checks the configuration. Zero values for SafetyBuffer, WindowSize
// and CleanupInterval are accepted here; New replaces them with defaults
// before use. An unknown algorithm tag is reported as ErrUnsupportedAlgorithm;
// every other violation as ErrInvalidConfig.
func (c Config) Validate() error {
	switch c.Algorithm {
	case TokenBucket, FixedWindow, SlidingWindow, LeakyBucket:
	case "":
		return fmt.Errorf("%w: algorithm is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, c.Algorithm)
	}

	if c.RatePerSecond <= 0 {
		return fmt.Errorf("%w: rate_per_second must be positive, got %g", ErrInvalidConfig, c.RatePerSecond)
	}
	if c.BurstCapacity < 1 {
		return fmt.Errorf("%w: burst_capacity must be at least 1, got %d", ErrInvalidConfig, c.BurstCapacity)
	}
	if c.SafetyBuffer != 0 && (c.SafetyBuffer < 0 || c.SafetyBuffer > 1) {
		return fmt.Errorf("%w: safety_buffer must be in (0, 1], got %g", ErrInvalidConfig, c.SafetyBuffer)
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("%w: window_size must be positive, got %s", ErrInvalidConfig, c.WindowSize)
	}
	if c.CleanupInterval != 0 && c.CleanupInterval < time.Second {
		return fmt.Errorf("%w: cleanup_interval must be at least 1s, got %s", ErrInvalidConfig, c.CleanupInterval)
	}
	for key, rate := range c.EndpointLimits {
		if rate <= 0 {
			return fmt.Errorf("%w: endpoint limit for %q must be positive, got %g", ErrInvalidConfig, key, rate)
		}
	}
	return nil
}

// identity returns the material hashed into the persistence cache key: the
// state-file path when configured, else the rate/burst/window tuple.
func (c Config) identity() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return fmt.Sprintf("%g|%d|%d", c.RatePerSecond, c.BurstCapacity, c.WindowSize.Milliseconds())
}
