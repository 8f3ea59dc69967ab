package limiter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Algorithm:     TokenBucket,
		RatePerSecond: 5,
		BurstCapacity: 10,
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"missing algorithm":         func(c *Config) { c.Algorithm = "" },
		"zero rate":                 func(c *Config) { c.RatePerSecond = 0 },
		"negative rate":             func(c *Config) { c.RatePerSecond = -1 },
		"zero burst":                func(c *Config) { c.BurstCapacity = 0 },
		"negative safety buffer":    func(c *Config) { c.SafetyBuffer = -0.5 },
		"safety buffer above one":   func(c *Config) { c.SafetyBuffer = 1.5 },
		"negative window":           func(c *Config) { c.WindowSize = -time.Second },
		"sub-second cleanup":        func(c *Config) { c.CleanupInterval = 100 * time.Millisecond },
		"non-positive endpoint":     func(c *Config) { c.EndpointLimits = map[string]float64{"k": 0} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
		})
	}
}

func TestConfig_Validate_UnknownAlgorithm(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithm = "weighted_fair_queue"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedAlgorithm))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := validConfig().withDefaults()
	assert.Equal(t, DefaultSafetyBuffer, cfg.SafetyBuffer)
	assert.Equal(t, DefaultWindowSize, cfg.WindowSize)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
}

func TestConfig_Identity(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "5|10|0", cfg.identity())

	cfg.StateFile = "/tmp/state.json"
	assert.Equal(t, "/tmp/state.json", cfg.identity())
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Algorithm: TokenBucket})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNew_UnsupportedAlgorithm(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithm = "sliding_log"
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedAlgorithm))
}

func TestNew_AllAlgorithms(t *testing.T) {
	for _, algo := range []Algorithm{TokenBucket, LeakyBucket, FixedWindow, SlidingWindow} {
		cfg := validConfig()
		cfg.Algorithm = algo
		lim, err := New(cfg)
		require.NoError(t, err, "algorithm %s", algo)
		status := lim.Status("k")
		assert.Equal(t, algo, status.Algorithm)
		lim.Close()
	}
}
