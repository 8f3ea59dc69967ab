package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow_ResetAtBoundary(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 1,
		BurstCapacity: 1,
		SafetyBuffer:  1.0,
		WindowSize:    time.Second,
	}, clock)

	require.True(t, lim.Allow("k"))
	assert.False(t, lim.Allow("k"), "window budget of 1 is spent")

	clock.Advance(time.Second)
	assert.True(t, lim.Allow("k"), "a new window opens at the boundary")
}

func TestFixedWindow_EffectiveLimitFromRate(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 2.5,
		BurstCapacity: 10,
		SafetyBuffer:  1.0,
		WindowSize:    2 * time.Second,
	}, clock)

	// ceil(2.5/s x 2s) = 5 per window.
	status := lim.Status("k")
	assert.Equal(t, 5, status.Raw["limit"])
	for i := 0; i < 5; i++ {
		require.True(t, lim.Allow("k"), "request %d", i+1)
	}
	assert.False(t, lim.Allow("k"))
}

func TestFixedWindow_WaitTimeIsWindowRemainder(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 1,
		BurstCapacity: 1,
		SafetyBuffer:  1.0,
		WindowSize:    time.Second,
	}, clock)

	require.True(t, lim.Allow("k"))
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, 700*time.Millisecond, lim.WaitTime("k"))
}

func TestFixedWindow_DenialLeavesStateUnchanged(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 3,
		BurstCapacity: 3,
		SafetyBuffer:  1.0,
		WindowSize:    time.Second,
	}, clock)

	require.True(t, lim.AllowN("k", 2))
	before := lim.Status("k")
	require.False(t, lim.AllowN("k", 2))
	after := lim.Status("k")
	assert.Equal(t, before.Raw["count"], after.Raw["count"])
}

func TestFixedWindow_DailyLimitHeaderCapsRate(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 10,
		BurstCapacity: 10,
		SafetyBuffer:  1.0,
		WindowSize:    time.Second,
		HeaderMappings: map[string]string{
			FieldDailyLimit: "X-RateLimit-Limit-Day",
		},
	}, clock)

	require.True(t, lim.Allow("k"))
	// 43200/day = 0.5/s, well under the configured 10/s.
	lim.UpdateFromHeaders("k", headerOf("X-RateLimit-Limit-Day", "43200"))

	clock.Advance(time.Second)
	status := lim.Status("k")
	assert.Equal(t, 1, status.Raw["limit"], "the daily cap projects to 1 per window")
}

func TestFixedWindow_DailyRemainingProjectsOntoWindow(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:     FixedWindow,
		RatePerSecond: 10,
		BurstCapacity: 10,
		SafetyBuffer:  1.0,
		WindowSize:    time.Minute,
		HeaderMappings: map[string]string{
			FieldDailyRemaining: "X-RateLimit-Remaining-Day",
		},
	}, clock)

	// Window budget: ceil(10/s x 60s) = 600.
	require.True(t, lim.AllowN("k", 10))
	// 14400 left today projects to 14400 x 60/86400 = 10 in this window;
	// the counter rises to 600 - 10 = 590.
	lim.UpdateFromHeaders("k", headerOf("X-RateLimit-Remaining-Day", "14400"))
	status := lim.Status("k")
	assert.Equal(t, 590, status.Raw["count"])

	// A healthier projection never lowers the counter.
	lim.UpdateFromHeaders("k", headerOf("X-RateLimit-Remaining-Day", "864000"))
	status = lim.Status("k")
	assert.Equal(t, 590, status.Raw["count"])
}

func TestFixedWindow_RemainingHeaderRaisesCounter(t *testing.T) {
	clock := newFakeClock()
	lim := newTestLimiter(t, Config{
		Algorithm:      FixedWindow,
		RatePerSecond:  10,
		BurstCapacity:  10,
		SafetyBuffer:   1.0,
		WindowSize:     time.Second,
		HeaderMappings: DefaultHeaderMappings(),
	}, clock)

	require.True(t, lim.AllowN("k", 2))
	// Limit 10 per window, server says 4 remain: counter becomes 6.
	lim.UpdateFromHeaders("k", headerOf("X-RateLimit-Remaining", "4"))
	status := lim.Status("k")
	assert.Equal(t, 6, status.Raw["count"])
}
