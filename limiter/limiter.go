// Package limiter implements client-side rate limiting for API clients that
// talk to services enforcing their own quotas. Four interchangeable pacing
// algorithms (token bucket, leaky bucket, fixed window, sliding window) sit
// behind a single Limiter contract. Per-key state can be persisted across
// process restarts through a pluggable state store, and local state can be
// reconciled against authoritative rate-limit response headers.
//
// A limiter is obtained from New:
//
//	lim, err := limiter.New(limiter.Config{
//		Algorithm:     limiter.TokenBucket,
//		RatePerSecond: 5,
//		BurstCapacity: 10,
//	})
//
// Each logical operation is keyed by a caller-chosen string. The caller asks
// Allow/AllowN for an immediate verdict, Wait/WaitN to block until admission
// or a deadline, and UpdateFromHeaders after a remote response to fold the
// server's view of the quota into the local model.
package limiter

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"fourlimit/statestore"
)

// Algorithm identifies a pacing algorithm.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	LeakyBucket   Algorithm = "leaky_bucket"
)

const (
	// fallbackWait is reported when no meaningful wait time can be computed
	// (non-positive effective rate). Wait times always describe a single-token
	// request, so a request larger than capacity does not produce this value.
	fallbackWait = 30 * time.Second

	// DefaultMaxWait bounds Wait when the caller passes no budget.
	DefaultMaxWait = 30 * time.Second
)

// Limiter is the uniform contract satisfied by every algorithm. Implementations
// are safe for concurrent use; each per-key state is owned exclusively by the
// limiter that created it.
type Limiter interface {
	// Allow reports whether a single request is admissible for key and, when
	// it is, charges one token. Denial leaves the admission state unchanged.
	Allow(key string) bool

	// AllowN is Allow for n tokens at once. n < 1 is treated as 1. Requests
	// larger than the effective capacity never admit.
	AllowN(key string, n int) bool

	// Wait blocks until a single request is admitted or DefaultMaxWait
	// elapses, reporting whether admission succeeded.
	Wait(key string) bool

	// WaitN repeatedly attempts admission of n tokens, sleeping between
	// attempts, until it succeeds or the cumulative wall time reaches
	// maxWait. maxWait <= 0 means DefaultMaxWait.
	WaitN(key string, n int, maxWait time.Duration) bool

	// WaitTime reports how long a single-token request must wait before it
	// would be admissible; zero when admissible now.
	WaitTime(key string) time.Duration

	// Reset restores key to its initial state (full admission capacity).
	Reset(key string)

	// ResetAll drops every key's state and every dynamic limit.
	ResetAll()

	// Status returns a snapshot of key's admission state, advanced to the
	// present time.
	Status(key string) Status

	// StatusMap is the loosely-typed view of Status.
	StatusMap(key string) map[string]any

	// AllStatuses snapshots every key currently tracked.
	AllStatuses() map[string]Status

	// AllStatusMaps is the loosely-typed view of AllStatuses.
	AllStatusMaps() map[string]map[string]any

	// Cleanup removes keys dormant for longer than maxAge and returns the
	// number removed.
	Cleanup(maxAge time.Duration) int

	// UpdateFromHeaders reconciles key's state with rate-limit response
	// headers, interpreted through Config.HeaderMappings. Local availability
	// only ever decreases toward the server's view.
	UpdateFromHeaders(key string, headers http.Header)

	// FlushState persists the current state through the configured store, if
	// any. Writes are coalesced: a flush with no changes since the last one
	// is a no-op.
	FlushState() error

	// Close flushes pending state and releases the store.
	Close() error
}

// MetricsRecorder receives limiter events. Implementations must be safe for
// concurrent use. The zero-cost default is a no-op; see the observability
// package for a Prometheus-backed implementation.
type MetricsRecorder interface {
	// RecordDecision is called for every admission verdict.
	RecordDecision(algorithm Algorithm, key string, allowed bool)

	// RecordWait is called when a WaitN attempt finishes, with the time spent
	// blocked and whether admission succeeded.
	RecordWait(algorithm Algorithm, key string, waited time.Duration, admitted bool)

	// RecordFlush is called after each state flush attempt.
	RecordFlush(algorithm Algorithm, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordDecision(Algorithm, string, bool)            {}
func (nopMetrics) RecordWait(Algorithm, string, time.Duration, bool) {}
func (nopMetrics) RecordFlush(Algorithm, error)                      {}

// NopMetrics returns a MetricsRecorder that discards everything.
func NopMetrics() MetricsRecorder { return nopMetrics{} }

type options struct {
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
	store   statestore.Store
	cache   *redis.Client
}

// Option customizes a limiter at construction time.
type Option func(*options)

// WithLogger sets the logger used for persistence warnings and reconciliation
// diagnostics. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCache supplies a shared Redis client to persist state through. It is
// used only when Config.PersistState is set, and takes precedence over the
// file backend. The cache is a best-effort coordination point, not a lock
// service: concurrent writers are last-writer-wins.
func WithCache(client *redis.Client) Option {
	return func(o *options) { o.cache = client }
}

// WithStore supplies an explicit state store, overriding the backend selection
// derived from Config.
func WithStore(s statestore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock overrides the time source. Intended for tests; production code
// should rely on the default, which carries Go's monotonic clock reading.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
