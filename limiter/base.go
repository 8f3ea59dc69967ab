package limiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fourlimit/statestore"
)

// keyState is the per-key admission state owned by one limiter.
type keyState interface {
	// lastRequest is the time of the most recent successful admission, zero
	// when the key has never admitted.
	lastRequest() time.Time
}

// algorithm is the per-algorithm hook set the shared base dispatches to. The
// base owns the state map, the dynamic-limits overlay, locking, persistence
// and header plumbing; hooks own the math.
type algorithm interface {
	tag() Algorithm
	prefix() string
	legacyStateName() string

	// maxPoll bounds a single sleep inside WaitN.
	maxPoll() time.Duration

	// newState initializes a key on first touch.
	newState(now time.Time) keyState

	// advance applies refill, decay or expiry up to now. Negative elapsed
	// intervals (clock regression) are treated as zero.
	advance(s keyState, now time.Time, rate float64)

	// admit charges n tokens when admissible and reports the verdict. Denial
	// must leave the state unchanged.
	admit(s keyState, n int, now time.Time, rate float64) bool

	// waitFor is the time until a single token becomes admissible; zero when
	// admissible now. rate is known to be positive.
	waitFor(s keyState, now time.Time, rate float64) time.Duration

	// raw exposes the algorithm-specific status fields.
	raw(s keyState, now time.Time, rate float64) map[string]any

	// usage is the consumed share of effective capacity in [0, 100].
	usage(s keyState, now time.Time, rate float64) float64

	// reconcile folds header-derived values into the key's state and the
	// overlay. It runs under the base lock.
	reconcile(b *base, key string, s keyState, vals headerValues, now time.Time)

	// dormant reports whether the key qualifies for cleanup at cutoff.
	dormant(s keyState, cutoff time.Time) bool

	// decodeState parses one persisted per-key state document.
	decodeState(raw json.RawMessage) (keyState, error)
}

// base carries the lifecycle shared by all four algorithms: the state map, the
// dynamic-limits overlay, the dirty flag with write coalescing, cleanup, and
// header reconciliation scaffolding. A single mutex serializes access; every
// public operation is a short critical section.
type base struct {
	cfg     Config
	algo    algorithm
	log     *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
	store   statestore.Store

	mu      sync.Mutex
	states  map[string]keyState
	dynamic map[string]float64
	dirty   bool
	closed  bool
}

func newBase(cfg Config, algo algorithm, o options) *base {
	return &base{
		cfg:     cfg,
		algo:    algo,
		log:     o.logger,
		metrics: o.metrics,
		now:     o.now,
		store:   o.store,
		states:  make(map[string]keyState),
		dynamic: make(map[string]float64),
	}
}

// state returns key's state, creating it on first touch.
func (b *base) state(key string, now time.Time) keyState {
	st, ok := b.states[key]
	if !ok {
		st = b.algo.newState(now)
		b.states[key] = st
	}
	return st
}

// effectiveRate resolves the rate for key: dynamic overlay first, then the
// per-endpoint override and the default rate, both derated by the safety
// buffer. Overlay entries are already safety-buffered when they are set.
// Fixed-window daily and hourly overlays further cap the result.
func (b *base) effectiveRate(key string) float64 {
	rate, ok := b.dynamic[key]
	if !ok {
		if override, has := b.cfg.EndpointLimits[key]; has {
			rate = override * b.cfg.SafetyBuffer
		} else {
			rate = b.cfg.RatePerSecond * b.cfg.SafetyBuffer
		}
	}
	if b.algo.tag() == FixedWindow {
		for _, suffix := range []string{"_daily", "_hourly"} {
			if capped, has := b.dynamic[key+suffix]; has && capped < rate {
				rate = capped
			}
		}
	}
	return rate
}

func (b *base) Allow(key string) bool { return b.AllowN(key, 1) }

func (b *base) AllowN(key string, n int) bool {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	now := b.now()
	st := b.state(key, now)
	rate := b.effectiveRate(key)
	b.algo.advance(st, now, rate)
	allowed := b.algo.admit(st, n, now, rate)
	if allowed {
		b.dirty = true
	}
	b.mu.Unlock()

	b.metrics.RecordDecision(b.cfg.Algorithm, key, allowed)
	return allowed
}

func (b *base) Wait(key string) bool { return b.WaitN(key, 1, DefaultMaxWait) }

func (b *base) WaitN(key string, n int, maxWait time.Duration) bool {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		if b.AllowN(key, n) {
			b.metrics.RecordWait(b.cfg.Algorithm, key, time.Since(start), true)
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.metrics.RecordWait(b.cfg.Algorithm, key, time.Since(start), false)
			return false
		}
		d := b.WaitTime(key)
		if ceil := b.algo.maxPoll(); d > ceil {
			d = ceil
		}
		if d <= 0 {
			// The reported wait can be zero while a multi-token admission
			// still fails; a floor keeps this from busy-looping.
			d = time.Millisecond
		}
		if d > remaining {
			d = remaining
		}
		time.Sleep(d)
	}
}

func (b *base) WaitTime(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st := b.state(key, now)
	rate := b.effectiveRate(key)
	b.algo.advance(st, now, rate)
	if rate <= 0 {
		return fallbackWait
	}
	return b.algo.waitFor(st, now, rate)
}

func (b *base) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.states[key]; ok {
		delete(b.states, key)
		b.dirty = true
	}
}

func (b *base) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = make(map[string]keyState)
	b.dynamic = make(map[string]float64)
	b.dirty = true
}

func (b *base) Status(key string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked(key, b.now())
}

func (b *base) statusLocked(key string, now time.Time) Status {
	st := b.state(key, now)
	rate := b.effectiveRate(key)
	b.algo.advance(st, now, rate)

	var wait time.Duration
	if rate <= 0 {
		wait = fallbackWait
	} else {
		wait = b.algo.waitFor(st, now, rate)
	}
	usage := b.algo.usage(st, now, rate)
	if usage < 0 {
		usage = 0
	} else if usage > 100 {
		usage = 100
	}
	return Status{
		Algorithm:    b.cfg.Algorithm,
		Key:          key,
		Limited:      wait > 0,
		WaitTime:     wait,
		UsagePercent: usage,
		Raw:          b.algo.raw(st, now, rate),
	}
}

func (b *base) StatusMap(key string) map[string]any {
	return b.Status(key).asMap()
}

func (b *base) AllStatuses() map[string]Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make(map[string]Status, len(b.states))
	for key := range b.states {
		out[key] = b.statusLocked(key, now)
	}
	return out
}

func (b *base) AllStatusMaps() map[string]map[string]any {
	statuses := b.AllStatuses()
	out := make(map[string]map[string]any, len(statuses))
	for key, status := range statuses {
		out[key] = status.asMap()
	}
	return out
}

func (b *base) Cleanup(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleanupLocked(maxAge)
}

func (b *base) cleanupLocked(maxAge time.Duration) int {
	cutoff := b.now().Add(-maxAge)
	removed := 0
	for key, st := range b.states {
		if b.algo.dormant(st, cutoff) {
			delete(b.states, key)
			removed++
		}
	}
	if removed > 0 {
		b.dirty = true
	}
	return removed
}

func (b *base) UpdateFromHeaders(key string, headers http.Header) {
	vals := extractHeaderValues(headers, b.cfg.HeaderMappings)
	if vals.empty() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st := b.state(key, now)
	b.algo.advance(st, now, b.effectiveRate(key))
	b.algo.reconcile(b, key, st, vals, now)
	b.dirty = true
}

// setDynamic records a header-derived effective rate for key. Called by
// reconcile hooks under the base lock; rate must already be safety-buffered.
func (b *base) setDynamic(key string, rate float64) {
	b.dynamic[key] = rate
	b.log.Debug("dynamic rate limit updated", "key", key, "rate", rate)
}

// loadState hydrates the maps from the store and prunes keys that went
// dormant while the process was down. Any failure degrades to empty state.
func (b *base) loadState() {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheLoadTimeout)
	defer cancel()

	snap, err := b.store.Load(ctx)
	if err != nil {
		b.log.Warn("failed to load persisted state, starting with empty state", "error", err)
		return
	}
	if snap == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, raw := range snap.State {
		st, err := b.algo.decodeState(raw)
		if err != nil {
			b.log.Warn("skipping malformed persisted state", "key", key, "error", err)
			continue
		}
		b.states[key] = st
	}
	for key, rate := range snap.DynamicLimits {
		b.dynamic[key] = rate
	}
	b.cleanupLocked(b.cfg.CleanupInterval)
	b.dirty = false
}

const cacheLoadTimeout = 5 * time.Second

// snapshotLocked serializes the maps into a store document.
func (b *base) snapshotLocked() (*statestore.Snapshot, error) {
	states := make(map[string]json.RawMessage, len(b.states))
	for key, st := range b.states {
		raw, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		states[key] = raw
	}
	dynamic := make(map[string]float64, len(b.dynamic))
	for key, rate := range b.dynamic {
		dynamic[key] = rate
	}
	return &statestore.Snapshot{
		State:         states,
		DynamicLimits: dynamic,
		Timestamp:     secs(b.now()),
		LegacyName:    b.algo.legacyStateName(),
	}, nil
}

func (b *base) FlushState() error {
	if b.store == nil {
		return nil
	}
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	snap, err := b.snapshotLocked()
	if err != nil {
		b.mu.Unlock()
		b.log.Warn("failed to snapshot state", "error", err)
		b.metrics.RecordFlush(b.cfg.Algorithm, err)
		return err
	}
	b.dirty = false
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cacheLoadTimeout)
	defer cancel()
	err = b.store.Save(ctx, snap)
	if err != nil {
		b.log.Warn("failed to persist state", "error", err)
	}
	b.metrics.RecordFlush(b.cfg.Algorithm, err)
	return err
}

// Close flushes pending state and releases the store. Teardown is tied to the
// limiter handle; the package never registers process-global shutdown hooks.
func (b *base) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.FlushState()
	if b.store != nil {
		if cerr := b.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
