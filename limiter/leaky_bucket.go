package limiter

import (
	"encoding/json"
	"time"
)

// leakyBucketState is one key's bucket: a water level that drains at the
// effective rate. Invariant: 0 <= level <= capacity. The bucket starts empty,
// so the first burst up to capacity admits without waiting.
type leakyBucketState struct {
	level   float64
	leakAt  time.Time
	lastReq time.Time
}

func (s *leakyBucketState) lastRequest() time.Time { return s.lastReq }

type leakyBucketWire struct {
	Level       float64  `json:"level"`
	LastLeak    float64  `json:"last_leak"`
	LastRequest *float64 `json:"last_request,omitempty"`
}

func (s *leakyBucketState) MarshalJSON() ([]byte, error) {
	return json.Marshal(leakyBucketWire{
		Level:       s.level,
		LastLeak:    secs(s.leakAt),
		LastRequest: optSecs(s.lastReq),
	})
}

func (s *leakyBucketState) UnmarshalJSON(data []byte) error {
	var w leakyBucketWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.level = w.Level
	s.leakAt = timeFromSecs(w.LastLeak)
	s.lastReq = optTime(w.LastRequest)
	return nil
}

// leakyBucket admits while the bucket has room and drains at the effective
// rate, smoothing throughput instead of allowing refill-sized bursts.
type leakyBucket struct {
	capacity int
}

func newLeakyBucket(cfg Config) *leakyBucket {
	return &leakyBucket{capacity: cfg.BurstCapacity}
}

func (a *leakyBucket) tag() Algorithm          { return LeakyBucket }
func (a *leakyBucket) prefix() string          { return "lb" }
func (a *leakyBucket) legacyStateName() string { return "buckets" }
func (a *leakyBucket) maxPoll() time.Duration  { return time.Second }

func (a *leakyBucket) newState(now time.Time) keyState {
	return &leakyBucketState{leakAt: now}
}

func (a *leakyBucket) advance(s keyState, now time.Time, rate float64) {
	st := s.(*leakyBucketState)
	elapsed := now.Sub(st.leakAt).Seconds()
	if elapsed > 0 {
		st.level -= elapsed * rate
		if st.level < 0 {
			st.level = 0
		}
	}
	// last_leak advances even at level 0 so no drain debt accumulates.
	st.leakAt = now
}

func (a *leakyBucket) admit(s keyState, n int, now time.Time, rate float64) bool {
	st := s.(*leakyBucketState)
	if st.level+float64(n) > float64(a.capacity) {
		return false
	}
	st.level += float64(n)
	st.lastReq = now
	return true
}

func (a *leakyBucket) waitFor(s keyState, now time.Time, rate float64) time.Duration {
	st := s.(*leakyBucketState)
	space := float64(a.capacity) - st.level
	if space >= 1 {
		return 0
	}
	return durationFromSeconds((1 - space) / rate)
}

func (a *leakyBucket) raw(s keyState, now time.Time, rate float64) map[string]any {
	st := s.(*leakyBucketState)
	return map[string]any{
		"level":    st.level,
		"capacity": a.capacity,
		"rate":     rate,
	}
}

func (a *leakyBucket) usage(s keyState, now time.Time, rate float64) float64 {
	if a.capacity <= 0 {
		return 0
	}
	st := s.(*leakyBucketState)
	return st.level / float64(a.capacity) * 100
}

func (a *leakyBucket) reconcile(b *base, key string, s keyState, vals headerValues, now time.Time) {
	st := s.(*leakyBucketState)
	if limit, ok := vals.get(FieldLimit); ok {
		b.setDynamic(key, limit*b.cfg.SafetyBuffer)
	}
	if remaining, ok := vals.get(FieldRemaining); ok {
		// The server says `remaining` requests are left; the bucket must be
		// at least capacity-remaining full. Level only rises here.
		serverLevel := float64(a.capacity) - remaining
		if serverLevel > st.level {
			st.level = serverLevel
			if st.level > float64(a.capacity) {
				st.level = float64(a.capacity)
			}
		}
	}
}

func (a *leakyBucket) dormant(s keyState, cutoff time.Time) bool {
	st := s.(*leakyBucketState)
	if st.level > 0 || !st.leakAt.Before(cutoff) {
		return false
	}
	return st.lastReq.IsZero() || st.lastReq.Before(cutoff)
}

func (a *leakyBucket) decodeState(raw json.RawMessage) (keyState, error) {
	st := &leakyBucketState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}
