package limiter

import (
	"encoding/json"
	"math"
	"time"
)

// slidingWindowState is one key's admission timestamps inside the trailing
// window, oldest first. Invariant: every stored t satisfies
// now - window < t <= now. Insertion order makes the oldest entry an O(1)
// read; expiry re-slices from the front.
type slidingWindowState struct {
	times   []time.Time
	lastReq time.Time
}

func (s *slidingWindowState) lastRequest() time.Time { return s.lastReq }

type slidingWindowWire struct {
	Timestamps  []float64 `json:"timestamps"`
	LastRequest *float64  `json:"last_request,omitempty"`
}

func (s *slidingWindowState) MarshalJSON() ([]byte, error) {
	ts := make([]float64, len(s.times))
	for i, t := range s.times {
		ts[i] = secs(t)
	}
	return json.Marshal(slidingWindowWire{
		Timestamps:  ts,
		LastRequest: optSecs(s.lastReq),
	})
}

func (s *slidingWindowState) UnmarshalJSON(data []byte) error {
	var w slidingWindowWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.times = make([]time.Time, len(w.Timestamps))
	for i, sec := range w.Timestamps {
		s.times[i] = timeFromSecs(sec)
	}
	s.lastReq = optTime(w.LastRequest)
	return nil
}

// slidingWindow tracks individual admission timestamps over the trailing
// window, avoiding the fixed window's boundary clustering.
type slidingWindow struct {
	window time.Duration
}

func newSlidingWindow(cfg Config) *slidingWindow {
	return &slidingWindow{window: cfg.WindowSize}
}

func (a *slidingWindow) tag() Algorithm          { return SlidingWindow }
func (a *slidingWindow) prefix() string          { return "sw" }
func (a *slidingWindow) legacyStateName() string { return "windows" }
func (a *slidingWindow) maxPoll() time.Duration  { return 2 * time.Second }

// limit is the rolling admission budget at the given rate, at least 1.
func (a *slidingWindow) limit(rate float64) int {
	n := int(math.Floor(rate * a.window.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}

func (a *slidingWindow) newState(now time.Time) keyState {
	return &slidingWindowState{}
}

func (a *slidingWindow) advance(s keyState, now time.Time, rate float64) {
	st := s.(*slidingWindowState)
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(st.times) && !st.times[i].After(cutoff) {
		i++
	}
	if i == len(st.times) {
		st.times = nil
	} else if i > 0 {
		st.times = st.times[i:]
	}
}

func (a *slidingWindow) admit(s keyState, n int, now time.Time, rate float64) bool {
	st := s.(*slidingWindowState)
	if len(st.times)+n > a.limit(rate) {
		return false
	}
	for i := 0; i < n; i++ {
		st.times = append(st.times, now)
	}
	st.lastReq = now
	return true
}

func (a *slidingWindow) waitFor(s keyState, now time.Time, rate float64) time.Duration {
	st := s.(*slidingWindowState)
	if len(st.times) < a.limit(rate) {
		return 0
	}
	d := st.times[0].Add(a.window).Sub(now)
	if d <= 0 {
		return 0
	}
	return ceilMillis(d)
}

func (a *slidingWindow) raw(s keyState, now time.Time, rate float64) map[string]any {
	st := s.(*slidingWindowState)
	m := map[string]any{
		"count": len(st.times),
		"limit": a.limit(rate),
	}
	if len(st.times) > 0 {
		m["oldest"] = secs(st.times[0])
	}
	return m
}

func (a *slidingWindow) usage(s keyState, now time.Time, rate float64) float64 {
	st := s.(*slidingWindowState)
	limit := a.limit(rate)
	return float64(len(st.times)) / float64(limit) * 100
}

func (a *slidingWindow) reconcile(b *base, key string, s keyState, vals headerValues, now time.Time) {
	st := s.(*slidingWindowState)
	if limit, ok := vals.get(FieldLimit); ok {
		// The header limit is per window; the overlay carries rates.
		b.setDynamic(key, limit*b.cfg.SafetyBuffer/a.window.Seconds())
	}
	if remaining, ok := vals.get(FieldRemaining); ok {
		limit := a.limit(b.effectiveRate(key))
		local := limit - len(st.times)
		if local < 0 {
			local = 0
		}
		// The server has seen more traffic than we have; synthesize the
		// difference as phantom timestamps near now, staggered 1ms apart so
		// insertion order is preserved. Never below the server's view.
		if server := int(remaining); server < local {
			phantoms := local - server
			for i := phantoms - 1; i >= 0; i-- {
				t := now.Add(-time.Duration(i) * time.Millisecond)
				if n := len(st.times); n > 0 && t.Before(st.times[n-1]) {
					t = st.times[n-1]
				}
				st.times = append(st.times, t)
			}
		}
	}
}

func (a *slidingWindow) dormant(s keyState, cutoff time.Time) bool {
	st := s.(*slidingWindowState)
	if n := len(st.times); n > 0 && !st.times[n-1].Before(cutoff) {
		return false
	}
	return st.lastReq.IsZero() || st.lastReq.Before(cutoff)
}

func (a *slidingWindow) decodeState(raw json.RawMessage) (keyState, error) {
	st := &slidingWindowState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}
