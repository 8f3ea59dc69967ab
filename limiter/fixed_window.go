package limiter

import (
	"encoding/json"
	"math"
	"time"
)

// fixedWindowState is one key's counter over a discrete window
// [windowStart, windowEnd). The counter hard-resets when the window rolls.
type fixedWindowState struct {
	count       int
	windowStart time.Time
	windowEnd   time.Time
	lastReq     time.Time
}

func (s *fixedWindowState) lastRequest() time.Time { return s.lastReq }

type fixedWindowWire struct {
	Count       int      `json:"count"`
	WindowStart float64  `json:"window_start"`
	WindowEnd   float64  `json:"window_end"`
	LastRequest *float64 `json:"last_request,omitempty"`
}

func (s *fixedWindowState) MarshalJSON() ([]byte, error) {
	return json.Marshal(fixedWindowWire{
		Count:       s.count,
		WindowStart: secs(s.windowStart),
		WindowEnd:   secs(s.windowEnd),
		LastRequest: optSecs(s.lastReq),
	})
}

func (s *fixedWindowState) UnmarshalJSON(data []byte) error {
	var w fixedWindowWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.count = w.Count
	s.windowStart = timeFromSecs(w.WindowStart)
	s.windowEnd = timeFromSecs(w.WindowEnd)
	s.lastReq = optTime(w.LastRequest)
	return nil
}

// fixedWindow counts admissions per discrete window. Known tradeoff: up to 2x
// the rate can land around a window boundary; callers needing smooth pacing
// choose the sliding window.
type fixedWindow struct {
	window time.Duration
}

func newFixedWindow(cfg Config) *fixedWindow {
	return &fixedWindow{window: cfg.WindowSize}
}

func (a *fixedWindow) tag() Algorithm          { return FixedWindow }
func (a *fixedWindow) prefix() string          { return "fw" }
func (a *fixedWindow) legacyStateName() string { return "windows" }
func (a *fixedWindow) maxPoll() time.Duration  { return 2 * time.Second }

// limit is the per-window admission budget at the given rate, at least 1.
func (a *fixedWindow) limit(rate float64) int {
	n := int(math.Ceil(rate * a.window.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}

func (a *fixedWindow) newState(now time.Time) keyState {
	return &fixedWindowState{
		windowStart: now,
		windowEnd:   now.Add(a.window),
	}
}

func (a *fixedWindow) advance(s keyState, now time.Time, rate float64) {
	st := s.(*fixedWindowState)
	if !now.Before(st.windowEnd) {
		st.windowStart = now
		st.windowEnd = now.Add(a.window)
		st.count = 0
	}
}

func (a *fixedWindow) admit(s keyState, n int, now time.Time, rate float64) bool {
	st := s.(*fixedWindowState)
	if st.count+n > a.limit(rate) {
		return false
	}
	st.count += n
	st.lastReq = now
	return true
}

func (a *fixedWindow) waitFor(s keyState, now time.Time, rate float64) time.Duration {
	st := s.(*fixedWindowState)
	if st.count < a.limit(rate) {
		return 0
	}
	return ceilMillis(st.windowEnd.Sub(now))
}

func (a *fixedWindow) raw(s keyState, now time.Time, rate float64) map[string]any {
	st := s.(*fixedWindowState)
	return map[string]any{
		"count":        st.count,
		"limit":        a.limit(rate),
		"window_start": secs(st.windowStart),
		"window_end":   secs(st.windowEnd),
	}
}

func (a *fixedWindow) usage(s keyState, now time.Time, rate float64) float64 {
	st := s.(*fixedWindowState)
	limit := a.limit(rate)
	return float64(st.count) / float64(limit) * 100
}

func (a *fixedWindow) reconcile(b *base, key string, s keyState, vals headerValues, now time.Time) {
	st := s.(*fixedWindowState)

	// Daily and hourly limits are authoritative rates; overlays for them cap
	// the effective rate alongside any per-key entry.
	if daily, ok := vals.get(FieldDailyLimit); ok {
		b.setDynamic(key+"_daily", daily/86400*b.cfg.SafetyBuffer)
	}
	if hourly, ok := vals.get(FieldHourlyLimit); ok {
		b.setDynamic(key+"_hourly", hourly/3600*b.cfg.SafetyBuffer)
	}

	limit := a.limit(b.effectiveRate(key))
	if remaining, ok := vals.get(FieldRemaining); ok {
		if c := limit - int(remaining); c > st.count {
			st.count = c
		}
	}
	if dailyRemaining, ok := vals.get(FieldDailyRemaining); ok {
		// Project the day budget onto this window; only ever lowers what is
		// still admissible.
		projected := int(math.Floor(dailyRemaining * a.window.Seconds() / 86400))
		if c := limit - projected; c > st.count {
			st.count = c
		}
	}
}

func (a *fixedWindow) dormant(s keyState, cutoff time.Time) bool {
	st := s.(*fixedWindowState)
	if !st.windowEnd.Before(cutoff) {
		return false
	}
	return st.lastReq.IsZero() || st.lastReq.Before(cutoff)
}

func (a *fixedWindow) decodeState(raw json.RawMessage) (keyState, error) {
	st := &fixedWindowState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, err
	}
	return st, nil
}
