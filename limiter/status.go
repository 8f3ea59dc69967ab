package limiter

import "time"

// Status is a point-in-time view of one key's admission state. The snapshot is
// taken after the algorithm's refill/decay/expire step, so it reflects the
// present clock reading.
type Status struct {
	// Algorithm is the tag of the limiter that produced the snapshot.
	Algorithm Algorithm `json:"algorithm"`

	// Key is the logical operation key.
	Key string `json:"key"`

	// Limited reports whether a single-token request would be denied right now.
	Limited bool `json:"limited"`

	// WaitTime is the time until a single-token request becomes admissible;
	// zero when admissible now.
	WaitTime time.Duration `json:"wait_time"`

	// UsagePercent is how much of the effective capacity is consumed, in
	// [0, 100].
	UsagePercent float64 `json:"usage_percent"`

	// Raw carries algorithm-specific fields (tokens, level, counters, ...).
	Raw map[string]any `json:"raw,omitempty"`
}

// asMap renders the status in the loosely-typed form returned by StatusMap.
// Algorithm-specific raw fields are merged at the top level.
func (s Status) asMap() map[string]any {
	m := map[string]any{
		"algorithm":     string(s.Algorithm),
		"key":           s.Key,
		"limited":       s.Limited,
		"wait_time_ms":  s.WaitTime.Milliseconds(),
		"usage_percent": s.UsagePercent,
	}
	for k, v := range s.Raw {
		m[k] = v
	}
	return m
}
