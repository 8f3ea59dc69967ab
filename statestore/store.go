// Package statestore persists rate-limiter state snapshots. Every backend
// stores the same single JSON document under one key: the limiter's cache key
// for shared backends, a file path for the file backend.
//
// Backends never own the state semantically; the limiter's in-memory maps stay
// authoritative for the life of the process and the store is only a backup
// medium. All backends are last-writer-wins across concurrent processes.
package statestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Store loads and saves full limiter snapshots.
type Store interface {
	// Load reads the stored snapshot. A missing document is (nil, nil), not
	// an error.
	Load(ctx context.Context) (*Snapshot, error)

	// Save writes the full snapshot, replacing any previous one.
	Save(ctx context.Context, snap *Snapshot) error

	// Close releases backend resources.
	Close() error
}

// Snapshot is the persisted document: per-key algorithm state, the
// dynamic-limits overlay, and the wall-clock flush time in seconds.
//
// The per-key map is serialized under the top-level name "state", or a legacy
// algorithm-specific name ("buckets" for the bucket algorithms, "windows" for
// the window algorithms). Readers accept any of the three.
type Snapshot struct {
	State         map[string]json.RawMessage
	DynamicLimits map[string]float64
	Timestamp     float64

	// LegacyName, when non-empty, is the top-level member name emitted for
	// State instead of "state".
	LegacyName string
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	name := s.LegacyName
	if name == "" {
		name = "state"
	}
	doc := map[string]any{
		name:             s.State,
		"dynamic_limits": s.DynamicLimits,
		"timestamp":      s.Timestamp,
	}
	return json.Marshal(doc)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc struct {
		State         map[string]json.RawMessage `json:"state"`
		Buckets       map[string]json.RawMessage `json:"buckets"`
		Windows       map[string]json.RawMessage `json:"windows"`
		DynamicLimits map[string]float64         `json:"dynamic_limits"`
		Timestamp     float64                    `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	switch {
	case doc.State != nil:
		s.State = doc.State
	case doc.Buckets != nil:
		s.State = doc.Buckets
		s.LegacyName = "buckets"
	case doc.Windows != nil:
		s.State = doc.Windows
		s.LegacyName = "windows"
	default:
		s.State = map[string]json.RawMessage{}
	}
	s.DynamicLimits = doc.DynamicLimits
	if s.DynamicLimits == nil {
		s.DynamicLimits = map[string]float64{}
	}
	s.Timestamp = doc.Timestamp
	return nil
}

// CacheKey derives the shared-backend document key from the algorithm prefix
// ("tb", "lb", "fw", "sw") and the limiter's identity material.
func CacheKey(algoPrefix, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("four_rl_%s_%s", algoPrefix, hex.EncodeToString(sum[:4]))
}
