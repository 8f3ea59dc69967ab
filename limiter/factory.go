package limiter

import (
	"fmt"
	"log/slog"
	"time"

	"fourlimit/statestore"
)

// New validates cfg, selects the algorithm implementation and returns the
// limiter handle. When Config.PersistState is set, the state backend is chosen
// here: an explicit WithStore wins, then a WithCache client, then the file
// backend at Config.StateFile. A state-file path outside the allowed roots is
// rejected without failing construction: a warning is logged and the limiter
// keeps working in memory only.
func New(cfg Config, opts ...Option) (Limiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var algo algorithm
	switch cfg.Algorithm {
	case TokenBucket:
		algo = newTokenBucket(cfg)
	case LeakyBucket:
		algo = newLeakyBucket(cfg)
	case FixedWindow:
		algo = newFixedWindow(cfg)
	case SlidingWindow:
		algo = newSlidingWindow(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}

	if o.store == nil && cfg.PersistState {
		switch {
		case o.cache != nil:
			key := statestore.CacheKey(algo.prefix(), cfg.identity())
			o.store = statestore.NewCacheStore(o.cache, key, 2*cfg.CleanupInterval, o.logger)
		case cfg.StateFile != "":
			fs, err := statestore.NewFileStore(cfg.StateFile, o.logger)
			if err != nil {
				o.logger.Warn("state file rejected, continuing without persistence",
					"path", cfg.StateFile, "error", err)
			} else {
				o.store = fs
			}
		}
	}

	b := newBase(cfg, algo, o)
	b.loadState()
	return b, nil
}
