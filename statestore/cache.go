package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheOpTimeout = 5 * time.Second

// CacheStore persists snapshots in a shared Redis cache under a single key.
// The cache is a best-effort coordination point: read and write failures are
// logged and swallowed so a flaky cache never degrades admission decisions,
// and concurrent writers are last-writer-wins.
type CacheStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *slog.Logger
}

// NewCacheStore binds a store to the given client and document key. Writes
// carry ttl so state for retired limiters expires on its own.
func NewCacheStore(client *redis.Client, key string, ttl time.Duration, log *slog.Logger) *CacheStore {
	if log == nil {
		log = slog.Default()
	}
	return &CacheStore{client: client, key: key, ttl: ttl, log: log}
}

// Key returns the cache document key.
func (c *CacheStore) Key() string { return c.key }

func (c *CacheStore) Load(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("failed to read state from cache", "key", c.key, "error", err)
		}
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("cached state is malformed, starting with empty state",
			"key", c.key, "error", err)
		return nil, nil
	}
	return &snap, nil
}

func (c *CacheStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn("failed to marshal state for cache", "key", c.key, "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		c.log.Warn("failed to write state to cache", "key", c.key, "error", err)
	}
	return nil
}

func (c *CacheStore) Close() error { return nil }
