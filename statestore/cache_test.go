package statestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCacheStore(t *testing.T) *CacheStore {
	t.Helper()
	addr := os.Getenv("FOURLIMIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FOURLIMIT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	store := NewCacheStore(client, CacheKey("tb", t.Name()), 2*time.Hour, nil)
	t.Cleanup(func() {
		client.Del(context.Background(), store.Key())
		client.Close()
	})
	return store
}

func TestCacheStore_SaveAndLoad(t *testing.T) {
	store := newTestCacheStore(t)

	require.NoError(t, store.Save(context.Background(), sampleSnapshot("buckets")))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Contains(t, loaded.State, "k")
	assert.Equal(t, "buckets", loaded.LegacyName)
}

func TestCacheStore_MissingKeyLoadsNil(t *testing.T) {
	store := newTestCacheStore(t)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCacheStore_WriteCarriesTTL(t *testing.T) {
	store := newTestCacheStore(t)

	require.NoError(t, store.Save(context.Background(), sampleSnapshot("")))

	client := redis.NewClient(&redis.Options{Addr: os.Getenv("FOURLIMIT_TEST_REDIS_ADDR")})
	defer client.Close()
	ttl, err := client.TTL(context.Background(), store.Key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
	assert.LessOrEqual(t, ttl, 2*time.Hour)
}

func TestCacheStore_ErrorsAreSwallowed(t *testing.T) {
	// A client pointed at a closed port: reads and writes degrade to no-ops.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	store := NewCacheStore(client, "four_rl_tb_00000000", time.Hour, nil)

	snap, err := store.Load(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, store.Save(context.Background(), sampleSnapshot("")))
}

func TestCacheStore_KeyAccessor(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	store := NewCacheStore(client, "four_rl_sw_0badf00d", time.Hour, nil)
	assert.Equal(t, "four_rl_sw_0badf00d", store.Key())
}
