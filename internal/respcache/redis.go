package respcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// RedisCache implements Cache on Redis for deployments that share cached
// completions across instances. Entries are stored as JSON values with the
// hit counter kept in a sibling key so hits do not rewrite the payload.
type RedisCache struct {
	client     redis.UniversalClient
	keyPrefix  string
	defaultTTL time.Duration
	clock      types.Clock

	mu        sync.Mutex
	hits      int64
	misses    int64
	stores    int64
	savedUSD  float64
}

// NewRedisCache creates a Redis-backed response cache.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, defaultTTL time.Duration) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "modelgate:respcache"
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		clock:      types.SystemClock{},
	}
}

func (c *RedisCache) entryKey(key string) string { return c.keyPrefix + ":entry:" + key }
func (c *RedisCache) hitsKey(key string) string  { return c.keyPrefix + ":hits:" + key }

// Lookup returns and touches the entry for key.
func (c *RedisCache) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if err == redis.Nil {
		c.count(func() { c.misses++ })
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}

	hits, err := c.client.Incr(ctx, c.hitsKey(key)).Result()
	if err == nil {
		e.HitCount = hits
	}
	e.LastAccessed = c.clock.Now().UTC()

	c.count(func() {
		c.hits++
		c.savedUSD += e.CostUSD
	})
	return &e, true, nil
}

// Store writes the entry with the given TTL.
func (c *RedisCache) Store(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now().UTC()

	cp := *entry
	cp.CreatedAt = now
	cp.LastAccessed = now
	cp.ExpiresAt = now.Add(ttl)

	raw, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.entryKey(cp.Key), raw, ttl)
	pipe.Set(ctx, c.hitsKey(cp.Key), 0, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	c.count(func() { c.stores++ })
	return nil
}

// Cleanup is a no-op for Redis: TTLs expire entries server-side.
func (c *RedisCache) Cleanup(ctx context.Context) (int, error) { return 0, nil }

// Stats returns a local counter snapshot. Counters are per-instance; the
// shared store has no global stats view.
func (c *RedisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Stores:   c.stores,
		SavedUSD: c.savedUSD,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close is a no-op; the Redis client is owned by the caller.
func (c *RedisCache) Close() error { return nil }

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) count(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}
