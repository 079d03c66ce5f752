package respcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, "test:cache", 5*time.Minute), s
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	t.Run("miss on empty cache", func(t *testing.T) {
		_, ok, err := c.Lookup(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	require.NoError(t, c.Store(ctx, entry("k1", 0.02), 0))

	t.Run("hit returns payload and increments hit counter", func(t *testing.T) {
		got, ok, err := c.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte(`{"text":"cached completion"}`), got.Completion)
		assert.Equal(t, "openai", got.Provider)
		assert.Equal(t, int64(1), got.HitCount)

		got, ok, err = c.Lookup(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), got.HitCount)
	})

	t.Run("entries expire with their TTL", func(t *testing.T) {
		require.NoError(t, c.Store(ctx, entry("short", 0.01), time.Minute))
		mr.FastForward(2 * time.Minute)

		_, ok, err := c.Lookup(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("local stats", func(t *testing.T) {
		s := c.Stats()
		assert.Equal(t, int64(2), s.Hits)
		assert.Equal(t, int64(2), s.Misses)
		assert.Equal(t, int64(2), s.Stores)
		assert.InDelta(t, 0.04, s.SavedUSD, 1e-9)
	})
}
