package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindowScript increments the counter for the key's current fixed
// window. The window is addressed by bucket number so rollover needs no
// coordinated reset; Redis server time keeps all instances on one clock.
//
// KEYS[1] counter key prefix; ARGV[1] window length in milliseconds.
// Returns {count, remaining_ms}.
const incrWindowScript = `
local window_ms = tonumber(ARGV[1])
local t = redis.call('TIME')
local now_ms = t[1] * 1000 + math.floor(t[2] / 1000)
local bucket = math.floor(now_ms / window_ms)
local key = KEYS[1] .. ':' .. bucket
local count = redis.call('INCR', key)
redis.call('PEXPIRE', key, window_ms * 2)
local remaining = (bucket + 1) * window_ms - now_ms
return {count, remaining}
`

// RedisWindowStore implements WindowStore on Redis for multi-instance
// deployments.
type RedisWindowStore struct {
	client    redis.UniversalClient
	keyPrefix string
	script    *redis.Script
}

// NewRedisWindowStore creates a Redis-backed window store.
func NewRedisWindowStore(client redis.UniversalClient, keyPrefix string) *RedisWindowStore {
	if keyPrefix == "" {
		keyPrefix = "modelgate:ratelimit"
	}
	return &RedisWindowStore{
		client:    client,
		keyPrefix: keyPrefix,
		script:    redis.NewScript(incrWindowScript),
	}
}

// Incr increments the key's current fixed window.
func (s *RedisWindowStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := s.script.Run(ctx, s.client,
		[]string{s.keyPrefix + ":" + key},
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("window incr: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("window incr: unexpected reply %v", res)
	}
	count, _ := res[0].(int64)
	remainingMs, _ := res[1].(int64)
	return count, time.Duration(remainingMs) * time.Millisecond, nil
}

var _ WindowStore = (*RedisWindowStore)(nil)
