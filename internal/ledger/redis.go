package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic counter operations. Increment-then-verify with
// rollback keeps two concurrent reservations from jointly crossing the
// ceiling, matching the single-writer guarantee of the memory store.
const (
	// reserveCostScript: KEYS[1] spend key; ARGV[1] cost, ARGV[2] ceiling,
	// ARGV[3] key TTL seconds. Returns {applied(0|1), total*1e6}.
	reserveCostScript = `
local total = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
total = tonumber(total)
if total > tonumber(ARGV[2]) then
    total = tonumber(redis.call('INCRBYFLOAT', KEYS[1], '-' .. ARGV[1]))
    redis.call('EXPIRE', KEYS[1], ARGV[3])
    return {0, tostring(total)}
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, tostring(total)}
`

	// adjustCostScript: KEYS[1] spend key; ARGV[1] delta, ARGV[2] TTL.
	// Floors the counter at zero. Returns the new total as a string.
	adjustCostScript = `
local total = tonumber(redis.call('INCRBYFLOAT', KEYS[1], ARGV[1]))
if total < 0 then
    redis.call('SET', KEYS[1], '0')
    total = 0
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return tostring(total)
`

	// acquireSlotScript: KEYS[1] slots key; ARGV[1] max. Returns 1 when a
	// slot was taken.
	acquireSlotScript = `
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > 0 and held >= tonumber(ARGV[1]) then
    return 0
end
redis.call('INCR', KEYS[1])
return 1
`

	// releaseSlotScript: KEYS[1] slots key. Floors at zero.
	releaseSlotScript = `
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held > 0 then
    redis.call('DECR', KEYS[1])
end
return 1
`
)

// RedisCounterStore implements CounterStore on Redis for multi-instance
// deployments. Day counters expire after counterTTL so stale days age out.
type RedisCounterStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	counterTTL time.Duration

	reserveCost *redis.Script
	adjustCost  *redis.Script
	acquireSlot *redis.Script
	releaseSlot *redis.Script
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client redis.UniversalClient, keyPrefix string) *RedisCounterStore {
	if keyPrefix == "" {
		keyPrefix = "modelgate:ledger"
	}
	return &RedisCounterStore{
		client:      client,
		keyPrefix:   keyPrefix,
		counterTTL:  48 * time.Hour,
		reserveCost: redis.NewScript(reserveCostScript),
		adjustCost:  redis.NewScript(adjustCostScript),
		acquireSlot: redis.NewScript(acquireSlotScript),
		releaseSlot: redis.NewScript(releaseSlotScript),
	}
}

func (s *RedisCounterStore) spendKey(orgID, day string) string {
	return fmt.Sprintf("%s:spend:%s:%s", s.keyPrefix, orgID, day)
}

func (s *RedisCounterStore) requestsKey(orgID, day string) string {
	return fmt.Sprintf("%s:requests:%s:%s", s.keyPrefix, orgID, day)
}

func (s *RedisCounterStore) slotsKey(orgID string) string {
	return fmt.Sprintf("%s:slots:%s", s.keyPrefix, orgID)
}

// ReserveCost atomically adds cost if the ceiling is not crossed.
func (s *RedisCounterStore) ReserveCost(ctx context.Context, orgID, day string, cost, ceiling float64) (float64, bool, error) {
	res, err := s.reserveCost.Run(ctx, s.client,
		[]string{s.spendKey(orgID, day)},
		formatFloat(cost), formatFloat(ceiling), int(s.counterTTL.Seconds()),
	).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("reserve cost: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("reserve cost: unexpected reply %v", res)
	}
	applied, _ := res[0].(int64)
	total := parseFloatReply(res[1])
	return total, applied == 1, nil
}

// AdjustCost adds delta to the day's spend, flooring at zero.
func (s *RedisCounterStore) AdjustCost(ctx context.Context, orgID, day string, delta float64) (float64, error) {
	res, err := s.adjustCost.Run(ctx, s.client,
		[]string{s.spendKey(orgID, day)},
		formatFloat(delta), int(s.counterTTL.Seconds()),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("adjust cost: %w", err)
	}
	return parseFloatReply(res), nil
}

// IncrRequests increments the day's request counter.
func (s *RedisCounterStore) IncrRequests(ctx context.Context, orgID, day string) error {
	key := s.requestsKey(orgID, day)
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr requests: %w", err)
	}
	return nil
}

// AcquireSlot takes one concurrency slot if capacity remains.
func (s *RedisCounterStore) AcquireSlot(ctx context.Context, orgID string, max int) (bool, error) {
	res, err := s.acquireSlot.Run(ctx, s.client, []string{s.slotsKey(orgID)}, max).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire slot: %w", err)
	}
	return res == 1, nil
}

// ReleaseSlot returns one concurrency slot.
func (s *RedisCounterStore) ReleaseSlot(ctx context.Context, orgID string) error {
	if err := s.releaseSlot.Run(ctx, s.client, []string{s.slotsKey(orgID)}).Err(); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Counter reads the day's usage.
func (s *RedisCounterStore) Counter(ctx context.Context, orgID, day string) (DayCounter, error) {
	pipe := s.client.Pipeline()
	spend := pipe.Get(ctx, s.spendKey(orgID, day))
	requests := pipe.Get(ctx, s.requestsKey(orgID, day))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return DayCounter{}, fmt.Errorf("read counter: %w", err)
	}

	var dc DayCounter
	if v, err := spend.Float64(); err == nil {
		dc.SpentUSD = v
	}
	if v, err := requests.Int64(); err == nil {
		dc.RequestCount = v
	}
	return dc, nil
}

// ActiveJobs reads the held concurrency slots.
func (s *RedisCounterStore) ActiveJobs(ctx context.Context, orgID string) (int64, error) {
	v, err := s.client.Get(ctx, s.slotsKey(orgID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read active jobs: %w", err)
	}
	return v, nil
}

var _ CounterStore = (*RedisCounterStore)(nil)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloatReply(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case int64:
		return float64(t)
	case float64:
		return t
	}
	return 0
}
