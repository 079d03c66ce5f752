package respcache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// MemoryCacheConfig holds configuration for MemoryCache.
type MemoryCacheConfig struct {
	MaxEntries int           // capacity ceiling (default 1000)
	DefaultTTL time.Duration // default 10 minutes
	// MinHitThreshold: under capacity pressure, entries that never reached
	// this hit count are evicted first (they have not earned their slot),
	// oldest-accessed first.
	MinHitThreshold int64
	CleanupInterval time.Duration // background sweep (default 1 minute)
	Clock           types.Clock
}

// DefaultMemoryCacheConfig returns sensible defaults.
func DefaultMemoryCacheConfig() MemoryCacheConfig {
	return MemoryCacheConfig{
		MaxEntries:      1000,
		DefaultTTL:      10 * time.Minute,
		MinHitThreshold: 2,
		CleanupInterval: time.Minute,
	}
}

// MemoryCache implements Cache in process with TTL expiry via a min-heap
// and capacity eviction preferring cold entries.
type MemoryCache struct {
	mu sync.Mutex

	entries map[string]*Entry
	expHeap expirationHeap

	cfg   MemoryCacheConfig
	clock types.Clock

	hits      int64
	misses    int64
	stores    int64
	evictions int64
	savedUSD  float64

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type expirationEntry struct {
	key       string
	expiresAt time.Time
	index     int
}

type expirationHeap []*expirationEntry

func (h expirationHeap) Len() int            { return len(h) }
func (h expirationHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expirationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expirationHeap) Push(x any) {
	e := x.(*expirationEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expirationHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// NewMemoryCache creates an in-memory response cache. A background sweep
// drops expired entries; Cleanup does the same on demand.
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.MinHitThreshold <= 0 {
		cfg.MinHitThreshold = 2
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}

	c := &MemoryCache{
		entries:     make(map[string]*Entry),
		cfg:         cfg,
		clock:       cfg.Clock,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Lookup returns and touches the entry for key.
func (c *MemoryCache) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || now.After(e.ExpiresAt) {
		c.misses++
		return nil, false, nil
	}

	e.HitCount++
	e.LastAccessed = now
	c.hits++
	c.savedUSD += e.CostUSD

	cp := *e
	cp.Completion = append([]byte(nil), e.Completion...)
	return &cp, true, nil
}

// Store writes the entry, evicting under capacity pressure.
func (c *MemoryCache) Store(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := c.clock.Now()

	cp := *entry
	cp.Completion = append([]byte(nil), entry.Completion...)
	cp.CreatedAt = now
	cp.LastAccessed = now
	cp.ExpiresAt = now.Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[cp.Key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked(now)
	}

	c.entries[cp.Key] = &cp
	heap.Push(&c.expHeap, &expirationEntry{key: cp.Key, expiresAt: cp.ExpiresAt})
	c.stores++
	return nil
}

// Cleanup drops expired entries immediately.
func (c *MemoryCache) Cleanup(ctx context.Context) (int, error) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now), nil
}

// Stats returns a counter snapshot.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Stores:    c.stores,
		Evictions: c.evictions,
		Entries:   len(c.entries),
		SavedUSD:  c.savedUSD,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the background sweep.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(c.clock.Now())
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// sweepLocked pops expired heap entries and removes the matching live
// entries. Heap entries for already-replaced keys are skipped.
func (c *MemoryCache) sweepLocked(now time.Time) int {
	removed := 0
	for c.expHeap.Len() > 0 {
		top := c.expHeap[0]
		if top.expiresAt.After(now) {
			break
		}
		heap.Pop(&c.expHeap)
		if e, ok := c.entries[top.key]; ok && !e.ExpiresAt.After(top.expiresAt) {
			delete(c.entries, top.key)
			removed++
		}
	}
	return removed
}

// evictLocked frees one slot: expired entries first, then the
// oldest-accessed entry among those under the minimum-hit threshold, then
// the globally oldest-accessed.
func (c *MemoryCache) evictLocked(now time.Time) {
	if c.sweepLocked(now) > 0 {
		return
	}

	var victim *Entry
	cold := false
	for _, e := range c.entries {
		eCold := e.HitCount < c.cfg.MinHitThreshold
		switch {
		case victim == nil:
			victim, cold = e, eCold
		case eCold && !cold:
			victim, cold = e, true
		case eCold == cold && e.LastAccessed.Before(victim.LastAccessed):
			victim = e
		}
	}
	if victim != nil {
		delete(c.entries, victim.Key)
		c.evictions++
	}
}
