package respcache

import (
	"context"
	"time"
)

// Entry is a cached completion with its access metadata. The payload is
// immutable once written; only HitCount and LastAccessed move.
type Entry struct {
	Key        string    `json:"key"`
	Completion []byte    `json:"completion"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	// CostUSD is what the original completion cost; each hit counts it
	// toward savings.
	CostUSD      float64   `json:"cost_usd"`
	HitCount     int64     `json:"hit_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Stats tracks cache effectiveness for the observability surface.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Stores    int64   `json:"stores"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	SavedUSD  float64 `json:"saved_usd"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is the response cache contract.
type Cache interface {
	// Lookup returns the entry for key, bumping HitCount and LastAccessed
	// on a hit. ok is false on miss or expiry.
	Lookup(ctx context.Context, key string) (*Entry, bool, error)

	// Store writes a completion under key with the given TTL. ttl <= 0
	// uses the implementation default.
	Store(ctx context.Context, entry *Entry, ttl time.Duration) error

	// Cleanup drops expired entries immediately and reports how many were
	// removed. Exposed to the administration layer as a manual trigger.
	Cleanup(ctx context.Context) (int, error)

	// Stats returns a snapshot of cache effectiveness counters.
	Stats() Stats

	// Close releases background resources.
	Close() error
}
