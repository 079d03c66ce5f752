// Package ratelimit enforces per-organization fixed-window rate limits:
// a short burst window and a sustained per-minute window, evaluated in
// that order. The increment is atomic with the capacity check, so
// concurrent arrivals can never admit more than the configured limit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// WindowStore is the atomic fixed-window counter surface.
type WindowStore interface {
	// Incr increments the counter for key's current fixed window and
	// returns the post-increment count plus the time remaining until the
	// window rolls over. The first increment after rollover establishes a
	// fresh window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// Config holds the window durations.
type Config struct {
	BurstWindow     time.Duration // default 10s
	SustainedWindow time.Duration // default 60s
}

// DefaultConfig returns the documented window defaults.
func DefaultConfig() Config {
	return Config{
		BurstWindow:     10 * time.Second,
		SustainedWindow: 60 * time.Second,
	}
}

// Limiter evaluates burst then sustained windows for an organization.
type Limiter struct {
	store WindowStore
	cfg   Config
}

// New creates a Limiter over the given window store.
func New(store WindowStore, cfg Config) *Limiter {
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 10 * time.Second
	}
	if cfg.SustainedWindow <= 0 {
		cfg.SustainedWindow = 60 * time.Second
	}
	return &Limiter{store: store, cfg: cfg}
}

// CheckAndIncrement admits a request or denies it with a RateLimited
// RouteError carrying the retry-after until the saturated window resets.
// A denial from the sustained window leaves the burst increment in place;
// counts above the limit only ever deny, they never admit extra requests.
func (l *Limiter) CheckAndIncrement(ctx context.Context, policy *types.Policy) error {
	orgID := policy.OrgID

	count, remaining, err := l.store.Incr(ctx, "burst:"+orgID, l.cfg.BurstWindow)
	if err != nil {
		return fmt.Errorf("burst window: %w", err)
	}
	if count > int64(policy.BurstRateLimit) {
		return routeerrors.NewRateLimited(orgID, "burst", remaining)
	}

	count, remaining, err = l.store.Incr(ctx, "sustained:"+orgID, l.cfg.SustainedWindow)
	if err != nil {
		return fmt.Errorf("sustained window: %w", err)
	}
	if count > int64(policy.SustainedRateLimit) {
		return routeerrors.NewRateLimited(orgID, "sustained", remaining)
	}

	return nil
}
