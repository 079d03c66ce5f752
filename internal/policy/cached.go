package policy

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// CachedStore decorates a Store with a short-lived read cache. Writes and
// deletes invalidate the cached entry so readers never see a stale policy
// for longer than the TTL after an out-of-band database change.
type CachedStore struct {
	inner Store
	cache *gocache.Cache
}

// NewCachedStore wraps inner with a read cache. ttl bounds staleness for
// writes that bypass this process; in-process writes invalidate immediately.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Get returns the cached policy or falls through to the inner store.
// Not-found results are not cached; provisioning should become visible
// immediately.
func (s *CachedStore) Get(ctx context.Context, orgID string) (*types.Policy, error) {
	if v, ok := s.cache.Get(orgID); ok {
		return v.(*types.Policy).Clone(), nil
	}
	p, err := s.inner.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(orgID, p.Clone())
	return p, nil
}

// Upsert writes through and invalidates the cached entry.
func (s *CachedStore) Upsert(ctx context.Context, orgID string, p *types.Policy) error {
	if err := s.inner.Upsert(ctx, orgID, p); err != nil {
		return err
	}
	s.cache.Delete(orgID)
	return nil
}

// Delete removes the policy and its cached entry.
func (s *CachedStore) Delete(ctx context.Context, orgID string) error {
	if err := s.inner.Delete(ctx, orgID); err != nil {
		return err
	}
	s.cache.Delete(orgID)
	return nil
}

var _ Store = (*CachedStore)(nil)
