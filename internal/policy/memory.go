package policy

import (
	"context"
	"sync"

	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// MemoryStore implements Store with in-process storage.
// Suitable for development, testing, and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*types.Policy
	clock    types.Clock
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*types.Policy),
		clock:    types.SystemClock{},
	}
}

// SetClock overrides the clock used for created/updated timestamps.
func (s *MemoryStore) SetClock(clock types.Clock) { s.clock = clock }

// Get returns the policy for an organization.
func (s *MemoryStore) Get(ctx context.Context, orgID string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[orgID]
	if !ok {
		return nil, routeerrors.NewPolicyNotFound(orgID)
	}
	return p.Clone(), nil
}

// Upsert validates and stores the policy.
func (s *MemoryStore) Upsert(ctx context.Context, orgID string, p *types.Policy) error {
	cp := p.Clone()
	cp.OrgID = orgID
	if err := Validate(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	if existing, ok := s.policies[orgID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.policies[orgID] = cp
	return nil
}

// Delete removes the policy for an organization.
func (s *MemoryStore) Delete(ctx context.Context, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, orgID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
