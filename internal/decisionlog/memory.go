package decisionlog

import (
	"context"
	"sort"
	"sync"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// MemoryStore implements Store in process. Suitable for development,
// testing, and single-instance deployments that accept losing history on
// restart.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*types.Decision
	byOrg map[string][]*types.Decision
}

// NewMemoryStore creates an empty in-memory decision log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*types.Decision),
		byOrg: make(map[string][]*types.Decision),
	}
}

// Record appends a decision. The stored copy is never handed back by
// reference, preserving append-only semantics against caller mutation.
func (s *MemoryStore) Record(ctx context.Context, d *types.Decision) error {
	cp := cloneDecision(d)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = cp
	s.byOrg[cp.OrgID] = append(s.byOrg[cp.OrgID], cp)
	return nil
}

// Get returns one decision by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return cloneDecision(d), nil
}

// History returns an organization's decisions, most recent first.
func (s *MemoryStore) History(ctx context.Context, orgID string, f Filter) ([]*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Decision
	for _, d := range s.byOrg[orgID] {
		if f.matches(d) {
			out = append(out, cloneDecision(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit := f.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

func cloneDecision(d *types.Decision) *types.Decision {
	cp := *d
	cp.Alternatives = append([]types.Alternative(nil), d.Alternatives...)
	cp.Constraints.AllowedProviders = append([]string(nil), d.Constraints.AllowedProviders...)
	if d.Telemetry != nil {
		cp.Telemetry = make(map[string]types.AggregatedMetric, len(d.Telemetry))
		for k, v := range d.Telemetry {
			cp.Telemetry[k] = v
		}
	}
	return &cp
}
