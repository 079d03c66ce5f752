package ledger

import (
	"context"
	"sync"
)

// MemoryCounterStore implements CounterStore with per-organization mutexes.
// Counters are partitioned by organization so contention never crosses
// organization boundaries.
type MemoryCounterStore struct {
	mu   sync.Mutex // guards the orgs map only
	orgs map[string]*orgCounters
}

type orgCounters struct {
	mu         sync.Mutex
	days       map[string]*DayCounter
	activeJobs int64
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{orgs: make(map[string]*orgCounters)}
}

func (s *MemoryCounterStore) org(orgID string) *orgCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.orgs[orgID]
	if !ok {
		oc = &orgCounters{days: make(map[string]*DayCounter)}
		s.orgs[orgID] = oc
	}
	return oc
}

func (oc *orgCounters) day(day string) *DayCounter {
	dc, ok := oc.days[day]
	if !ok {
		dc = &DayCounter{}
		oc.days[day] = dc
	}
	return dc
}

// ReserveCost atomically adds cost if the ceiling is not crossed.
func (s *MemoryCounterStore) ReserveCost(ctx context.Context, orgID, day string, cost, ceiling float64) (float64, bool, error) {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	dc := oc.day(day)
	if dc.SpentUSD+cost > ceiling {
		return dc.SpentUSD, false, nil
	}
	dc.SpentUSD += cost
	return dc.SpentUSD, true, nil
}

// AdjustCost adds delta to the day's spend, flooring at zero.
func (s *MemoryCounterStore) AdjustCost(ctx context.Context, orgID, day string, delta float64) (float64, error) {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	dc := oc.day(day)
	dc.SpentUSD += delta
	if dc.SpentUSD < 0 {
		dc.SpentUSD = 0
	}
	return dc.SpentUSD, nil
}

// IncrRequests increments the day's request counter.
func (s *MemoryCounterStore) IncrRequests(ctx context.Context, orgID, day string) error {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.day(day).RequestCount++
	return nil
}

// AcquireSlot takes one concurrency slot if capacity remains.
func (s *MemoryCounterStore) AcquireSlot(ctx context.Context, orgID string, max int) (bool, error) {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if max > 0 && oc.activeJobs >= int64(max) {
		return false, nil
	}
	oc.activeJobs++
	return true, nil
}

// ReleaseSlot returns one concurrency slot.
func (s *MemoryCounterStore) ReleaseSlot(ctx context.Context, orgID string) error {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if oc.activeJobs > 0 {
		oc.activeJobs--
	}
	return nil
}

// Counter reads the day's usage.
func (s *MemoryCounterStore) Counter(ctx context.Context, orgID, day string) (DayCounter, error) {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	dc, ok := oc.days[day]
	if !ok {
		return DayCounter{}, nil
	}
	return *dc, nil
}

// ActiveJobs reads the held concurrency slots.
func (s *MemoryCounterStore) ActiveJobs(ctx context.Context, orgID string) (int64, error) {
	oc := s.org(orgID)
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.activeJobs, nil
}

var _ CounterStore = (*MemoryCounterStore)(nil)
