package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// MemoryWindowStore implements WindowStore with in-process fixed windows.
// Window math uses the injected clock only; wall-clock skew from callers
// never affects rollover.
type MemoryWindowStore struct {
	mu      sync.Mutex
	clock   types.Clock
	windows map[string]*windowEntry
}

type windowEntry struct {
	windowStart time.Time
	count       int64
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore(clock types.Clock) *MemoryWindowStore {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &MemoryWindowStore{
		clock:   clock,
		windows: make(map[string]*windowEntry),
	}
}

// Incr increments the key's current window, resetting it atomically when
// the window boundary has passed.
func (s *MemoryWindowStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.windows[key]
	if !ok || now.Sub(e.windowStart) >= window {
		e = &windowEntry{windowStart: now}
		s.windows[key] = e
	}
	e.count++
	remaining := window - now.Sub(e.windowStart)
	return e.count, remaining, nil
}

// Prune drops windows that rolled over more than one window ago. Called
// opportunistically by owners that hold many short-lived keys.
func (s *MemoryWindowStore) Prune(window time.Duration) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.windows {
		if now.Sub(e.windowStart) >= 2*window {
			delete(s.windows, key)
		}
	}
}

var _ WindowStore = (*MemoryWindowStore)(nil)
