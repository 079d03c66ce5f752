// Package ledger implements the usage ledger and budget gate: atomic daily
// cost counters, per-request cost caps, concurrency slots, and reservation
// commit/release reconciliation.
//
// All mutation goes through the narrow CounterStore interface so guardrail
// logic stays independent of the backing store. MemoryCounterStore serves
// single-instance deployments and tests; RedisCounterStore shares counters
// across instances with Lua-scripted atomicity.
package ledger

import (
	"context"
)

// DayCounter is the running usage for one organization on one day.
// Counters are created lazily and never decremented below zero.
type DayCounter struct {
	SpentUSD     float64
	RequestCount int64
}

// CounterStore is the atomic counter surface the ledger is built on.
// Every method must be safe under concurrent calls for the same key.
type CounterStore interface {
	// ReserveCost atomically adds cost to the day's spend if the resulting
	// total stays at or under ceiling. It reports the post-operation total
	// and whether the reservation was applied. Implementations use
	// increment-then-verify with rollback, so two concurrent reservations
	// can never jointly overshoot the ceiling.
	ReserveCost(ctx context.Context, orgID, day string, cost, ceiling float64) (total float64, ok bool, err error)

	// AdjustCost unconditionally adds delta (which may be negative) to the
	// day's spend, flooring at zero. Used for commit reconciliation and
	// reservation release.
	AdjustCost(ctx context.Context, orgID, day string, delta float64) (total float64, err error)

	// IncrRequests increments the day's request counter.
	IncrRequests(ctx context.Context, orgID, day string) error

	// AcquireSlot takes one concurrency slot if fewer than max are held.
	AcquireSlot(ctx context.Context, orgID string, max int) (ok bool, err error)

	// ReleaseSlot returns one concurrency slot, flooring at zero.
	ReleaseSlot(ctx context.Context, orgID string) error

	// Counter reads the day's usage. A missing counter reads as zero.
	Counter(ctx context.Context, orgID, day string) (DayCounter, error)

	// ActiveJobs reads the organization's held concurrency slots.
	ActiveJobs(ctx context.Context, orgID string) (int64, error)
}
