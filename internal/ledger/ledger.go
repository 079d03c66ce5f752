package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cryptocrystian/modelgate/internal/metrics"
	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Reservation is a held slice of an organization's daily budget plus one
// concurrency slot. It is settled exactly once, by Commit or Release.
type Reservation struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"org_id"`
	Day              string    `json:"day"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}

// Ledger is the budget gate. It admits requests against the per-request
// cost cap, concurrency ceiling, and daily budget, and reconciles
// reservations against real costs after the provider call completes.
//
// The guardrail lock lives inside the CounterStore; the Ledger never holds
// it across the provider call. Reserve before the call, settle after.
//
// Open reservations are tracked in process memory even when the
// CounterStore is shared across instances, so each reservation must be
// settled on the instance that admitted it. Route outcomes and releases
// back to the admitting instance when running more than one.
type Ledger struct {
	store  CounterStore
	clock  types.Clock
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[string]*Reservation
	nominals map[string]struct{} // reservations already settled (idempotency)
}

// Config holds optional Ledger settings.
type Config struct {
	Clock  types.Clock
	Logger *slog.Logger
}

// New creates a Ledger over the given counter store.
func New(store CounterStore, cfg Config) *Ledger {
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		pending:  make(map[string]*Reservation),
		nominals: make(map[string]struct{}),
	}
}

// Day formats t as the ledger's calendar-day key.
func Day(t time.Time) string { return t.UTC().Format("2006-01-02") }

// settledHistoryLimit bounds the settled-reservation set used to tell a
// double settle apart from a reservation that never existed.
const settledHistoryLimit = 65536

// CheckAndReserve admits a request or denies it with a RouteError.
//
// Checks run in order: per-request cost cap, concurrency ceiling, daily
// budget. The per-request cap is checked first so an over-cap estimate is
// reported as RequestCostExceedsLimit even when the daily budget would also
// deny it. The daily reservation uses increment-then-verify, so concurrent
// requests for one organization cannot jointly overshoot the ceiling.
func (l *Ledger) CheckAndReserve(ctx context.Context, policy *types.Policy, estimatedCost float64) (*Reservation, types.BudgetState, error) {
	orgID := policy.OrgID

	if estimatedCost > policy.MaxRequestCostUSD {
		return nil, "", routeerrors.NewRequestCostExceedsLimit(orgID, estimatedCost, policy.MaxRequestCostUSD)
	}

	ok, err := l.store.AcquireSlot(ctx, orgID, policy.MaxConcurrentJobs)
	if err != nil {
		return nil, "", fmt.Errorf("acquire concurrency slot: %w", err)
	}
	if !ok {
		return nil, "", routeerrors.NewConcurrencyLimitExceeded(orgID, policy.MaxConcurrentJobs)
	}
	metrics.OrgActiveJobs.WithLabelValues(orgID).Inc()

	day := Day(l.clock.Now())
	total, ok, err := l.store.ReserveCost(ctx, orgID, day, estimatedCost, policy.MaxDailyCostUSD)
	if err != nil {
		l.releaseSlotQuiet(ctx, orgID)
		return nil, "", fmt.Errorf("reserve budget: %w", err)
	}
	if !ok {
		l.releaseSlotQuiet(ctx, orgID)
		return nil, "", routeerrors.NewDailyBudgetExceeded(orgID, total, policy.MaxDailyCostUSD)
	}

	if err := l.store.IncrRequests(ctx, orgID, day); err != nil {
		l.logger.Warn("request counter increment failed", "org", orgID, "error", err)
	}

	res := &Reservation{
		ID:               uuid.NewString(),
		OrgID:            orgID,
		Day:              day,
		EstimatedCostUSD: estimatedCost,
		CreatedAt:        l.clock.Now().UTC(),
	}

	l.mu.Lock()
	l.pending[res.ID] = res
	l.mu.Unlock()

	return res, types.BudgetStateFor(total, policy.MaxDailyCostUSD), nil
}

// Commit reconciles a reservation against the actual cost: the difference
// is refunded or further debited. A denial is never retroactively undone;
// overshoot from an underestimate is bounded by one request's slack.
// Unknown reservation IDs are reported as errors but have no effect.
func (l *Ledger) Commit(ctx context.Context, reservationID string, actualCost float64) error {
	res, err := l.take(reservationID)
	if err != nil {
		return err
	}

	delta := actualCost - res.EstimatedCostUSD
	if delta != 0 {
		if _, err := l.store.AdjustCost(ctx, res.OrgID, res.Day, delta); err != nil {
			return fmt.Errorf("commit reservation %s: %w", reservationID, err)
		}
	}
	l.releaseSlotQuiet(ctx, res.OrgID)
	return nil
}

// CommitEstimated settles a reservation at its original estimate, for
// outcomes whose true cost never became known.
func (l *Ledger) CommitEstimated(ctx context.Context, reservationID string) (float64, error) {
	res, err := l.take(reservationID)
	if err != nil {
		return 0, err
	}
	l.releaseSlotQuiet(ctx, res.OrgID)
	return res.EstimatedCostUSD, nil
}

// CommitNominal settles a reservation at a nominal cost, refunding the rest
// of the estimate. Used when a cache hit avoids the provider call.
func (l *Ledger) CommitNominal(ctx context.Context, reservationID string, nominalCost float64) error {
	return l.Commit(ctx, reservationID, nominalCost)
}

// Release is the compensating decrement for a caller that gave up before
// the provider call: the full estimate is refunded and the concurrency slot
// returned, so an abandoned admission never leaks budget.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	res, err := l.take(reservationID)
	if err != nil {
		return err
	}

	if _, err := l.store.AdjustCost(ctx, res.OrgID, res.Day, -res.EstimatedCostUSD); err != nil {
		return fmt.Errorf("release reservation %s: %w", reservationID, err)
	}
	l.releaseSlotQuiet(ctx, res.OrgID)
	return nil
}

// Usage returns the organization's point-in-time usage with the budget
// state recomputed from the counters.
func (l *Ledger) Usage(ctx context.Context, policy *types.Policy) (*types.UsageStatus, error) {
	day := Day(l.clock.Now())
	dc, err := l.store.Counter(ctx, policy.OrgID, day)
	if err != nil {
		return nil, fmt.Errorf("read usage counter: %w", err)
	}
	active, err := l.store.ActiveJobs(ctx, policy.OrgID)
	if err != nil {
		return nil, fmt.Errorf("read active jobs: %w", err)
	}

	status := &types.UsageStatus{
		OrgID:           policy.OrgID,
		Day:             day,
		SpentUSD:        dc.SpentUSD,
		RequestCount:    dc.RequestCount,
		ActiveJobs:      active,
		MaxDailyCostUSD: policy.MaxDailyCostUSD,
		RemainingUSD:    policy.MaxDailyCostUSD - dc.SpentUSD,
		State:           types.BudgetStateFor(dc.SpentUSD, policy.MaxDailyCostUSD),
	}
	if policy.MaxDailyCostUSD > 0 {
		status.UsagePercent = dc.SpentUSD / policy.MaxDailyCostUSD * 100
	}
	if status.RemainingUSD < 0 {
		status.RemainingUSD = 0
	}
	return status, nil
}

// take removes a pending reservation, enforcing settle-once semantics.
func (l *Ledger) take(reservationID string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.pending[reservationID]
	if !ok {
		if _, settled := l.nominals[reservationID]; settled {
			return nil, fmt.Errorf("reservation %s already settled", reservationID)
		}
		return nil, fmt.Errorf("unknown reservation %s", reservationID)
	}
	delete(l.pending, reservationID)
	if len(l.nominals) >= settledHistoryLimit {
		l.nominals = make(map[string]struct{})
	}
	l.nominals[reservationID] = struct{}{}
	return res, nil
}

func (l *Ledger) releaseSlotQuiet(ctx context.Context, orgID string) {
	if err := l.store.ReleaseSlot(ctx, orgID); err != nil {
		l.logger.Warn("concurrency slot release failed", "org", orgID, "error", err)
	}
	metrics.OrgActiveJobs.WithLabelValues(orgID).Dec()
}
