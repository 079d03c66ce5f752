package modelgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cryptocrystian/modelgate/internal/breaker"
	"github.com/cryptocrystian/modelgate/internal/catalog"
	"github.com/cryptocrystian/modelgate/internal/decisionlog"
	"github.com/cryptocrystian/modelgate/internal/ledger"
	"github.com/cryptocrystian/modelgate/internal/metrics"
	"github.com/cryptocrystian/modelgate/internal/policy"
	"github.com/cryptocrystian/modelgate/internal/ratelimit"
	"github.com/cryptocrystian/modelgate/internal/respcache"
	"github.com/cryptocrystian/modelgate/internal/telemetry"
	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Engine is the policy and routing engine. It admits requests against the
// organization's guardrails, selects a provider/model pair, and reconciles
// reported outcomes. The engine never performs provider calls and never
// holds a guardrail lock across the caller's provider call.
type Engine struct {
	policies  policy.Store
	ledger    *ledger.Ledger
	limiter   *ratelimit.Limiter
	catalog   *catalog.Catalog
	agg       *telemetry.Aggregator
	breaker   *breaker.Breaker
	cache     respcache.Cache
	keygen    *respcache.Keygen
	decisions decisionlog.Store

	weights     types.ScoringWeights
	cacheTTL    time.Duration
	nominalCost float64
	logger      *slog.Logger
	clock       types.Clock

	// pendingWrites maps reservation IDs to the cache slot the completion
	// should land in, so ReportOutcome can write through without the
	// caller resending the prompt.
	mu            sync.Mutex
	pendingWrites map[string]cacheSlot

	cancelWatch context.CancelFunc
}

type cacheSlot struct {
	key      string
	provider string
	model    string
	estCost  float64
}

// New creates an Engine. With no options everything runs in memory,
// suitable for a single instance or tests.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}

	eng := &Engine{
		weights:       cfg.Weights,
		cacheTTL:      cfg.CacheTTL,
		nominalCost:   cfg.CacheNominalCostUSD,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		pendingWrites: make(map[string]cacheSlot),
	}

	eng.policies = cfg.PolicyStore
	if eng.policies == nil {
		eng.policies = policy.NewMemoryStore()
	}
	if cfg.PolicyCacheTTL > 0 {
		eng.policies = policy.NewCachedStore(eng.policies, cfg.PolicyCacheTTL)
	}

	counters := cfg.CounterStore
	if counters == nil {
		counters = ledger.NewMemoryCounterStore()
	}
	eng.ledger = ledger.New(counters, ledger.Config{Clock: cfg.Clock, Logger: cfg.Logger})

	windows := cfg.WindowStore
	if windows == nil {
		windows = ratelimit.NewMemoryWindowStore(cfg.Clock)
	}
	eng.limiter = ratelimit.New(windows, cfg.RateLimit)

	eng.agg = telemetry.New(telemetry.Config{Clock: cfg.Clock, WindowSize: cfg.TelemetryWindowSize})
	eng.breaker = breaker.New(eng.agg, cfg.BreakerConfig, cfg.Clock, cfg.Logger)

	if cfg.CacheEnabled {
		eng.cache = cfg.Cache
		if eng.cache == nil {
			mc := respcache.DefaultMemoryCacheConfig()
			mc.DefaultTTL = cfg.CacheTTL
			mc.MaxEntries = cfg.CacheMaxEntries
			mc.Clock = cfg.Clock
			eng.cache = respcache.NewMemoryCache(mc)
		}
		eng.keygen = respcache.NewKeygen(cfg.CacheKeyPrefix)
	}

	eng.decisions = cfg.DecisionLog
	if eng.decisions == nil {
		eng.decisions = decisionlog.NewMemoryStore()
	}

	switch {
	case cfg.Catalog != nil:
		eng.catalog = cfg.Catalog
	case cfg.CatalogPath != "" && cfg.CatalogHotReload:
		mgr, err := catalog.NewManager(cfg.CatalogPath, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		if err := mgr.Watch(watchCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("watch catalog: %w", err)
		}
		eng.cancelWatch = cancel
		eng.catalog = mgr.Catalog()
	case cfg.CatalogPath != "":
		c, err := catalog.NewFromFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		eng.catalog = c
	default:
		eng.catalog = catalog.New()
	}

	return eng, nil
}

// Close releases background resources.
func (e *Engine) Close() error {
	if e.cancelWatch != nil {
		e.cancelWatch()
	}
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// RouteRequest decides whether the request is admitted and which
// provider/model pair should serve it.
//
// On admission the returned decision carries a budget reservation; the
// caller must settle it exactly once, by ReportOutcome after the provider
// call or ReleaseReservation on abandonment. Cache hits are settled by the
// engine itself at the nominal serving cost and need no outcome report.
//
// Denials are *errors.RouteError values; IsReason distinguishes them.
func (e *Engine) RouteRequest(ctx context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	var missing []string
	if req.OrgID == "" {
		missing = append(missing, "org_id")
	}
	if req.TaskCategory == "" {
		missing = append(missing, "task_category")
	}
	if len(missing) > 0 {
		return nil, routeerrors.NewInvalidRequest(req.OrgID, missing)
	}

	pol, err := e.policies.Get(ctx, req.OrgID)
	if err != nil {
		e.denied(req, routeerrors.ReasonOf(err))
		return nil, err
	}

	if req.EstimatedTokensIn > pol.MaxTokensInput {
		err := routeerrors.NewTokenLimitExceeded(req.OrgID, "input", req.EstimatedTokensIn, pol.MaxTokensInput)
		e.denied(req, routeerrors.ReasonOf(err))
		return nil, err
	}
	if req.EstimatedTokensOut > pol.MaxTokensOutput {
		err := routeerrors.NewTokenLimitExceeded(req.OrgID, "output", req.EstimatedTokensOut, pol.MaxTokensOutput)
		e.denied(req, routeerrors.ReasonOf(err))
		return nil, err
	}

	if err := e.limiter.CheckAndIncrement(ctx, pol); err != nil {
		e.denied(req, routeerrors.ReasonOf(err))
		return nil, err
	}

	usage, err := e.ledger.Usage(ctx, pol)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	choice, err := e.selectModel(req, pol, usage.State)
	if err != nil {
		e.denied(req, routeerrors.ReasonOf(err))
		metrics.NoEligibleModel.WithLabelValues(req.OrgID, req.TaskCategory).Inc()
		return nil, err
	}

	res, budgetState, err := e.ledger.CheckAndReserve(ctx, pol, choice.estCost)
	if err != nil {
		e.denied(req, routeerrors.ReasonOf(err))
		return nil, err
	}
	metrics.AdmissionChecks.WithLabelValues(req.OrgID, "admitted").Inc()

	decision := e.buildDecision(req, res.ID, choice, budgetState)

	// Serve from cache when an identical normalized request has a live
	// completion for the selected pair. The reservation settles at the
	// nominal serving cost; the caller makes no provider call.
	if e.cache != nil && !req.NoCache && req.Prompt != "" {
		key := e.keygen.Generate(respcache.KeyParams{
			Provider: choice.spec.Provider,
			Model:    choice.spec.Model,
			Prompt:   req.Prompt,
			Params:   req.Params,
		})
		entry, hit, cErr := e.cache.Lookup(ctx, key)
		if cErr != nil {
			e.logger.Warn("cache lookup failed", "org", req.OrgID, "error", cErr)
		}
		if hit {
			if err := e.ledger.CommitNominal(ctx, res.ID, e.nominalCost); err != nil {
				e.logger.Warn("nominal commit failed", "reservation", res.ID, "error", err)
			}
			decision.CacheHit = true
			decision.EstimatedCostUSD = e.nominalCost
			e.record(ctx, decision)
			metrics.CacheHits.WithLabelValues(entry.Provider, entry.Model).Inc()
			metrics.CacheSavedUSD.Add(entry.CostUSD)
			return &types.RoutingDecision{
				ReservationID:    res.ID,
				Provider:         entry.Provider,
				Model:            entry.Model,
				EstimatedCostUSD: e.nominalCost,
				CacheHit:         true,
				CachedCompletion: append([]byte(nil), entry.Completion...),
				Decision:         decision,
			}, nil
		}
		metrics.CacheMisses.WithLabelValues(choice.spec.Provider, choice.spec.Model).Inc()
		e.mu.Lock()
		e.pendingWrites[res.ID] = cacheSlot{
			key:      key,
			provider: choice.spec.Provider,
			model:    choice.spec.Model,
			estCost:  choice.estCost,
		}
		e.mu.Unlock()
	}

	e.record(ctx, decision)
	metrics.Decisions.WithLabelValues(choice.spec.Provider, choice.spec.Model, req.TaskCategory).Inc()
	metrics.DecisionScore.WithLabelValues(choice.spec.Provider, choice.spec.Model).Observe(choice.factors.TotalScore)
	metrics.OrgDailySpend.WithLabelValues(req.OrgID).Set(usage.SpentUSD + choice.estCost)

	e.logger.Debug("routing decision",
		"org", req.OrgID,
		"task", req.TaskCategory,
		"provider", choice.spec.Provider,
		"model", choice.spec.Model,
		"score", choice.factors.TotalScore,
		"estimated_cost_usd", choice.estCost,
		"budget_state", string(budgetState),
	)

	return &types.RoutingDecision{
		ReservationID:    res.ID,
		Provider:         choice.spec.Provider,
		Model:            choice.spec.Model,
		EstimatedCostUSD: choice.estCost,
		Decision:         decision,
	}, nil
}

// ReportOutcome settles the reservation and feeds telemetry. Provider
// failures reported here affect future routing; they are never propagated
// back to the reporting caller.
func (e *Engine) ReportOutcome(ctx context.Context, out *types.Outcome) {
	e.mu.Lock()
	slot, hasSlot := e.pendingWrites[out.ReservationID]
	delete(e.pendingWrites, out.ReservationID)
	e.mu.Unlock()

	var actual float64
	if out.ActualCostUSD != nil {
		actual = *out.ActualCostUSD
		if err := e.ledger.Commit(ctx, out.ReservationID, actual); err != nil {
			e.logger.Warn("reservation commit failed",
				"reservation", out.ReservationID, "org", out.OrgID, "error", err)
		}
	} else {
		// Unknown true cost: the reservation settles at its estimate.
		est, err := e.ledger.CommitEstimated(ctx, out.ReservationID)
		if err != nil {
			e.logger.Warn("reservation commit failed",
				"reservation", out.ReservationID, "org", out.OrgID, "error", err)
		}
		actual = est
	}

	e.agg.Record(types.TelemetrySample{
		Provider:  out.Provider,
		Model:     out.Model,
		Timestamp: e.clock.Now().UTC(),
		LatencyMs: out.LatencyMs,
		Success:   out.Success,
		CostUSD:   actual,
	})
	state := e.breaker.Evaluate(out.Provider, out.Model)
	metrics.CircuitState.WithLabelValues(out.Provider, out.Model).Set(circuitGauge(state.Status))

	if out.Success && hasSlot && e.cache != nil && len(out.Completion) > 0 {
		entry := &respcache.Entry{
			Key:        slot.key,
			Completion: append([]byte(nil), out.Completion...),
			Provider:   slot.provider,
			Model:      slot.model,
			CostUSD:    actual,
		}
		if err := e.cache.Store(ctx, entry, e.cacheTTL); err != nil {
			e.logger.Warn("cache store failed", "org", out.OrgID, "error", err)
		}
	}
}

// ReleaseReservation refunds a reservation whose provider call never
// happened, for callers that abandon the request after admission.
func (e *Engine) ReleaseReservation(ctx context.Context, reservationID string) error {
	e.mu.Lock()
	delete(e.pendingWrites, reservationID)
	e.mu.Unlock()
	return e.ledger.Release(ctx, reservationID)
}

// Policy returns the organization's guardrail policy.
func (e *Engine) Policy(ctx context.Context, orgID string) (*types.Policy, error) {
	return e.policies.Get(ctx, orgID)
}

// SetPolicy validates and stores the organization's guardrail policy.
func (e *Engine) SetPolicy(ctx context.Context, p *types.Policy) error {
	if err := policy.Validate(p); err != nil {
		return err
	}
	return e.policies.Upsert(ctx, p.OrgID, p)
}

// Usage returns the organization's point-in-time daily usage.
func (e *Engine) Usage(ctx context.Context, orgID string) (*types.UsageStatus, error) {
	pol, err := e.policies.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return e.ledger.Usage(ctx, pol)
}

// CircuitStatus returns the health of one provider/model pair.
func (e *Engine) CircuitStatus(provider, model string) types.CircuitState {
	return e.breaker.Status(provider, model)
}

// CircuitStates snapshots every tracked circuit.
func (e *Engine) CircuitStates() []types.CircuitState {
	return e.breaker.States()
}

// CacheStats returns response cache effectiveness counters.
func (e *Engine) CacheStats() respcache.Stats {
	if e.cache == nil {
		return respcache.Stats{}
	}
	return e.cache.Stats()
}

// CacheCleanup drops expired cache entries immediately.
func (e *Engine) CacheCleanup(ctx context.Context) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Cleanup(ctx)
}

// DecisionHistory returns an organization's decisions, most recent first.
func (e *Engine) DecisionHistory(ctx context.Context, orgID string, f decisionlog.Filter) ([]*types.Decision, error) {
	return e.decisions.History(ctx, orgID, f)
}

// ExplainDecision reconstructs the reasoning behind a recorded decision.
func (e *Engine) ExplainDecision(ctx context.Context, decisionID string) (*decisionlog.Explanation, error) {
	d, err := e.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return decisionlog.Explain(d), nil
}

func (e *Engine) buildDecision(req *types.RoutingRequest, reservationID string, c *choice, budgetState types.BudgetState) *types.Decision {
	return &types.Decision{
		ID:               uuid.NewString(),
		OrgID:            req.OrgID,
		ReservationID:    reservationID,
		Timestamp:        e.clock.Now().UTC(),
		TaskCategory:     req.TaskCategory,
		Provider:         c.spec.Provider,
		Model:            c.spec.Model,
		EstimatedCostUSD: c.estCost,
		Factors:          c.factors,
		Weights:          e.weights,
		Alternatives:     c.alternatives,
		Constraints:      c.constraints,
		BudgetState:      budgetState,
		Telemetry:        c.telemetry,
	}
}

func (e *Engine) record(ctx context.Context, d *types.Decision) {
	if err := e.decisions.Record(ctx, d); err != nil {
		e.logger.Warn("decision log write failed", "decision", d.ID, "error", err)
	}
}

// denied logs and counts an admission denial. Denials are not written to
// the decision log, which records selections only.
func (e *Engine) denied(req *types.RoutingRequest, reason routeerrors.Reason) {
	metrics.AdmissionChecks.WithLabelValues(req.OrgID, "denied").Inc()
	metrics.AdmissionDenials.WithLabelValues(req.OrgID, string(reason)).Inc()
	e.logger.Info("request denied",
		"org", req.OrgID,
		"task", req.TaskCategory,
		"reason", string(reason),
	)
}

func circuitGauge(s types.CircuitStatus) float64 {
	switch s {
	case types.CircuitWarning:
		return 1
	case types.CircuitCritical:
		return 2
	}
	return 0
}
