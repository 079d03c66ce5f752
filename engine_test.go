package modelgate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptocrystian/modelgate/internal/breaker"
	"github.com/cryptocrystian/modelgate/internal/catalog"
	"github.com/cryptocrystian/modelgate/internal/decisionlog"
	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(v float64) *float64 { return &v }

// chatCatalog registers three pairs with distinct price/quality trade-offs.
// With default weights and no telemetry, gpt-4o-mini wins "chat" on cost
// and latency; a 0.9 quality floor leaves gpt-4o and claude-sonnet.
func chatCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Replace([]catalog.ModelSpec{
		{
			Provider: "openai", Model: "gpt-4o",
			InputCostPerToken: 0.0000025, OutputCostPerToken: 0.00001,
			Quality: 0.92, LatencyHintMs: 800,
			TaskCategories: []string{"chat", "code"},
		},
		{
			Provider: "openai", Model: "gpt-4o-mini",
			InputCostPerToken: 0.00000015, OutputCostPerToken: 0.0000006,
			Quality: 0.78, LatencyHintMs: 400,
			TaskCategories: []string{"chat"},
		},
		{
			Provider: "anthropic", Model: "claude-sonnet",
			InputCostPerToken: 0.000003, OutputCostPerToken: 0.000015,
			Quality: 0.94, LatencyHintMs: 900,
			TaskCategories: []string{"chat", "code"},
		},
	})
	return c
}

// fixedCatalog holds a single pair priced at 0.0001 USD per token on both
// dimensions, so request cost is exactly (tokensIn+tokensOut) * 0.0001.
func fixedCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Replace([]catalog.ModelSpec{
		{
			Provider: "openai", Model: "fixed",
			InputCostPerToken: 0.0001, OutputCostPerToken: 0.0001,
			Quality: 0.9, LatencyHintMs: 500,
			TaskCategories: []string{"chat"},
		},
	})
	return c
}

func testPolicy(orgID string) *types.Policy {
	return &types.Policy{
		OrgID:              orgID,
		MaxDailyCostUSD:    10.00,
		MaxRequestCostUSD:  0.50,
		MaxTokensInput:     32000,
		MaxTokensOutput:    8000,
		MaxConcurrentJobs:  100,
		AllowedProviders:   []string{"openai", "anthropic"},
		BurstRateLimit:     50,
		SustainedRateLimit: 200,
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	fc := newFakeClock()
	base := []Option{
		WithClock(fc),
		WithLogger(discardLogger()),
		WithCatalog(chatCatalog()),
	}
	eng, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, fc
}

func chatRequest(orgID string) *types.RoutingRequest {
	return &types.RoutingRequest{
		OrgID:              orgID,
		TaskCategory:       "chat",
		EstimatedTokensIn:  1000,
		EstimatedTokensOut: 500,
	}
}

func TestRouteRequestSelectsBestModel(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)

	assert.Equal(t, "openai", dec.Provider)
	assert.Equal(t, "gpt-4o-mini", dec.Model)
	assert.InDelta(t, 0.00045, dec.EstimatedCostUSD, 1e-12)
	assert.NotEmpty(t, dec.ReservationID)
	assert.False(t, dec.CacheHit)

	require.NotNil(t, dec.Decision)
	assert.Equal(t, "chat", dec.Decision.TaskCategory)
	assert.Greater(t, dec.Decision.Factors.TotalScore, 0.0)
	require.Len(t, dec.Decision.Alternatives, 2)
	for _, alt := range dec.Decision.Alternatives {
		assert.False(t, alt.Rejected)
	}
}

func TestRouteRequestDeterministic(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	first, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	require.NoError(t, eng.ReleaseReservation(ctx, first.ReservationID))

	for i := 0; i < 5; i++ {
		dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
		require.NoError(t, err)
		assert.Equal(t, first.Provider, dec.Provider)
		assert.Equal(t, first.Model, dec.Model)
		assert.Equal(t, first.Decision.Factors, dec.Decision.Factors)
		require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))
	}
}

func TestRouteRequestMinPerfConstraint(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	req := chatRequest("org-1")
	req.Constraints = &types.Constraints{MinPerf: floatPtr(0.9)}

	dec, err := eng.RouteRequest(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", dec.Model)

	var miniSeen bool
	for _, alt := range dec.Decision.Alternatives {
		if alt.Model == "gpt-4o-mini" {
			miniSeen = true
			assert.True(t, alt.Rejected)
			assert.Equal(t, types.RejectBelowMinPerformance, alt.RejectReason)
		}
	}
	assert.True(t, miniSeen)
}

func TestRouteRequestTaskOverride(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	pol := testPolicy("org-1")
	pol.TaskOverrides = map[string]types.TaskOverride{
		"chat": {MinPerf: 0.9},
	}
	require.NoError(t, eng.SetPolicy(ctx, pol))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", dec.Model)
	require.NotNil(t, dec.Decision.Constraints.MinPerf)
	assert.Equal(t, 0.9, *dec.Decision.Constraints.MinPerf)
}

func TestRouteRequestAllowedProviders(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	pol := testPolicy("org-1")
	pol.AllowedProviders = []string{"anthropic"}
	require.NoError(t, eng.SetPolicy(ctx, pol))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", dec.Provider)
	assert.Equal(t, "claude-sonnet", dec.Model)
}

func TestRouteRequestForceCheapest(t *testing.T) {
	ctx := context.Background()

	cat := catalog.New()
	cat.Replace([]catalog.ModelSpec{
		{
			Provider: "openai", Model: "budget",
			InputCostPerToken: 0.000001, OutputCostPerToken: 0.000001,
			Quality: 0.5, LatencyHintMs: 300,
			TaskCategories: []string{"chat"},
		},
		{
			Provider: "openai", Model: "premium",
			InputCostPerToken: 0.00001, OutputCostPerToken: 0.00001,
			Quality: 1.0, LatencyHintMs: 300,
			TaskCategories: []string{"chat"},
		},
	})
	eng, _ := newTestEngine(t,
		WithCatalog(cat),
		WithScoringWeights(types.ScoringWeights{Quality: 1}),
	)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	assert.Equal(t, "premium", dec.Model)
	require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))

	req := chatRequest("org-1")
	req.Constraints = &types.Constraints{ForceCheapest: true}
	dec, err = eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "budget", dec.Model)
	assert.True(t, dec.Decision.Constraints.ForceCheapest)
}

func TestRouteRequestBudgetPressureForcesCheapest(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, WithCatalog(fixedCatalog()))

	pol := testPolicy("org-1")
	pol.MaxDailyCostUSD = 1.00
	pol.MaxRequestCostUSD = 1.00
	require.NoError(t, eng.SetPolicy(ctx, pol))

	req := chatRequest("org-1")
	req.EstimatedTokensIn, req.EstimatedTokensOut = 100, 100

	dec, err := eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	assert.False(t, dec.Decision.Constraints.ForceCheapest)
	eng.ReportOutcome(ctx, &types.Outcome{
		ReservationID: dec.ReservationID,
		OrgID:         "org-1",
		Provider:      dec.Provider,
		Model:         dec.Model,
		ActualCostUSD: floatPtr(0.96),
		LatencyMs:     500,
		Success:       true,
	})

	usage, err := eng.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, types.BudgetStateCritical, usage.State)

	dec, err = eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	assert.True(t, dec.Decision.Constraints.ForceCheapest)
	assert.Equal(t, types.BudgetStateCritical, dec.Decision.BudgetState)
}

func TestRouteRequestPerRequestCapBeforeDailyBudget(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, WithCatalog(fixedCatalog()))

	pol := testPolicy("org-1")
	pol.MaxDailyCostUSD = 0.55
	pol.MaxRequestCostUSD = 0.50
	require.NoError(t, eng.SetPolicy(ctx, pol))

	// Estimate 0.60 USD violates both the per-request cap and the daily
	// budget; the cap must be the reported reason.
	req := chatRequest("org-1")
	req.EstimatedTokensIn, req.EstimatedTokensOut = 3000, 3000

	_, err := eng.RouteRequest(ctx, req)
	require.Error(t, err)
	assert.True(t, IsReason(err, ReasonRequestCostExceedsLimit))

	var re *RouteError
	require.True(t, routeerrors.As(err, &re))
	assert.True(t, re.Retryable())
}

func TestRouteRequestDailyBudgetDenial(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, WithCatalog(fixedCatalog()))

	pol := testPolicy("org-1")
	pol.MaxDailyCostUSD = 0.50
	pol.MaxRequestCostUSD = 0.30
	require.NoError(t, eng.SetPolicy(ctx, pol))

	req := chatRequest("org-1")
	req.EstimatedTokensIn, req.EstimatedTokensOut = 1000, 1000 // 0.20 USD

	for i := 0; i < 2; i++ {
		dec, err := eng.RouteRequest(ctx, req)
		require.NoError(t, err)
		eng.ReportOutcome(ctx, &types.Outcome{
			ReservationID: dec.ReservationID,
			OrgID:         "org-1",
			Provider:      dec.Provider,
			Model:         dec.Model,
			ActualCostUSD: floatPtr(0.20),
			LatencyMs:     500,
			Success:       true,
		})
	}

	_, err := eng.RouteRequest(ctx, req)
	assert.True(t, IsReason(err, ReasonDailyBudgetExceeded))

	usage, err := eng.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.40, usage.SpentUSD, 1e-9)
	assert.Equal(t, types.BudgetStateWarning, usage.State)
}

func TestRouteRequestTokenLimits(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	pol := testPolicy("org-1")
	pol.MaxTokensInput = 1000
	pol.MaxTokensOutput = 500
	require.NoError(t, eng.SetPolicy(ctx, pol))

	t.Run("input over ceiling", func(t *testing.T) {
		req := chatRequest("org-1")
		req.EstimatedTokensIn = 2000
		_, err := eng.RouteRequest(ctx, req)
		assert.True(t, IsReason(err, ReasonTokenLimitExceeded))
	})

	t.Run("output over ceiling", func(t *testing.T) {
		req := chatRequest("org-1")
		req.EstimatedTokensOut = 600
		_, err := eng.RouteRequest(ctx, req)
		assert.True(t, IsReason(err, ReasonTokenLimitExceeded))
	})

	t.Run("at ceiling admitted", func(t *testing.T) {
		dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
		require.NoError(t, err)
		require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))
	})
}

func TestRouteRequestRateLimit(t *testing.T) {
	ctx := context.Background()
	eng, fc := newTestEngine(t)

	pol := testPolicy("org-1")
	pol.BurstRateLimit = 3
	pol.SustainedRateLimit = 100
	require.NoError(t, eng.SetPolicy(ctx, pol))

	for i := 0; i < 3; i++ {
		dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
		require.NoError(t, err, "request %d", i)
		require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))
	}

	_, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.True(t, IsReason(err, ReasonRateLimited))

	var re *RouteError
	require.True(t, routeerrors.As(err, &re))
	assert.Greater(t, re.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, re.RetryAfter, 10*time.Second)

	// A fresh burst window readmits.
	fc.Advance(11 * time.Second)
	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))
}

func TestRouteRequestConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	pol := testPolicy("org-1")
	pol.MaxConcurrentJobs = 2
	require.NoError(t, eng.SetPolicy(ctx, pol))

	first, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	_, err = eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)

	_, err = eng.RouteRequest(ctx, chatRequest("org-1"))
	assert.True(t, IsReason(err, ReasonConcurrencyLimitExceeded))

	// Settling one reservation frees its slot.
	require.NoError(t, eng.ReleaseReservation(ctx, first.ReservationID))
	_, err = eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
}

func TestRouteRequestNoEligibleModel(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	t.Run("quality floor filters everything", func(t *testing.T) {
		req := chatRequest("org-1")
		req.Constraints = &types.Constraints{MinPerf: floatPtr(0.99)}

		_, err := eng.RouteRequest(ctx, req)
		require.True(t, IsReason(err, ReasonNoEligibleModel))

		var re *RouteError
		require.True(t, routeerrors.As(err, &re))
		require.Len(t, re.Rejected, 3)
		for _, rej := range re.Rejected {
			assert.Equal(t, string(types.RejectBelowMinPerformance), rej.Reason)
		}
		assert.False(t, re.Retryable())
	})

	t.Run("unregistered task category", func(t *testing.T) {
		req := chatRequest("org-1")
		req.TaskCategory = "translate"

		_, err := eng.RouteRequest(ctx, req)
		require.True(t, IsReason(err, ReasonNoEligibleModel))
	})
}

func TestRouteRequestValidation(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.RouteRequest(ctx, &types.RoutingRequest{TaskCategory: "chat"})
	require.True(t, IsReason(err, ReasonInvalidRequest))

	_, err = eng.RouteRequest(ctx, &types.RoutingRequest{OrgID: "org-1"})
	require.True(t, IsReason(err, ReasonInvalidRequest))

	var re *RouteError
	require.True(t, routeerrors.As(err, &re))
	assert.Equal(t, []string{"task_category"}, re.Fields)
	assert.False(t, re.Retryable())

	_, err = eng.RouteRequest(ctx, chatRequest("unknown-org"))
	assert.True(t, IsReason(err, ReasonPolicyNotFound))
}

func TestResponseCache(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	completion := []byte(`{"text":"the answer"}`)
	req := chatRequest("org-1")
	req.Prompt = "What is the capital of France?"

	dec, err := eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	require.False(t, dec.CacheHit)

	eng.ReportOutcome(ctx, &types.Outcome{
		ReservationID: dec.ReservationID,
		OrgID:         "org-1",
		Provider:      dec.Provider,
		Model:         dec.Model,
		ActualCostUSD: floatPtr(0.01),
		LatencyMs:     700,
		Success:       true,
		Completion:    completion,
	})

	t.Run("identical request served from cache", func(t *testing.T) {
		hit, err := eng.RouteRequest(ctx, req)
		require.NoError(t, err)
		assert.True(t, hit.CacheHit)
		assert.Equal(t, completion, hit.CachedCompletion)
		assert.Equal(t, dec.Provider, hit.Provider)
		assert.Equal(t, dec.Model, hit.Model)
		// Cache hits settle at the nominal serving cost.
		assert.InDelta(t, 0.0001, hit.EstimatedCostUSD, 1e-12)
	})

	t.Run("whitespace variants share a key", func(t *testing.T) {
		variant := chatRequest("org-1")
		variant.Prompt = "  What is   the capital of France? "
		hit, err := eng.RouteRequest(ctx, variant)
		require.NoError(t, err)
		assert.True(t, hit.CacheHit)
	})

	t.Run("no-cache bypasses lookup", func(t *testing.T) {
		bypass := chatRequest("org-1")
		bypass.Prompt = req.Prompt
		bypass.NoCache = true
		miss, err := eng.RouteRequest(ctx, bypass)
		require.NoError(t, err)
		assert.False(t, miss.CacheHit)
		require.NoError(t, eng.ReleaseReservation(ctx, miss.ReservationID))
	})

	t.Run("hits settle against the budget", func(t *testing.T) {
		usage, err := eng.Usage(ctx, "org-1")
		require.NoError(t, err)
		// One provider call at 0.01 plus two nominal cache serves.
		assert.InDelta(t, 0.0102, usage.SpentUSD, 1e-9)
		assert.Zero(t, usage.ActiveJobs)
	})

	stats := eng.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
}

func TestCacheDisabled(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, WithCacheDisabled())
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	req := chatRequest("org-1")
	req.Prompt = "hello"

	dec, err := eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	eng.ReportOutcome(ctx, &types.Outcome{
		ReservationID: dec.ReservationID,
		OrgID:         "org-1",
		Provider:      dec.Provider,
		Model:         dec.Model,
		ActualCostUSD: floatPtr(0.01),
		LatencyMs:     700,
		Success:       true,
		Completion:    []byte("cached?"),
	})

	again, err := eng.RouteRequest(ctx, req)
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
	require.NoError(t, eng.ReleaseReservation(ctx, again.ReservationID))
}

func TestBreakerExcludesFailingPair(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, WithBreakerConfig(breaker.Config{
		DeviationThreshold: 0.2,
		ErrorRateCeiling:   0.3,
		CoolDown:           time.Minute,
		MinSamples:         5,
	}))
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	for i := 0; i < 5; i++ {
		dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
		require.NoError(t, err)
		require.Equal(t, "gpt-4o-mini", dec.Model)
		eng.ReportOutcome(ctx, &types.Outcome{
			ReservationID: dec.ReservationID,
			OrgID:         "org-1",
			Provider:      dec.Provider,
			Model:         dec.Model,
			ActualCostUSD: floatPtr(0.0004),
			LatencyMs:     500,
			Success:       false,
		})
	}

	state := eng.CircuitStatus("openai", "gpt-4o-mini")
	require.Equal(t, types.CircuitCritical, state.Status)
	assert.False(t, state.CoolDownUntil.IsZero())

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", dec.Model)

	var openSeen bool
	for _, alt := range dec.Decision.Alternatives {
		if alt.Model == "gpt-4o-mini" {
			openSeen = true
			assert.True(t, alt.Rejected)
			assert.Equal(t, types.RejectCircuitOpen, alt.RejectReason)
		}
	}
	assert.True(t, openSeen)

	states := eng.CircuitStates()
	assert.NotEmpty(t, states)
}

func TestWarningCircuitPenalizedInScoring(t *testing.T) {
	ctx := context.Background()

	cat := catalog.New()
	cat.Replace([]catalog.ModelSpec{
		{
			Provider: "openai", Model: "premium",
			InputCostPerToken: 0.000001, OutputCostPerToken: 0.000001,
			Quality: 1.0, LatencyHintMs: 200,
			TaskCategories: []string{"chat"},
		},
		{
			Provider: "openai", Model: "standard",
			InputCostPerToken: 0.000001, OutputCostPerToken: 0.000001,
			Quality: 0.8, LatencyHintMs: 200,
			TaskCategories: []string{"chat"},
		},
	})
	eng, fc := newTestEngine(t, WithCatalog(cat), WithTelemetryWindowSize(10))
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	record := func(n int, latencyMs float64) {
		for i := 0; i < n; i++ {
			eng.agg.Record(types.TelemetrySample{
				Provider:  "openai",
				Model:     "premium",
				Timestamp: fc.Now().UTC(),
				LatencyMs: latencyMs,
				Success:   true,
			})
		}
	}

	// Healthy baseline: the higher-quality pair wins outright.
	record(20, 100)
	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	require.Equal(t, "premium", dec.Model)
	assert.InDelta(t, 1.0, dec.Decision.Factors.TotalScore, 1e-9)
	require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))

	// Latency drift flips the circuit to warning. The pair stays eligible
	// but its total score is halved, and the runner-up overtakes it.
	record(10, 200)
	require.Equal(t, types.CircuitWarning, eng.CircuitStatus("openai", "premium").Status)

	dec, err = eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)
	assert.Equal(t, "standard", dec.Model)
	assert.InDelta(t, 0.94, dec.Decision.Factors.TotalScore, 1e-9)

	var premiumSeen bool
	for _, alt := range dec.Decision.Alternatives {
		if alt.Model == "premium" {
			premiumSeen = true
			assert.False(t, alt.Rejected)
			assert.InDelta(t, 0.5, alt.Factors.TotalScore, 1e-9)
		}
	}
	assert.True(t, premiumSeen)
}

func TestReportOutcomeUnknownCostUsesEstimate(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)

	eng.ReportOutcome(ctx, &types.Outcome{
		ReservationID: dec.ReservationID,
		OrgID:         "org-1",
		Provider:      dec.Provider,
		Model:         dec.Model,
		LatencyMs:     500,
		Success:       true,
	})

	usage, err := eng.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.InDelta(t, dec.EstimatedCostUSD, usage.SpentUSD, 1e-12)
	assert.Zero(t, usage.ActiveJobs)
}

func TestReleaseReservationRefunds(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
	require.NoError(t, err)

	usage, err := eng.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.InDelta(t, dec.EstimatedCostUSD, usage.SpentUSD, 1e-12)
	assert.Equal(t, int64(1), usage.ActiveJobs)

	require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))

	usage, err = eng.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.Zero(t, usage.SpentUSD)
	assert.Zero(t, usage.ActiveJobs)
}

func TestPreferredModelsBreakTies(t *testing.T) {
	ctx := context.Background()

	cat := catalog.New()
	cat.Replace([]catalog.ModelSpec{
		{
			Provider: "openai", Model: "alpha",
			InputCostPerToken: 0.000001, OutputCostPerToken: 0.000001,
			Quality: 0.8, LatencyHintMs: 500,
			TaskCategories: []string{"chat"},
		},
		{
			Provider: "openai", Model: "beta",
			InputCostPerToken: 0.000001, OutputCostPerToken: 0.000001,
			Quality: 0.8, LatencyHintMs: 500,
			TaskCategories: []string{"chat"},
		},
	})
	eng, _ := newTestEngine(t, WithCatalog(cat))

	plain := testPolicy("org-plain")
	require.NoError(t, eng.SetPolicy(ctx, plain))

	pref := testPolicy("org-pref")
	pref.TaskOverrides = map[string]types.TaskOverride{
		"chat": {PreferredModels: []string{"beta"}},
	}
	require.NoError(t, eng.SetPolicy(ctx, pref))

	dec, err := eng.RouteRequest(ctx, chatRequest("org-plain"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", dec.Model, "lexical tie-break without preferences")

	dec, err = eng.RouteRequest(ctx, chatRequest("org-pref"))
	require.NoError(t, err)
	assert.Equal(t, "beta", dec.Model, "preference list overrides lexical order")
}

func TestDecisionHistoryAndExplain(t *testing.T) {
	ctx := context.Background()
	eng, fc := newTestEngine(t)
	require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))

	var last *types.RoutingDecision
	for i := 0; i < 3; i++ {
		dec, err := eng.RouteRequest(ctx, chatRequest("org-1"))
		require.NoError(t, err)
		require.NoError(t, eng.ReleaseReservation(ctx, dec.ReservationID))
		fc.Advance(time.Second)
		last = dec
	}

	history, err := eng.DecisionHistory(ctx, "org-1", decisionlog.Filter{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, last.Decision.ID, history[0].ID)
	assert.True(t, !history[0].Timestamp.Before(history[2].Timestamp))

	exp, err := eng.ExplainDecision(ctx, last.Decision.ID)
	require.NoError(t, err)
	assert.Contains(t, exp.Summary, last.Model)
	assert.Equal(t, 2, exp.Insights.AlternativesConsidered)

	_, err = eng.ExplainDecision(ctx, "no-such-decision")
	assert.Error(t, err)
}

func TestPolicyAdminSurface(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	t.Run("invalid policy rejected", func(t *testing.T) {
		err := eng.SetPolicy(ctx, &types.Policy{OrgID: "org-1"})
		assert.True(t, IsReason(err, ReasonInvalidPolicy))
	})

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, eng.SetPolicy(ctx, testPolicy("org-1")))
		pol, err := eng.Policy(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", pol.OrgID)
		assert.Equal(t, 10.00, pol.MaxDailyCostUSD)
	})

	t.Run("missing policy", func(t *testing.T) {
		_, err := eng.Policy(ctx, "org-missing")
		assert.True(t, IsReason(err, ReasonPolicyNotFound))
	})
}
