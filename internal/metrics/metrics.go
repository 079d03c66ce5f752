// Package metrics provides Prometheus metrics for the routing engine.
// It tracks admission outcomes, routing decisions, cache effectiveness,
// circuit breaker state, and per-organization daily spend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "modelgate"
)

// =============================================================================
// Admission Metrics
// =============================================================================

var (
	// AdmissionChecks counts admission checks, by result.
	AdmissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_checks_total",
			Help:      "Total number of admission checks",
		},
		[]string{"org_id", "result"},
	)

	// AdmissionDenials counts denied requests by reason.
	AdmissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denials_total",
			Help:      "Total number of denied requests by reason",
		},
		[]string{"org_id", "reason"},
	)
)

// =============================================================================
// Decision Metrics
// =============================================================================

var (
	// Decisions counts routing decisions by selected provider and model.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of routing decisions",
		},
		[]string{"provider", "model", "task_category"},
	)

	// DecisionScore tracks the winning total score distribution.
	DecisionScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_score",
			Help:      "Total score of the selected model",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"provider", "model"},
	)

	// NoEligibleModel counts requests that found no eligible candidate.
	NoEligibleModel = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_eligible_model_total",
			Help:      "Total number of requests with no eligible model",
		},
		[]string{"org_id", "task_category"},
	)
)

// =============================================================================
// Cache Metrics
// =============================================================================

var (
	// CacheHits counts response cache hits.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits",
		},
		[]string{"provider", "model"},
	)

	// CacheMisses counts response cache misses.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses",
		},
		[]string{"provider", "model"},
	)

	// CacheSavedUSD accumulates estimated spend avoided by cache hits.
	CacheSavedUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_saved_usd_total",
			Help:      "Estimated USD saved by serving cached responses",
		},
	)
)

// =============================================================================
// Circuit Breaker Metrics
// =============================================================================

var (
	// CircuitState exposes breaker state per provider/model pair.
	// 0 = healthy, 1 = warning, 2 = critical.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0 healthy, 1 warning, 2 critical)",
		},
		[]string{"provider", "model"},
	)

	// CircuitTransitions counts state transitions.
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"provider", "model", "to"},
	)
)

// =============================================================================
// Budget Metrics
// =============================================================================

var (
	// OrgDailySpend tracks reserved daily spend per organization.
	OrgDailySpend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "org_daily_spend_usd",
			Help:      "Reserved daily spend for organization in USD",
		},
		[]string{"org_id"},
	)

	// OrgActiveJobs tracks in-flight requests per organization.
	OrgActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "org_active_jobs",
			Help:      "In-flight requests for organization",
		},
		[]string{"org_id"},
	)
)
