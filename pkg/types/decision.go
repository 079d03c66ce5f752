package types

import "time"

// RejectReason explains why a candidate was filtered out of selection.
type RejectReason string

const (
	RejectBelowMinPerformance RejectReason = "below_min_performance"
	RejectExceedsMaxCost      RejectReason = "exceeds_max_cost"
	RejectCircuitOpen         RejectReason = "circuit_open"
)

// IsValid reports whether the reason is a known value.
func (r RejectReason) IsValid() bool {
	switch r {
	case RejectBelowMinPerformance, RejectExceedsMaxCost, RejectCircuitOpen:
		return true
	}
	return false
}

// ScoringWeights are the multipliers applied to the four normalized
// sub-scores. They should sum to 1 but the engine does not require it.
type ScoringWeights struct {
	Cost    float64 `json:"cost" yaml:"cost"`
	Latency float64 `json:"latency" yaml:"latency"`
	Error   float64 `json:"error" yaml:"error"`
	Quality float64 `json:"quality" yaml:"quality"`
}

// DefaultScoringWeights returns the documented defaults.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Cost: 0.3, Latency: 0.2, Error: 0.2, Quality: 0.3}
}

// ScoreFactors is the per-candidate score breakdown. All sub-scores are
// normalized to [0,1]; higher is better.
type ScoreFactors struct {
	CostScore    float64 `json:"cost_score"`
	LatencyScore float64 `json:"latency_score"`
	ErrorScore   float64 `json:"error_score"`
	QualityScore float64 `json:"quality_score"`
	TotalScore   float64 `json:"total_score"`
}

// Alternative is one candidate considered during selection, kept for
// explainability whether or not it was rejected.
type Alternative struct {
	Provider         string       `json:"provider"`
	Model            string       `json:"model"`
	EstimatedCostUSD float64      `json:"estimated_cost_usd"`
	Factors          ScoreFactors `json:"factors"`
	Rejected         bool         `json:"rejected"`
	RejectReason     RejectReason `json:"reject_reason,omitempty"`
}

// ConstraintsSnapshot freezes the effective constraints at decision time.
type ConstraintsSnapshot struct {
	MinPerf          *float64 `json:"min_perf,omitempty"`
	MaxCostUSD       *float64 `json:"max_cost_usd,omitempty"`
	AllowedProviders []string `json:"allowed_providers"`
	ForceCheapest    bool     `json:"force_cheapest"`
}

// Decision is the immutable audit record of one routing request.
// It is never mutated after creation.
type Decision struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TaskCategory  string    `json:"task_category"`

	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	CacheHit         bool    `json:"cache_hit,omitempty"`

	Factors      ScoreFactors        `json:"factors"`
	Weights      ScoringWeights      `json:"weights"`
	Alternatives []Alternative       `json:"alternatives,omitempty"`
	Constraints  ConstraintsSnapshot `json:"constraints"`

	// BudgetState is the organization's budget state at decision time.
	BudgetState BudgetState `json:"budget_state,omitempty"`

	// Telemetry optionally snapshots the rolling metrics consulted during
	// scoring, keyed "provider/model".
	Telemetry map[string]AggregatedMetric `json:"telemetry,omitempty"`
}

// RoutingDecision is the outbound contract returned to the request-handling
// layer. The caller performs the provider call and reports the outcome.
type RoutingDecision struct {
	ReservationID    string  `json:"reservation_id"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	// CacheHit signals the completion was served from cache; no provider
	// call should be made and no outcome report is expected.
	CacheHit         bool   `json:"cache_hit,omitempty"`
	CachedCompletion []byte `json:"cached_completion,omitempty"`

	Decision *Decision `json:"decision,omitempty"`
}

// Outcome reports the result of the provider call back into the engine.
type Outcome struct {
	ReservationID string `json:"reservation_id"`
	OrgID         string `json:"org_id"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`

	// ActualCostUSD is the reconciled cost. nil means unknown (timeout);
	// the original estimate is used instead.
	ActualCostUSD *float64 `json:"actual_cost_usd,omitempty"`
	LatencyMs     float64  `json:"latency_ms"`
	Success       bool     `json:"success"`

	// Completion, when present on success, is written to the response cache.
	Completion []byte `json:"completion,omitempty"`
}
