package decisionlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

func scoredDecision() *types.Decision {
	return &types.Decision{
		ID:               "d1",
		OrgID:            "org-1",
		Timestamp:        time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		TaskCategory:     "chat",
		Provider:         "anthropic",
		Model:            "claude-sonnet",
		EstimatedCostUSD: 0.012,
		Factors: types.ScoreFactors{
			CostScore:    0.4,
			LatencyScore: 0.6,
			ErrorScore:   0.9,
			QualityScore: 1.0,
			TotalScore:   0.72,
		},
		Weights:     types.DefaultScoringWeights(),
		BudgetState: types.BudgetStateNormal,
		Alternatives: []types.Alternative{
			{Provider: "openai", Model: "gpt-4o", EstimatedCostUSD: 0.010},
			{Provider: "openai", Model: "gpt-4o-mini", Rejected: true, RejectReason: types.RejectBelowMinPerformance},
			{Provider: "openai", Model: "gpt-3.5", Rejected: true, RejectReason: types.RejectCircuitOpen},
			{Provider: "mistral", Model: "large", Rejected: true, RejectReason: types.RejectCircuitOpen},
		},
	}
}

func TestPrimaryFactor(t *testing.T) {
	tests := []struct {
		name    string
		factors types.ScoreFactors
		weights types.ScoringWeights
		want    string
	}{
		{
			name:    "quality dominates with default weights",
			factors: types.ScoreFactors{CostScore: 0.4, LatencyScore: 0.6, ErrorScore: 0.9, QualityScore: 1.0},
			weights: types.DefaultScoringWeights(),
			want:    "quality",
		},
		{
			name:    "weights can flip the winner",
			factors: types.ScoreFactors{CostScore: 0.9, LatencyScore: 0.1, ErrorScore: 0.1, QualityScore: 1.0},
			weights: types.ScoringWeights{Cost: 0.7, Latency: 0.1, Error: 0.1, Quality: 0.1},
			want:    "cost",
		},
		{
			name:    "latency",
			factors: types.ScoreFactors{CostScore: 0.1, LatencyScore: 1.0, ErrorScore: 0.1, QualityScore: 0.1},
			weights: types.DefaultScoringWeights(),
			want:    "latency",
		},
		{
			name:    "error rate",
			factors: types.ScoreFactors{CostScore: 0.1, LatencyScore: 0.1, ErrorScore: 1.0, QualityScore: 0.1},
			weights: types.DefaultScoringWeights(),
			want:    "error_rate",
		},
		{
			name:    "tie keeps the first factor",
			factors: types.ScoreFactors{},
			weights: types.DefaultScoringWeights(),
			want:    "cost",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, primaryFactor(tt.factors, tt.weights))
		})
	}
}

func TestExplainScoredDecision(t *testing.T) {
	exp := Explain(scoredDecision())

	assert.Equal(t, "quality", exp.Insights.PrimaryFactor)
	assert.False(t, exp.Insights.BudgetConstrained)
	assert.Equal(t, 4, exp.Insights.AlternativesConsidered)
	assert.Equal(t, 3, exp.Insights.AlternativesFiltered)

	assert.Contains(t, exp.Summary, "anthropic/claude-sonnet")
	assert.Contains(t, exp.Summary, "score 0.720")
	assert.Contains(t, exp.Summary, "driven primarily by quality")
	assert.Contains(t, exp.Summary, "3 of 4 alternatives were filtered out")
	assert.Contains(t, exp.Summary, "1 below_min_performance, 2 circuit_open")
	assert.NotContains(t, exp.Summary, "Budget state")
}

func TestExplainCacheHit(t *testing.T) {
	d := scoredDecision()
	d.CacheHit = true

	exp := Explain(d)
	assert.Contains(t, exp.Summary, "from cache")
	assert.NotContains(t, exp.Summary, "score")
}

func TestExplainForceCheapest(t *testing.T) {
	d := scoredDecision()
	d.Constraints.ForceCheapest = true
	d.BudgetState = types.BudgetStateCritical

	exp := Explain(d)
	assert.True(t, exp.Insights.BudgetConstrained)
	assert.Contains(t, exp.Summary, "cheapest eligible model")
	assert.Contains(t, exp.Summary, "Budget state at decision time: critical")
}

func TestExplainBudgetWarning(t *testing.T) {
	d := scoredDecision()
	d.BudgetState = types.BudgetStateWarning

	exp := Explain(d)
	assert.True(t, exp.Insights.BudgetConstrained)
	assert.Contains(t, exp.Summary, "Budget state at decision time: warning")
}

func TestExplainNoAlternatives(t *testing.T) {
	d := scoredDecision()
	d.Alternatives = nil

	exp := Explain(d)
	assert.Zero(t, exp.Insights.AlternativesConsidered)
	assert.NotContains(t, exp.Summary, "alternatives")
}
