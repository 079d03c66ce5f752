package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteErrorReasons(t *testing.T) {
	tests := []struct {
		name      string
		err       *RouteError
		reason    Reason
		retryable bool
	}{
		{
			name:      "daily budget exceeded",
			err:       NewDailyBudgetExceeded("org-1", 10.5, 10.0),
			reason:    ReasonDailyBudgetExceeded,
			retryable: true,
		},
		{
			name:      "request cost exceeds limit",
			err:       NewRequestCostExceedsLimit("org-1", 0.8, 0.5),
			reason:    ReasonRequestCostExceedsLimit,
			retryable: true,
		},
		{
			name:      "concurrency limit",
			err:       NewConcurrencyLimitExceeded("org-1", 5),
			reason:    ReasonConcurrencyLimitExceeded,
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       NewRateLimited("org-1", "burst", 3*time.Second),
			reason:    ReasonRateLimited,
			retryable: true,
		},
		{
			name:      "token limit",
			err:       NewTokenLimitExceeded("org-1", "input", 40000, 32000),
			reason:    ReasonTokenLimitExceeded,
			retryable: true,
		},
		{
			name:      "policy not found",
			err:       NewPolicyNotFound("org-1"),
			reason:    ReasonPolicyNotFound,
			retryable: false,
		},
		{
			name:      "invalid policy",
			err:       NewInvalidPolicy("org-1", []string{"max_daily_cost_usd must be positive"}),
			reason:    ReasonInvalidPolicy,
			retryable: false,
		},
		{
			name:      "invalid request",
			err:       NewInvalidRequest("org-1", []string{"task_category"}),
			reason:    ReasonInvalidRequest,
			retryable: false,
		},
		{
			name:      "no eligible model",
			err:       NewNoEligibleModel("org-1", "chat", nil),
			reason:    ReasonNoEligibleModel,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, tt.err.Reason)
			assert.Equal(t, tt.retryable, tt.err.Retryable())
			assert.Equal(t, "org-1", tt.err.OrgID)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := NewRateLimited("org-1", "sustained", 42*time.Second)
	assert.Equal(t, 42*time.Second, err.RetryAfter)
	assert.Contains(t, err.Error(), "sustained")
}

func TestNoEligibleModelCarriesRejections(t *testing.T) {
	rejected := []RejectedCandidate{
		{Provider: "openai", Model: "gpt-4o", Reason: "circuit_open"},
		{Provider: "anthropic", Model: "claude-sonnet", Reason: "below_min_performance"},
	}
	err := NewNoEligibleModel("org-1", "chat", rejected)
	require.Len(t, err.Rejected, 2)
	assert.Equal(t, "circuit_open", err.Rejected[0].Reason)
}

func TestReasonOf(t *testing.T) {
	t.Run("direct route error", func(t *testing.T) {
		assert.Equal(t, ReasonRateLimited, ReasonOf(NewRateLimited("org-1", "burst", time.Second)))
	})

	t.Run("wrapped route error", func(t *testing.T) {
		wrapped := fmt.Errorf("admission: %w", NewPolicyNotFound("org-1"))
		assert.Equal(t, ReasonPolicyNotFound, ReasonOf(wrapped))
		assert.True(t, IsReason(wrapped, ReasonPolicyNotFound))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, Reason(""), ReasonOf(fmt.Errorf("boom")))
		assert.False(t, IsReason(fmt.Errorf("boom"), ReasonRateLimited))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, Reason(""), ReasonOf(nil))
	})
}
