// Package policy provides storage and validation for per-organization
// guardrail policies. Policies are read far more often than written, so a
// caching decorator with write invalidation is provided.
package policy

import (
	"context"
	"fmt"

	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Store is the persistence contract for guardrail policies.
type Store interface {
	// Get returns the policy for an organization, or a PolicyNotFound
	// RouteError if none is configured.
	Get(ctx context.Context, orgID string) (*types.Policy, error)

	// Upsert validates and persists the policy. Invalid policies fail with
	// an InvalidPolicy RouteError listing the violated fields.
	Upsert(ctx context.Context, orgID string, p *types.Policy) error

	// Delete removes the policy for an organization. Deleting a missing
	// policy is not an error.
	Delete(ctx context.Context, orgID string) error
}

// Validate checks the structural invariants of a policy. It returns an
// InvalidPolicy RouteError naming every violated field, or nil.
func Validate(p *types.Policy) error {
	var fields []string

	if p.MaxDailyCostUSD <= 0 {
		fields = append(fields, "max_daily_cost_usd must be positive")
	}
	if p.MaxRequestCostUSD <= 0 {
		fields = append(fields, "max_request_cost_usd must be positive")
	}
	if p.MaxRequestCostUSD > p.MaxDailyCostUSD {
		fields = append(fields, "max_request_cost_usd must not exceed max_daily_cost_usd")
	}
	if p.MaxTokensInput < 0 {
		fields = append(fields, "max_tokens_input must not be negative")
	}
	if p.MaxTokensOutput < 0 {
		fields = append(fields, "max_tokens_output must not be negative")
	}
	if p.MaxConcurrentJobs <= 0 {
		fields = append(fields, "max_concurrent_jobs must be positive")
	}
	if len(p.AllowedProviders) == 0 {
		fields = append(fields, "allowed_providers must not be empty")
	}
	if p.BurstRateLimit <= 0 {
		fields = append(fields, "burst_rate_limit must be positive")
	}
	if p.SustainedRateLimit <= 0 {
		fields = append(fields, "sustained_rate_limit must be positive")
	}
	for category, o := range p.TaskOverrides {
		if o.MinPerf < 0 || o.MinPerf > 1 {
			fields = append(fields, fmt.Sprintf("task_overrides[%s].min_perf must be in [0,1]", category))
		}
		if o.MaxCostUSD != nil && *o.MaxCostUSD <= 0 {
			fields = append(fields, fmt.Sprintf("task_overrides[%s].max_cost_usd must be positive", category))
		}
	}

	if len(fields) > 0 {
		return routeerrors.NewInvalidPolicy(p.OrgID, fields)
	}
	return nil
}

// Default returns the seed policy provisioned for new organizations.
func Default(orgID string) *types.Policy {
	return &types.Policy{
		OrgID:              orgID,
		Trial:              true,
		MaxDailyCostUSD:    10.00,
		MaxRequestCostUSD:  0.50,
		MaxTokensInput:     32000,
		MaxTokensOutput:    8000,
		MaxConcurrentJobs:  5,
		AllowedProviders:   []string{"openai", "anthropic"},
		BurstRateLimit:     10,
		SustainedRateLimit: 60,
	}
}
