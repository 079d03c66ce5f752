// Package types defines the core data model shared by the policy and routing
// engine: per-organization guardrail policies, usage counters, telemetry
// samples and aggregates, circuit states, and routing decisions.
package types

import (
	"time"
)

// TaskOverride narrows routing constraints for a single task category.
type TaskOverride struct {
	// MinPerf is the minimum acceptable quality rating in [0,1].
	MinPerf float64 `json:"min_perf" yaml:"min_perf"`
	// PreferredModels is an ordered preference list used to break scoring ties.
	PreferredModels []string `json:"preferred_models,omitempty" yaml:"preferred_models,omitempty"`
	// MaxCostUSD caps the estimated per-request cost for this category.
	// nil means the category inherits the policy-level cap only.
	MaxCostUSD *float64 `json:"max_cost_usd,omitempty" yaml:"max_cost_usd,omitempty"`
}

// Policy holds the guardrail configuration for one organization.
// Policies are read on every request and written rarely.
type Policy struct {
	OrgID string `json:"org_id" yaml:"org_id"`
	Trial bool   `json:"trial" yaml:"trial"`

	// Budget ceilings in USD. MaxRequestCostUSD must not exceed MaxDailyCostUSD.
	MaxDailyCostUSD   float64 `json:"max_daily_cost_usd" yaml:"max_daily_cost_usd"`
	MaxRequestCostUSD float64 `json:"max_request_cost_usd" yaml:"max_request_cost_usd"`

	// Token ceilings per request.
	MaxTokensInput  int `json:"max_tokens_input" yaml:"max_tokens_input"`
	MaxTokensOutput int `json:"max_tokens_output" yaml:"max_tokens_output"`

	// MaxConcurrentJobs bounds in-flight provider calls for the organization.
	MaxConcurrentJobs int `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`

	// AllowedProviders is the non-empty set of provider identifiers the
	// organization may route to.
	AllowedProviders []string `json:"allowed_providers" yaml:"allowed_providers"`

	// BurstRateLimit is requests per burst window (default 10s).
	// SustainedRateLimit is requests per minute.
	BurstRateLimit     int `json:"burst_rate_limit" yaml:"burst_rate_limit"`
	SustainedRateLimit int `json:"sustained_rate_limit" yaml:"sustained_rate_limit"`

	// TaskOverrides maps task-category names to narrowed constraints.
	TaskOverrides map[string]TaskOverride `json:"task_overrides,omitempty" yaml:"task_overrides,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// AllowsProvider reports whether the policy permits routing to the provider.
func (p *Policy) AllowsProvider(provider string) bool {
	for _, allowed := range p.AllowedProviders {
		if allowed == provider {
			return true
		}
	}
	return false
}

// Override returns the task override for a category, if configured.
func (p *Policy) Override(taskCategory string) (TaskOverride, bool) {
	if p.TaskOverrides == nil {
		return TaskOverride{}, false
	}
	o, ok := p.TaskOverrides[taskCategory]
	return o, ok
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.AllowedProviders = append([]string(nil), p.AllowedProviders...)
	if p.TaskOverrides != nil {
		cp.TaskOverrides = make(map[string]TaskOverride, len(p.TaskOverrides))
		for k, v := range p.TaskOverrides {
			ov := v
			ov.PreferredModels = append([]string(nil), v.PreferredModels...)
			if v.MaxCostUSD != nil {
				mc := *v.MaxCostUSD
				ov.MaxCostUSD = &mc
			}
			cp.TaskOverrides[k] = ov
		}
	}
	return &cp
}
