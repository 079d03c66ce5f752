package types

// Constraints narrows candidate selection for one request. Caller-supplied
// constraints can only tighten what the policy's task override allows.
type Constraints struct {
	// MinPerf is the minimum quality rating in [0,1]. nil means unconstrained.
	MinPerf *float64 `json:"min_perf,omitempty"`
	// MaxCostUSD caps the estimated request cost. nil means unconstrained.
	MaxCostUSD *float64 `json:"max_cost_usd,omitempty"`
	// ForceCheapest bypasses multi-factor scoring and picks the lowest-cost
	// candidate meeting MinPerf. Set automatically under budget pressure.
	ForceCheapest bool `json:"force_cheapest,omitempty"`
}

// RoutingRequest is the inbound contract from the request-handling layer.
type RoutingRequest struct {
	OrgID        string `json:"org_id"`
	TaskCategory string `json:"task_category"`

	EstimatedTokensIn  int `json:"estimated_tokens_in"`
	EstimatedTokensOut int `json:"estimated_tokens_out"`

	// Prompt participates in the cache key after normalization.
	// Empty disables cache lookup for the request.
	Prompt string `json:"prompt,omitempty"`
	// Params are request parameters that affect the completion (temperature
	// and the like) and therefore participate in the cache key.
	Params map[string]string `json:"params,omitempty"`
	// NoCache skips the cache read for this request.
	NoCache bool `json:"no_cache,omitempty"`

	// Constraints optionally narrows the policy's task override.
	Constraints *Constraints `json:"constraints,omitempty"`
}
