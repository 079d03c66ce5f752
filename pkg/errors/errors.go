// Package errors defines the unified error taxonomy for routing decisions.
// Every denial or failure carries enough context (organization, reason,
// limits) for post-hoc audit without consulting the decision log.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// As and Is are re-exported from the standard library so callers of this
// package do not need a second errors import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// Reason identifies why a request was denied or a selection failed.
type Reason string

const (
	// Admission errors. Recoverable by the caller retrying later; the
	// engine never retries them itself.
	ReasonDailyBudgetExceeded      Reason = "daily_budget_exceeded"
	ReasonRequestCostExceedsLimit  Reason = "request_cost_exceeds_limit"
	ReasonConcurrencyLimitExceeded Reason = "concurrency_limit_exceeded"
	ReasonRateLimited              Reason = "rate_limited"
	ReasonTokenLimitExceeded       Reason = "token_limit_exceeded"

	// Configuration errors. Fatal to the request; operator intervention.
	ReasonPolicyNotFound Reason = "policy_not_found"
	ReasonInvalidPolicy  Reason = "invalid_policy"

	// Caller errors. The request itself is malformed; retrying the same
	// request cannot succeed.
	ReasonInvalidRequest Reason = "invalid_request"

	// Selection errors. Fatal to the request; carries the rejected
	// candidate list for diagnosis.
	ReasonNoEligibleModel Reason = "no_eligible_model"
)

// RejectedCandidate is a filtered provider/model pair attached to
// NoEligibleModel errors so operators can see why selection came up empty.
type RejectedCandidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Reason   string `json:"reason"`
}

// RouteError is the standardized error for all engine denials and failures.
type RouteError struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	OrgID   string `json:"org_id,omitempty"`

	// RetryAfter is set on rate-limit denials: time until the window resets.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Fields lists the violated fields on InvalidPolicy and
	// InvalidRequest errors.
	Fields []string `json:"fields,omitempty"`

	// Rejected lists filtered candidates on NoEligibleModel errors.
	Rejected []RejectedCandidate `json:"rejected,omitempty"`
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.OrgID != "" {
		return fmt.Sprintf("[%s] %s (org=%s)", e.Reason, e.Message, e.OrgID)
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

// Retryable reports whether the caller may retry later. Admission denials
// are retryable; configuration and selection errors are not.
func (e *RouteError) Retryable() bool {
	switch e.Reason {
	case ReasonDailyBudgetExceeded, ReasonRequestCostExceedsLimit,
		ReasonConcurrencyLimitExceeded, ReasonRateLimited, ReasonTokenLimitExceeded:
		return true
	}
	return false
}

// IsAdmission reports whether the error is an admission-control denial.
func (e *RouteError) IsAdmission() bool { return e.Retryable() }

// NewDailyBudgetExceeded creates a denial for a request that would push the
// organization past its daily budget ceiling.
func NewDailyBudgetExceeded(orgID string, spentUSD, maxDailyUSD float64) *RouteError {
	return &RouteError{
		Reason:  ReasonDailyBudgetExceeded,
		Message: fmt.Sprintf("daily budget exceeded: spent %.4f of %.4f USD", spentUSD, maxDailyUSD),
		OrgID:   orgID,
	}
}

// NewRequestCostExceedsLimit creates a denial for a request whose estimate
// is over the per-request cost cap.
func NewRequestCostExceedsLimit(orgID string, estimatedUSD, maxRequestUSD float64) *RouteError {
	return &RouteError{
		Reason:  ReasonRequestCostExceedsLimit,
		Message: fmt.Sprintf("estimated cost %.4f USD exceeds per-request limit %.4f USD", estimatedUSD, maxRequestUSD),
		OrgID:   orgID,
	}
}

// NewConcurrencyLimitExceeded creates a denial for an organization at its
// in-flight job ceiling.
func NewConcurrencyLimitExceeded(orgID string, maxConcurrent int) *RouteError {
	return &RouteError{
		Reason:  ReasonConcurrencyLimitExceeded,
		Message: fmt.Sprintf("concurrency limit of %d in-flight jobs reached", maxConcurrent),
		OrgID:   orgID,
	}
}

// NewRateLimited creates a denial for a request over the burst or sustained
// window capacity. retryAfter is the time until the window resets.
func NewRateLimited(orgID, window string, retryAfter time.Duration) *RouteError {
	return &RouteError{
		Reason:     ReasonRateLimited,
		Message:    fmt.Sprintf("%s rate limit exceeded, retry after %s", window, retryAfter),
		OrgID:      orgID,
		RetryAfter: retryAfter,
	}
}

// NewTokenLimitExceeded creates a denial for a request over the policy's
// per-request token ceilings.
func NewTokenLimitExceeded(orgID, dimension string, requested, limit int) *RouteError {
	return &RouteError{
		Reason:  ReasonTokenLimitExceeded,
		Message: fmt.Sprintf("%s tokens %d exceed limit %d", dimension, requested, limit),
		OrgID:   orgID,
	}
}

// NewPolicyNotFound creates a configuration error for a missing policy.
// Callers must provision a default policy on organization creation.
func NewPolicyNotFound(orgID string) *RouteError {
	return &RouteError{
		Reason:  ReasonPolicyNotFound,
		Message: "no guardrail policy configured for organization",
		OrgID:   orgID,
	}
}

// NewInvalidPolicy creates a configuration error listing violated fields.
func NewInvalidPolicy(orgID string, fields []string) *RouteError {
	return &RouteError{
		Reason:  ReasonInvalidPolicy,
		Message: fmt.Sprintf("policy validation failed: %s", strings.Join(fields, ", ")),
		OrgID:   orgID,
		Fields:  fields,
	}
}

// NewInvalidRequest creates a caller error listing the missing or
// malformed request fields.
func NewInvalidRequest(orgID string, fields []string) *RouteError {
	return &RouteError{
		Reason:  ReasonInvalidRequest,
		Message: fmt.Sprintf("invalid request: %s", strings.Join(fields, ", ")),
		OrgID:   orgID,
		Fields:  fields,
	}
}

// NewNoEligibleModel creates a selection error with the full rejected list.
func NewNoEligibleModel(orgID, taskCategory string, rejected []RejectedCandidate) *RouteError {
	return &RouteError{
		Reason:   ReasonNoEligibleModel,
		Message:  fmt.Sprintf("no eligible model for task category %q", taskCategory),
		OrgID:    orgID,
		Rejected: rejected,
	}
}

// ReasonOf extracts the reason from err, or "" if err is not a RouteError.
func ReasonOf(err error) Reason {
	var re *RouteError
	if As(err, &re) {
		return re.Reason
	}
	return ""
}

// IsReason reports whether err is a RouteError with the given reason.
func IsReason(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}
