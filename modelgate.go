// Package modelgate is a policy and routing engine for AI provider calls.
// It decides, per request, whether the call is allowed under the
// organization's budget and rate guardrails and which provider/model pair
// should serve it, balancing cost, latency, reliability, and quality.
//
// The engine never calls a provider itself. The request-handling layer asks
// for a routing decision, performs the call, and reports the outcome back:
//
//	eng, err := modelgate.New(
//	    modelgate.WithCatalogFile("catalog.yaml"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	decision, err := eng.RouteRequest(ctx, &modelgate.RoutingRequest{
//	    OrgID:              "org-1",
//	    TaskCategory:       "chat",
//	    EstimatedTokensIn:  1200,
//	    EstimatedTokensOut: 400,
//	    Prompt:             prompt,
//	})
//	if err != nil {
//	    // denied: inspect the RouteError reason
//	}
//	// ... call decision.Provider / decision.Model ...
//	eng.ReportOutcome(ctx, &modelgate.Outcome{
//	    ReservationID: decision.ReservationID,
//	    OrgID:         "org-1",
//	    Provider:      decision.Provider,
//	    Model:         decision.Model,
//	    LatencyMs:     823,
//	    Success:       true,
//	})
package modelgate

import (
	"github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Version is the current version of the engine.
const Version = "1.0.0"

// Re-export core types for convenience. Users can write
// modelgate.RoutingRequest instead of types.RoutingRequest.
type (
	// Policy holds the guardrail configuration for one organization.
	Policy = types.Policy

	// TaskOverride narrows routing constraints for a task category.
	TaskOverride = types.TaskOverride

	// RoutingRequest is the inbound contract from the request-handling layer.
	RoutingRequest = types.RoutingRequest

	// Constraints narrows candidate selection for one request.
	Constraints = types.Constraints

	// RoutingDecision is the outbound contract returned to the caller.
	RoutingDecision = types.RoutingDecision

	// Decision is the immutable audit record of one routing request.
	Decision = types.Decision

	// Alternative is one candidate considered during selection.
	Alternative = types.Alternative

	// Outcome reports the result of the provider call back into the engine.
	Outcome = types.Outcome

	// UsageStatus is a point-in-time view of daily usage.
	UsageStatus = types.UsageStatus

	// BudgetState classifies daily spend against the configured ceiling.
	BudgetState = types.BudgetState

	// CircuitState is the health of one provider/model pair.
	CircuitState = types.CircuitState

	// TelemetrySample is one observed provider call.
	TelemetrySample = types.TelemetrySample

	// ScoringWeights are the multipliers for the four selection factors.
	ScoringWeights = types.ScoringWeights

	// RouteError is the standardized error for all denials and failures.
	RouteError = errors.RouteError

	// Reason identifies why a request was denied.
	Reason = errors.Reason
)

// Re-export denial reasons so callers can switch on them directly.
const (
	ReasonDailyBudgetExceeded      = errors.ReasonDailyBudgetExceeded
	ReasonRequestCostExceedsLimit  = errors.ReasonRequestCostExceedsLimit
	ReasonConcurrencyLimitExceeded = errors.ReasonConcurrencyLimitExceeded
	ReasonRateLimited              = errors.ReasonRateLimited
	ReasonTokenLimitExceeded       = errors.ReasonTokenLimitExceeded
	ReasonPolicyNotFound           = errors.ReasonPolicyNotFound
	ReasonInvalidPolicy            = errors.ReasonInvalidPolicy
	ReasonInvalidRequest           = errors.ReasonInvalidRequest
	ReasonNoEligibleModel          = errors.ReasonNoEligibleModel
)

// IsReason reports whether err is a RouteError with the given reason.
func IsReason(err error, reason Reason) bool { return errors.IsReason(err, reason) }

// ReasonOf extracts the denial reason from err, or "" if err is not a
// RouteError.
func ReasonOf(err error) Reason { return errors.ReasonOf(err) }
