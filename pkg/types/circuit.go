package types

import "time"

// CircuitStatus is the health state of a provider/model pair.
type CircuitStatus string

const (
	// CircuitHealthy means deviation from baseline is under threshold (closed).
	CircuitHealthy CircuitStatus = "healthy"
	// CircuitWarning means one dimension deviates; the pair stays eligible
	// but is penalized in scoring (half-open).
	CircuitWarning CircuitStatus = "warning"
	// CircuitCritical means the pair is excluded from selection (open).
	CircuitCritical CircuitStatus = "critical"
)

// IsValid reports whether the status is a known value.
func (s CircuitStatus) IsValid() bool {
	switch s {
	case CircuitHealthy, CircuitWarning, CircuitCritical:
		return true
	}
	return false
}

// CircuitState captures the breaker evaluation for one provider/model pair.
type CircuitState struct {
	Provider          string        `json:"provider"`
	Model             string        `json:"model"`
	Status            CircuitStatus `json:"status"`
	BaselineLatencyMs float64       `json:"baseline_latency_ms"`
	BaselineErrorRate float64       `json:"baseline_error_rate"`
	CurrentLatencyMs  float64       `json:"current_latency_ms"`
	CurrentErrorRate  float64       `json:"current_error_rate"`
	LatencyDeviation  float64       `json:"latency_deviation"`
	ErrorDeviation    float64       `json:"error_deviation"`
	LastTransition    time.Time     `json:"last_transition"`
	// CoolDownUntil is set while the circuit is critical; recovery is only
	// considered after it passes.
	CoolDownUntil time.Time `json:"cool_down_until,omitempty"`
}
