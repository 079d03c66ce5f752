package types

// BudgetState classifies daily spend against the configured ceiling.
type BudgetState string

const (
	BudgetStateNormal   BudgetState = "normal"   // < 80% of daily budget
	BudgetStateWarning  BudgetState = "warning"  // >= 80%
	BudgetStateCritical BudgetState = "critical" // >= 95%
	BudgetStateExceeded BudgetState = "exceeded" // >= 100%
)

// Budget state thresholds as fractions of MaxDailyCostUSD.
const (
	BudgetWarningThreshold  = 0.80
	BudgetCriticalThreshold = 0.95
)

// IsValid reports whether the state is a known value.
func (s BudgetState) IsValid() bool {
	switch s {
	case BudgetStateNormal, BudgetStateWarning, BudgetStateCritical, BudgetStateExceeded:
		return true
	}
	return false
}

func (s BudgetState) severity() int {
	switch s {
	case BudgetStateWarning:
		return 1
	case BudgetStateCritical:
		return 2
	case BudgetStateExceeded:
		return 3
	}
	return 0
}

// AtOrAbove reports whether s is at least as severe as other.
func (s BudgetState) AtOrAbove(other BudgetState) bool {
	return s.severity() >= other.severity()
}

// BudgetStateFor derives the state from spend and ceiling. The state is
// always recomputed from the counters, never stored.
func BudgetStateFor(spentUSD, maxDailyUSD float64) BudgetState {
	if maxDailyUSD <= 0 {
		return BudgetStateNormal
	}
	ratio := spentUSD / maxDailyUSD
	switch {
	case ratio >= 1.0:
		return BudgetStateExceeded
	case ratio >= BudgetCriticalThreshold:
		return BudgetStateCritical
	case ratio >= BudgetWarningThreshold:
		return BudgetStateWarning
	default:
		return BudgetStateNormal
	}
}

// UsageStatus is a point-in-time view of one organization's daily usage.
type UsageStatus struct {
	OrgID           string      `json:"org_id"`
	Day             string      `json:"day"` // YYYY-MM-DD
	SpentUSD        float64     `json:"spent_usd"`
	RequestCount    int64       `json:"request_count"`
	ActiveJobs      int64       `json:"active_jobs"`
	MaxDailyCostUSD float64     `json:"max_daily_cost_usd"`
	RemainingUSD    float64     `json:"remaining_usd"`
	UsagePercent    float64     `json:"usage_percent"`
	State           BudgetState `json:"state"`
}
