package decisionlog

import (
	"fmt"
	"strings"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Explanation is the human-oriented view of a recorded decision.
type Explanation struct {
	Decision *types.Decision `json:"decision"`
	Summary  string          `json:"summary"`
	Insights Insights        `json:"insights"`
}

// Insights are derived facts about the decision, computed from the stored
// record rather than re-running selection.
type Insights struct {
	// PrimaryFactor names the sub-score that contributed most to the
	// winning total, after applying the weights in effect at the time.
	PrimaryFactor string `json:"primary_factor"`

	// BudgetConstrained is set when budget pressure narrowed the choice,
	// either through force-cheapest or a warning-or-worse budget state.
	BudgetConstrained bool `json:"budget_constrained"`

	AlternativesConsidered int `json:"alternatives_considered"`
	AlternativesFiltered   int `json:"alternatives_filtered"`
}

// Explain builds an Explanation from a stored decision.
func Explain(d *types.Decision) *Explanation {
	ins := Insights{
		PrimaryFactor:     primaryFactor(d.Factors, d.Weights),
		BudgetConstrained: d.Constraints.ForceCheapest || d.BudgetState.AtOrAbove(types.BudgetStateWarning),
	}
	for _, alt := range d.Alternatives {
		ins.AlternativesConsidered++
		if alt.Rejected {
			ins.AlternativesFiltered++
		}
	}
	return &Explanation{
		Decision: d,
		Summary:  summarize(d, ins),
		Insights: ins,
	}
}

// primaryFactor returns the name of the largest weighted contribution.
func primaryFactor(f types.ScoreFactors, w types.ScoringWeights) string {
	type contribution struct {
		name  string
		value float64
	}
	contribs := []contribution{
		{"cost", f.CostScore * w.Cost},
		{"latency", f.LatencyScore * w.Latency},
		{"error_rate", f.ErrorScore * w.Error},
		{"quality", f.QualityScore * w.Quality},
	}
	best := contribs[0]
	for _, c := range contribs[1:] {
		if c.value > best.value {
			best = c
		}
	}
	return best.name
}

func summarize(d *types.Decision, ins Insights) string {
	var b strings.Builder

	if d.CacheHit {
		fmt.Fprintf(&b, "Served %s/%s from cache for task %q.",
			d.Provider, d.Model, d.TaskCategory)
		return b.String()
	}

	if d.Constraints.ForceCheapest {
		fmt.Fprintf(&b, "Selected %s/%s as the cheapest eligible model for task %q (estimated $%.6f).",
			d.Provider, d.Model, d.TaskCategory, d.EstimatedCostUSD)
	} else {
		fmt.Fprintf(&b, "Selected %s/%s for task %q with score %.3f, driven primarily by %s (estimated $%.6f).",
			d.Provider, d.Model, d.TaskCategory, d.Factors.TotalScore, ins.PrimaryFactor, d.EstimatedCostUSD)
	}

	if ins.AlternativesFiltered > 0 {
		fmt.Fprintf(&b, " %d of %d alternatives were filtered out",
			ins.AlternativesFiltered, ins.AlternativesConsidered)
		if reasons := filterReasons(d.Alternatives); reasons != "" {
			fmt.Fprintf(&b, " (%s)", reasons)
		}
		b.WriteString(".")
	} else if ins.AlternativesConsidered > 0 {
		fmt.Fprintf(&b, " %d alternatives were considered.", ins.AlternativesConsidered)
	}

	if d.BudgetState.AtOrAbove(types.BudgetStateWarning) {
		fmt.Fprintf(&b, " Budget state at decision time: %s.", d.BudgetState)
	}
	return b.String()
}

// filterReasons summarizes rejection counts, e.g. "2 circuit_open, 1 exceeds_max_cost".
func filterReasons(alts []types.Alternative) string {
	counts := make(map[types.RejectReason]int)
	var order []types.RejectReason
	for _, alt := range alts {
		if !alt.Rejected {
			continue
		}
		if counts[alt.RejectReason] == 0 {
			order = append(order, alt.RejectReason)
		}
		counts[alt.RejectReason]++
	}
	parts := make([]string, 0, len(order))
	for _, r := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[r], r))
	}
	return strings.Join(parts, ", ")
}
