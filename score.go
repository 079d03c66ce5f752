package modelgate

import (
	"sort"

	"github.com/cryptocrystian/modelgate/internal/catalog"
	"github.com/cryptocrystian/modelgate/internal/telemetry"
	routeerrors "github.com/cryptocrystian/modelgate/pkg/errors"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// defaultLatencyHintMs seeds latency scoring for pairs with no telemetry
// and no configured hint.
const defaultLatencyHintMs = 1000

// warningPenalty multiplies the total score of pairs whose circuit is in
// warning state, deprioritizing them without excluding them.
const warningPenalty = 0.5

// choice is the result of candidate selection.
type choice struct {
	spec         catalog.ModelSpec
	estCost      float64
	factors      types.ScoreFactors
	alternatives []types.Alternative
	constraints  types.ConstraintsSnapshot
	telemetry    map[string]types.AggregatedMetric
}

type scored struct {
	spec      catalog.ModelSpec
	estCost   float64
	latencyMs float64
	errorRate float64
	factors   types.ScoreFactors
	warning   bool
	preferred int
}

// selectModel builds the candidate set for the request and picks the best
// eligible pair. Selection is deterministic: identical inputs against
// identical telemetry always produce the same choice.
func (e *Engine) selectModel(req *types.RoutingRequest, pol *types.Policy, budgetState types.BudgetState) (*choice, error) {
	override, _ := pol.Override(req.TaskCategory)

	cons := req.Constraints
	if cons == nil {
		cons = &types.Constraints{}
	}

	// Effective constraints: the policy override tightened by whatever the
	// caller supplied. Caller constraints can only narrow, never widen.
	var minPerf float64
	var minPerfSet bool
	if override.MinPerf > 0 {
		minPerf, minPerfSet = override.MinPerf, true
	}
	if cons.MinPerf != nil && *cons.MinPerf > minPerf {
		minPerf, minPerfSet = *cons.MinPerf, true
	}

	var maxCost *float64
	if override.MaxCostUSD != nil {
		v := *override.MaxCostUSD
		maxCost = &v
	}
	if cons.MaxCostUSD != nil && (maxCost == nil || *cons.MaxCostUSD < *maxCost) {
		v := *cons.MaxCostUSD
		maxCost = &v
	}

	forceCheapest := cons.ForceCheapest || budgetState.AtOrAbove(types.BudgetStateCritical)

	snapshot := types.ConstraintsSnapshot{
		MaxCostUSD:       maxCost,
		AllowedProviders: append([]string(nil), pol.AllowedProviders...),
		ForceCheapest:    forceCheapest,
	}
	if minPerfSet {
		v := minPerf
		snapshot.MinPerf = &v
	}

	var (
		eligible []scored
		rejected []types.Alternative
		rejList  []routeerrors.RejectedCandidate
		telSnap  = make(map[string]types.AggregatedMetric)
	)

	for _, spec := range e.catalog.Candidates(req.TaskCategory) {
		if !pol.AllowsProvider(spec.Provider) {
			continue
		}
		estCost := spec.EstimateCost(req.EstimatedTokensIn, req.EstimatedTokensOut)

		if e.breaker.IsOpen(spec.Provider, spec.Model) {
			rejected = append(rejected, types.Alternative{
				Provider:         spec.Provider,
				Model:            spec.Model,
				EstimatedCostUSD: estCost,
				Rejected:         true,
				RejectReason:     types.RejectCircuitOpen,
			})
			rejList = append(rejList, routeerrors.RejectedCandidate{
				Provider: spec.Provider, Model: spec.Model, Reason: string(types.RejectCircuitOpen),
			})
			continue
		}
		if minPerfSet && spec.Quality < minPerf {
			rejected = append(rejected, types.Alternative{
				Provider:         spec.Provider,
				Model:            spec.Model,
				EstimatedCostUSD: estCost,
				Rejected:         true,
				RejectReason:     types.RejectBelowMinPerformance,
			})
			rejList = append(rejList, routeerrors.RejectedCandidate{
				Provider: spec.Provider, Model: spec.Model, Reason: string(types.RejectBelowMinPerformance),
			})
			continue
		}
		if maxCost != nil && estCost > *maxCost {
			rejected = append(rejected, types.Alternative{
				Provider:         spec.Provider,
				Model:            spec.Model,
				EstimatedCostUSD: estCost,
				Rejected:         true,
				RejectReason:     types.RejectExceedsMaxCost,
			})
			rejList = append(rejList, routeerrors.RejectedCandidate{
				Provider: spec.Provider, Model: spec.Model, Reason: string(types.RejectExceedsMaxCost),
			})
			continue
		}

		s := scored{
			spec:      spec,
			estCost:   estCost,
			latencyMs: spec.LatencyHintMs,
			preferred: preferredIndex(override.PreferredModels, spec.Model),
		}
		if s.latencyMs <= 0 {
			s.latencyMs = defaultLatencyHintMs
		}
		if window, ok := e.agg.Window(spec.Provider, spec.Model); ok {
			s.latencyMs = window.AvgLatencyMs
			s.errorRate = window.ErrorRate
			telSnap[telemetry.Key(spec.Provider, spec.Model)] = window
		}
		s.warning = e.breaker.Status(spec.Provider, spec.Model).Status == types.CircuitWarning
		eligible = append(eligible, s)
	}

	if len(eligible) == 0 {
		return nil, routeerrors.NewNoEligibleModel(req.OrgID, req.TaskCategory, rejList)
	}

	scoreCandidates(eligible, e.weights)

	if forceCheapest {
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].estCost != eligible[j].estCost {
				return eligible[i].estCost < eligible[j].estCost
			}
			return lessLexical(eligible[i], eligible[j])
		})
	} else {
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].factors.TotalScore != eligible[j].factors.TotalScore {
				return eligible[i].factors.TotalScore > eligible[j].factors.TotalScore
			}
			if eligible[i].estCost != eligible[j].estCost {
				return eligible[i].estCost < eligible[j].estCost
			}
			if eligible[i].preferred != eligible[j].preferred {
				return eligible[i].preferred < eligible[j].preferred
			}
			return lessLexical(eligible[i], eligible[j])
		})
	}

	winner := eligible[0]
	alternatives := make([]types.Alternative, 0, len(eligible)-1+len(rejected))
	for _, s := range eligible[1:] {
		alternatives = append(alternatives, types.Alternative{
			Provider:         s.spec.Provider,
			Model:            s.spec.Model,
			EstimatedCostUSD: s.estCost,
			Factors:          s.factors,
		})
	}
	alternatives = append(alternatives, rejected...)

	return &choice{
		spec:         winner.spec,
		estCost:      winner.estCost,
		factors:      winner.factors,
		alternatives: alternatives,
		constraints:  snapshot,
		telemetry:    telSnap,
	}, nil
}

// scoreCandidates fills in the four normalized sub-scores and the weighted
// total for every eligible candidate. Cost and latency are min-max
// normalized over the candidate set so scores are relative to the actual
// field of competitors; error and quality are absolute.
func scoreCandidates(eligible []scored, w types.ScoringWeights) {
	minCost, maxCost := eligible[0].estCost, eligible[0].estCost
	minLat, maxLat := eligible[0].latencyMs, eligible[0].latencyMs
	for _, s := range eligible[1:] {
		minCost = minf(minCost, s.estCost)
		maxCost = maxf(maxCost, s.estCost)
		minLat = minf(minLat, s.latencyMs)
		maxLat = maxf(maxLat, s.latencyMs)
	}

	for i := range eligible {
		s := &eligible[i]
		s.factors.CostScore = invNormalize(s.estCost, minCost, maxCost)
		s.factors.LatencyScore = invNormalize(s.latencyMs, minLat, maxLat)
		s.factors.ErrorScore = 1 - s.errorRate
		s.factors.QualityScore = s.spec.Quality

		total := s.factors.CostScore*w.Cost +
			s.factors.LatencyScore*w.Latency +
			s.factors.ErrorScore*w.Error +
			s.factors.QualityScore*w.Quality
		if s.warning {
			total *= warningPenalty
		}
		s.factors.TotalScore = total
	}
}

// invNormalize maps v from [min,max] to [0,1] with lower values scoring
// higher. A degenerate range scores 1 for everyone.
func invNormalize(v, min, max float64) float64 {
	if max <= min {
		return 1
	}
	return (max - v) / (max - min)
}

// preferredIndex returns the model's rank in the preference list, or
// len(preferred) when absent so unlisted models sort after listed ones.
func preferredIndex(preferred []string, model string) int {
	for i, m := range preferred {
		if m == model {
			return i
		}
	}
	return len(preferred)
}

func lessLexical(a, b scored) bool {
	if a.spec.Provider != b.spec.Provider {
		return a.spec.Provider < b.spec.Provider
	}
	return a.spec.Model < b.spec.Model
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
