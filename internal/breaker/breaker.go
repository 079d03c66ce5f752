// Package breaker derives per provider/model health from telemetry
// deviations. Critical circuits are excluded from candidate selection;
// warning circuits stay eligible with a scoring penalty.
package breaker

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cryptocrystian/modelgate/internal/metrics"
	"github.com/cryptocrystian/modelgate/internal/telemetry"
	"github.com/cryptocrystian/modelgate/pkg/types"
)

// Config holds the breaker thresholds. The cited defaults are sane
// starting points, not hard-coded behavior; operators tune them per
// deployment.
type Config struct {
	// DeviationThreshold is the relative deviation from baseline that
	// flips a dimension unhealthy. Default 0.2.
	DeviationThreshold float64 `yaml:"deviation_threshold"`
	// ErrorRateCeiling is the absolute error rate that forces critical
	// regardless of latency. Default 0.3.
	ErrorRateCeiling float64 `yaml:"error_rate_ceiling"`
	// CoolDown is the minimum time a circuit stays critical before
	// recovery is considered. Default 60s.
	CoolDown time.Duration `yaml:"cool_down"`
	// MinSamples is the rolling-window sample count required before the
	// breaker judges a pair at all. Default 10.
	MinSamples int64 `yaml:"min_samples"`
}

// DefaultConfig returns the documented threshold defaults.
func DefaultConfig() Config {
	return Config{
		DeviationThreshold: 0.2,
		ErrorRateCeiling:   0.3,
		CoolDown:           60 * time.Second,
		MinSamples:         10,
	}
}

// Breaker evaluates circuit state from the telemetry aggregator.
type Breaker struct {
	agg    *telemetry.Aggregator
	cfg    Config
	clock  types.Clock
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*circuit
}

type circuit struct {
	state types.CircuitState
	// coolDownStart marks when the circuit went critical; recovery needs
	// a fresh window recorded after coolDownStart + CoolDown.
	coolDownStart time.Time
}

// New creates a Breaker over the aggregator.
func New(agg *telemetry.Aggregator, cfg Config, clock types.Clock, logger *slog.Logger) *Breaker {
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = 0.2
	}
	if cfg.ErrorRateCeiling <= 0 {
		cfg.ErrorRateCeiling = 0.3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 60 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		agg:    agg,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		states: make(map[string]*circuit),
	}
}

// Evaluate recomputes and returns the circuit state for a pair. It is
// called after every reported outcome and lazily from Status lookups.
func (b *Breaker) Evaluate(provider, model string) types.CircuitState {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	key := telemetry.Key(provider, model)
	c, ok := b.states[key]
	if !ok {
		c = &circuit{state: types.CircuitState{
			Provider:       provider,
			Model:          model,
			Status:         types.CircuitHealthy,
			LastTransition: now,
		}}
		b.states[key] = c
	}

	// A critical circuit holds until the cool-down passes, then must show
	// a fresh rolling window under threshold. No instant recovery.
	if c.state.Status == types.CircuitCritical {
		coolDownEnd := c.coolDownStart.Add(b.cfg.CoolDown)
		if now.Before(coolDownEnd) {
			c.state.CoolDownUntil = coolDownEnd
			return c.state
		}
		fresh, ok := b.agg.WindowSince(provider, model, coolDownEnd)
		if !ok || fresh.TotalRequests < b.cfg.MinSamples {
			c.state.CoolDownUntil = coolDownEnd
			return c.state
		}
		// Fall through: judge the fresh window like any other.
	}

	window, ok := b.agg.WindowSince(provider, model, windowFloor(c, b.cfg))
	if !ok || window.TotalRequests < b.cfg.MinSamples {
		return c.state
	}
	baseline, ok := b.agg.Baseline(provider, model)
	if !ok || baseline.TotalRequests == 0 {
		return c.state
	}

	latencyDev := deviation(window.AvgLatencyMs, baseline.AvgLatencyMs)
	errorDev := deviation(window.ErrorRate, baseline.ErrorRate)

	next := types.CircuitHealthy
	latencyBad := latencyDev > b.cfg.DeviationThreshold
	errorBad := errorDev > b.cfg.DeviationThreshold
	switch {
	case window.ErrorRate >= b.cfg.ErrorRateCeiling:
		next = types.CircuitCritical
	case latencyBad && errorBad:
		next = types.CircuitCritical
	case latencyBad || errorBad:
		next = types.CircuitWarning
	}

	prev := c.state.Status
	c.state.BaselineLatencyMs = baseline.AvgLatencyMs
	c.state.BaselineErrorRate = baseline.ErrorRate
	c.state.CurrentLatencyMs = window.AvgLatencyMs
	c.state.CurrentErrorRate = window.ErrorRate
	c.state.LatencyDeviation = latencyDev
	c.state.ErrorDeviation = errorDev

	if next != prev {
		c.state.Status = next
		c.state.LastTransition = now
		if next == types.CircuitCritical {
			c.coolDownStart = now
			c.state.CoolDownUntil = now.Add(b.cfg.CoolDown)
		} else {
			c.state.CoolDownUntil = time.Time{}
		}
		metrics.CircuitTransitions.WithLabelValues(provider, model, string(next)).Inc()
		b.logger.Warn("circuit transition",
			"provider", provider,
			"model", model,
			"from", string(prev),
			"to", string(next),
			"latency_deviation", latencyDev,
			"error_deviation", errorDev,
			"error_rate", window.ErrorRate,
		)
	}

	return c.state
}

// Status returns the current state, re-evaluating first so the admin
// query surface never reports a stale critical circuit past recovery.
func (b *Breaker) Status(provider, model string) types.CircuitState {
	return b.Evaluate(provider, model)
}

// IsOpen reports whether the pair is excluded from selection.
func (b *Breaker) IsOpen(provider, model string) bool {
	return b.Evaluate(provider, model).Status == types.CircuitCritical
}

// States snapshots every tracked circuit, for the observability surface.
func (b *Breaker) States() []types.CircuitState {
	b.mu.Lock()
	keys := make([][2]string, 0, len(b.states))
	for _, c := range b.states {
		keys = append(keys, [2]string{c.state.Provider, c.state.Model})
	}
	b.mu.Unlock()

	out := make([]types.CircuitState, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.Evaluate(k[0], k[1]))
	}
	return out
}

// windowFloor restricts the judged window to samples after the cool-down
// for circuits coming out of critical, and is zero otherwise.
func windowFloor(c *circuit, cfg Config) time.Time {
	if c.state.Status == types.CircuitCritical {
		return c.coolDownStart.Add(cfg.CoolDown)
	}
	return time.Time{}
}

// deviation is |current-baseline|/baseline. A zero baseline with nonzero
// current reads as full deviation; zero against zero reads as none.
func deviation(current, baseline float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return 1
	}
	return math.Abs(current-baseline) / baseline
}
