// Package telemetry aggregates per provider/model samples into a short
// rolling window for near-real-time health evaluation plus hourly and
// daily period buckets for baselines and dashboards.
//
// Reads are eventually consistent; only the budget and rate counters in
// their own packages carry strict atomicity requirements.
package telemetry

import (
	"sync"
	"time"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// DefaultWindowSize is the rolling sample window per provider/model pair.
const DefaultWindowSize = 50

// Retention limits for period buckets.
const (
	hourlyRetention = 48
	dailyRetention  = 30
)

// Aggregator ingests TelemetrySamples and serves rolling and bucketed
// metrics. Safe for concurrent use.
type Aggregator struct {
	mu         sync.RWMutex
	clock      types.Clock
	windowSize int
	pairs      map[string]*pairStats
}

type pairStats struct {
	provider string
	model    string

	// rolling window ring of the last windowSize samples
	window []types.TelemetrySample
	next   int
	filled bool

	// exponential moving average of latency, for quick reads
	ewmaLatencyMs float64

	buckets map[types.MetricPeriod]map[string]*bucket
}

type bucket struct {
	count      int64
	errors     int64
	latencySum float64
	costSum    float64
}

// Config holds optional Aggregator settings.
type Config struct {
	Clock      types.Clock
	WindowSize int
}

// New creates an Aggregator.
func New(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Aggregator{
		clock:      cfg.Clock,
		windowSize: cfg.WindowSize,
		pairs:      make(map[string]*pairStats),
	}
}

// Key is the canonical "provider/model" map key used across the engine.
func Key(provider, model string) string { return provider + "/" + model }

// Record ingests one sample into the rolling window and period buckets.
func (a *Aggregator) Record(sample types.TelemetrySample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = a.clock.Now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ps := a.pair(sample.Provider, sample.Model)

	if len(ps.window) < a.windowSize {
		ps.window = append(ps.window, sample)
	} else {
		ps.window[ps.next] = sample
		ps.next = (ps.next + 1) % a.windowSize
		ps.filled = true
	}

	if ps.ewmaLatencyMs == 0 {
		ps.ewmaLatencyMs = sample.LatencyMs
	} else {
		ps.ewmaLatencyMs = ps.ewmaLatencyMs*0.9 + sample.LatencyMs*0.1
	}

	for _, period := range []types.MetricPeriod{types.PeriodHourly, types.PeriodDaily} {
		key := period.BucketKey(sample.Timestamp)
		byKey := ps.buckets[period]
		b, ok := byKey[key]
		if !ok {
			b = &bucket{}
			byKey[key] = b
			prune(byKey, retentionFor(period))
		}
		b.count++
		if !sample.Success {
			b.errors++
		}
		b.latencySum += sample.LatencyMs
		b.costSum += sample.CostUSD
	}
}

// Window returns rolling-window metrics for a pair. ok is false when no
// samples have been recorded.
func (a *Aggregator) Window(provider, model string) (types.AggregatedMetric, bool) {
	return a.WindowSince(provider, model, time.Time{})
}

// WindowSince returns rolling-window metrics restricted to samples at or
// after since. The circuit breaker uses this to demand a fresh window
// after a cool-down rather than judging recovery on stale samples.
func (a *Aggregator) WindowSince(provider, model string, since time.Time) (types.AggregatedMetric, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ps, ok := a.pairs[Key(provider, model)]
	if !ok {
		return types.AggregatedMetric{}, false
	}

	var (
		count      int64
		errors     int64
		latencySum float64
		costSum    float64
	)
	for _, s := range ps.window {
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		count++
		if !s.Success {
			errors++
		}
		latencySum += s.LatencyMs
		costSum += s.CostUSD
	}
	if count == 0 {
		return types.AggregatedMetric{}, false
	}

	return types.AggregatedMetric{
		Provider:      provider,
		Model:         model,
		AvgLatencyMs:  latencySum / float64(count),
		ErrorRate:     float64(errors) / float64(count),
		AvgCostUSD:    costSum / float64(count),
		TotalRequests: count,
		SuccessRate:   1 - float64(errors)/float64(count),
	}, true
}

// EWMALatency returns the exponentially weighted latency average.
func (a *Aggregator) EWMALatency(provider, model string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ps, ok := a.pairs[Key(provider, model)]
	if !ok {
		return 0, false
	}
	return ps.ewmaLatencyMs, true
}

// Bucket returns the aggregate for one period bucket.
func (a *Aggregator) Bucket(provider, model string, period types.MetricPeriod, key string) (types.AggregatedMetric, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ps, ok := a.pairs[Key(provider, model)]
	if !ok {
		return types.AggregatedMetric{}, false
	}
	b, ok := ps.buckets[period][key]
	if !ok || b.count == 0 {
		return types.AggregatedMetric{}, false
	}

	return types.AggregatedMetric{
		Provider:      provider,
		Model:         model,
		Period:        period,
		PeriodKey:     key,
		AvgLatencyMs:  b.latencySum / float64(b.count),
		ErrorRate:     float64(b.errors) / float64(b.count),
		AvgCostUSD:    b.costSum / float64(b.count),
		TotalRequests: b.count,
		SuccessRate:   1 - float64(b.errors)/float64(b.count),
	}, true
}

// Baseline returns today's daily bucket, the reference the circuit breaker
// measures deviation against.
func (a *Aggregator) Baseline(provider, model string) (types.AggregatedMetric, bool) {
	key := types.PeriodDaily.BucketKey(a.clock.Now())
	return a.Bucket(provider, model, types.PeriodDaily, key)
}

// Pairs lists every provider/model key with recorded samples.
func (a *Aggregator) Pairs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.pairs))
	for k := range a.pairs {
		keys = append(keys, k)
	}
	return keys
}

func (a *Aggregator) pair(provider, model string) *pairStats {
	key := Key(provider, model)
	ps, ok := a.pairs[key]
	if !ok {
		ps = &pairStats{
			provider: provider,
			model:    model,
			window:   make([]types.TelemetrySample, 0, a.windowSize),
			buckets: map[types.MetricPeriod]map[string]*bucket{
				types.PeriodHourly: {},
				types.PeriodDaily:  {},
			},
		}
		a.pairs[key] = ps
	}
	return ps
}

func retentionFor(period types.MetricPeriod) int {
	if period == types.PeriodHourly {
		return hourlyRetention
	}
	return dailyRetention
}

// prune drops the lexically smallest bucket keys beyond the retention
// limit. Bucket keys sort chronologically by construction.
func prune(byKey map[string]*bucket, keep int) {
	for len(byKey) > keep {
		oldest := ""
		for k := range byKey {
			if oldest == "" || k < oldest {
				oldest = k
			}
		}
		delete(byKey, oldest)
	}
}
