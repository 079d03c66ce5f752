package types

import "time"

// TelemetrySample records one completed provider call.
type TelemetrySample struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
	Success   bool      `json:"success"`
	CostUSD   float64   `json:"cost_usd"`
}

// MetricPeriod is the aggregation granularity for telemetry buckets.
type MetricPeriod string

const (
	PeriodHourly MetricPeriod = "hourly"
	PeriodDaily  MetricPeriod = "daily"
)

// IsValid reports whether the period is a known value.
func (p MetricPeriod) IsValid() bool {
	return p == PeriodHourly || p == PeriodDaily
}

// BucketKey formats t as the bucket key for the period.
func (p MetricPeriod) BucketKey(t time.Time) string {
	if p == PeriodHourly {
		return t.UTC().Format("2006-01-02-15")
	}
	return t.UTC().Format("2006-01-02")
}

// AggregatedMetric is a derived per provider/model/period view of samples.
// A bucket is never mutated once its period has closed.
type AggregatedMetric struct {
	Provider      string       `json:"provider"`
	Model         string       `json:"model"`
	Period        MetricPeriod `json:"period,omitempty"`
	PeriodKey     string       `json:"period_key,omitempty"`
	AvgLatencyMs  float64      `json:"avg_latency_ms"`
	ErrorRate     float64      `json:"error_rate"`
	AvgCostUSD    float64      `json:"avg_cost_usd"`
	TotalRequests int64        `json:"total_requests"`
	SuccessRate   float64      `json:"success_rate"`
}
