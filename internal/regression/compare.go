package regression

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/stats"
)

var (
	// ErrBaselineOverlap is returned when a baseline's window overlaps the
	// window it is compared against.
	ErrBaselineOverlap = errors.New("baseline window overlaps the current window")

	// ErrNoData is returned when either side has no latency data.
	ErrNoData = errors.New("no data to compare")
)

// Metric names a compared quantity.
type Metric string

const (
	MetricMean        Metric = "mean"
	MetricP50         Metric = "p50"
	MetricP90         Metric = "p90"
	MetricP95         Metric = "p95"
	MetricP99         Metric = "p99"
	MetricSuccessRate Metric = "success_rate"
)

// Thresholds configures severity classification.
type Thresholds struct {
	// LatencyMetric is the latency statistic compared (default p95)
	LatencyMetric Metric `json:"latencyMetric" yaml:"latencyMetric"`

	// Latency cuts are percentage increases over the baseline
	Latency SeverityCuts `json:"latency" yaml:"latency"`

	// SuccessRate cuts are drops in percentage points
	SuccessRate SeverityCuts `json:"successRate" yaml:"successRate"`

	// SuccessRateFloor makes any current success rate below it critical.
	// Zero disables the floor.
	SuccessRateFloor float64 `json:"successRateFloor" yaml:"successRateFloor"`
}

// DefaultThresholds returns P95 cuts of 10/25/50/100% and success rate cuts
// of 1/5/10/20 points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyMetric: MetricP95,
		Latency:       SeverityCuts{Low: 10, Medium: 25, High: 50, Critical: 100},
		SuccessRate:   SeverityCuts{Low: 1, Medium: 5, High: 10, Critical: 20},
	}
}

// Validate checks the thresholds.
func (t Thresholds) Validate() error {
	switch t.LatencyMetric {
	case "", MetricMean, MetricP50, MetricP90, MetricP95, MetricP99:
	default:
		return fmt.Errorf("unknown latency metric %q", t.LatencyMetric)
	}
	if err := t.Latency.Validate(); err != nil {
		return fmt.Errorf("latency: %w", err)
	}
	if err := t.SuccessRate.Validate(); err != nil {
		return fmt.Errorf("successRate: %w", err)
	}
	if t.SuccessRateFloor < 0 || t.SuccessRateFloor > 1 {
		return fmt.Errorf("successRateFloor must be within [0, 1], got %v", t.SuccessRateFloor)
	}
	return nil
}

// Baseline is a stored Stats snapshot used as a comparison reference.
type Baseline struct {
	Endpoint  string      `json:"endpoint" yaml:"endpoint"`
	Method    string      `json:"method" yaml:"method"`
	Label     string      `json:"label,omitempty" yaml:"label,omitempty"`
	CreatedAt time.Time   `json:"createdAt" yaml:"createdAt"`
	Stats     stats.Stats `json:"stats" yaml:"stats"`
}

// NewBaseline captures s as a baseline.
func NewBaseline(s stats.Stats, label string, createdAt time.Time) Baseline {
	return Baseline{
		Endpoint:  s.Endpoint,
		Method:    s.Method,
		Label:     label,
		CreatedAt: createdAt,
		Stats:     s,
	}
}

// Finding is the comparison of one metric.
type Finding struct {
	Metric   Metric  `json:"metric"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`

	// Delta is the percentage change for latency metrics and the change
	// in percentage points for the success rate
	Delta    float64  `json:"delta"`
	Severity Severity `json:"severity"`
}

// Report is the outcome of one comparison.
type Report struct {
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Findings  []Finding `json:"findings"`
	Severity  Severity  `json:"severity"`
	Regressed bool      `json:"regressed"`
}

// Finding returns the finding for metric, if present.
func (r Report) Finding(metric Metric) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Metric == metric {
			return f, true
		}
	}
	return Finding{}, false
}

// Compare classifies current against baseline.
func Compare(current stats.Stats, baseline Baseline, th Thresholds) (Report, error) {
	report := Report{Endpoint: current.Endpoint, Method: current.Method}

	if overlaps(baseline.Stats, current) {
		return report, ErrBaselineOverlap
	}
	if current.Latency == nil || baseline.Stats.Latency == nil {
		return report, ErrNoData
	}

	metric := th.LatencyMetric
	if metric == "" {
		metric = MetricP95
	}
	base := latencyMillis(baseline.Stats.Latency, metric)
	cur := latencyMillis(current.Latency, metric)

	latency := Finding{Metric: metric, Baseline: base, Current: cur}
	if base > 0 {
		latency.Delta = (cur - base) / base * 100
	}
	if latency.Delta > 0 {
		latency.Severity = th.Latency.Classify(latency.Delta)
	}

	success := Finding{
		Metric:   MetricSuccessRate,
		Baseline: baseline.Stats.SuccessRate,
		Current:  current.SuccessRate,
		Delta:    (current.SuccessRate - baseline.Stats.SuccessRate) * 100,
	}
	if drop := -success.Delta; drop > 0 {
		success.Severity = th.SuccessRate.Classify(drop)
	}
	if th.SuccessRateFloor > 0 && current.SuccessRate < th.SuccessRateFloor {
		success.Severity = SeverityCritical
	}

	report.Findings = []Finding{latency, success}
	report.Severity = max(latency.Severity, success.Severity)
	report.Regressed = report.Severity > SeverityNone
	return report, nil
}

// overlaps reports whether the half-open spans [Start, End) intersect.
// Spans with missing bounds never overlap.
func overlaps(a, b stats.Stats) bool {
	if a.Start.IsZero() || a.End.IsZero() || b.Start.IsZero() || b.End.IsZero() {
		return false
	}
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func latencyMillis(l *stats.LatencyStats, m Metric) float64 {
	var d time.Duration
	switch m {
	case MetricMean:
		d = l.Mean
	case MetricP50:
		d = l.P50
	case MetricP90:
		d = l.P90
	case MetricP99:
		d = l.P99
	default:
		d = l.P95
	}
	return float64(d) / float64(time.Millisecond)
}
