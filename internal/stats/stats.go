// Package stats aggregates request attempts into descriptive statistics.
//
// Latency statistics are computed over attempts that reached the transport;
// rejected attempts are counted separately and never contribute latency. An
// empty sample yields nil LatencyStats ("no data") rather than zeros.
package stats

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// ErrNoData is returned when a computation needs at least one sample.
var ErrNoData = errors.New("no data")

// Window is a set of attempts for one endpoint+method.
type Window struct {
	Endpoint string
	Method   string
	Attempts []rpc.RequestAttempt

	// Start and End bound the window. Zero values are derived from the
	// attempts' issue times.
	Start time.Time
	End   time.Time
}

// Bounds returns the window's time span.
func (w Window) Bounds() (time.Time, time.Time) {
	start, end := w.Start, w.End
	for _, a := range w.Attempts {
		if w.Start.IsZero() && (start.IsZero() || a.IssuedAt.Before(start)) {
			start = a.IssuedAt
		}
		if finished := a.IssuedAt.Add(a.Duration); w.End.IsZero() && finished.After(end) {
			end = finished
		}
	}
	return start, end
}

// Latencies returns the durations of attempts that reached the transport.
func (w Window) Latencies() []time.Duration {
	out := make([]time.Duration, 0, len(w.Attempts))
	for _, a := range w.Attempts {
		if a.ReachedTransport() {
			out = append(out, a.Duration)
		}
	}
	return out
}

// Stats summarizes a Window.
type Stats struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Method   string `json:"method" yaml:"method"`

	// Count is every attempt, rejected included:
	// Count == Successes + Failures + Timeouts + Rejected
	Count     int `json:"count" yaml:"count"`
	Successes int `json:"successes" yaml:"successes"`
	Failures  int `json:"failures" yaml:"failures"`
	Timeouts  int `json:"timeouts" yaml:"timeouts"`
	Rejected  int `json:"rejected" yaml:"rejected"`

	// SuccessRate and ErrorRate are relative to attempts that reached the
	// transport
	SuccessRate float64 `json:"successRate" yaml:"successRate"`
	ErrorRate   float64 `json:"errorRate" yaml:"errorRate"`

	// RejectionRate is relative to Count
	RejectionRate float64 `json:"rejectionRate" yaml:"rejectionRate"`

	// Latency is nil when no attempt reached the transport
	Latency *LatencyStats `json:"latency,omitempty" yaml:"latency,omitempty"`

	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`

	// Throughput is transport attempts per second over [Start, End]
	Throughput float64 `json:"throughput" yaml:"throughput"`

	// ErrorCodes counts failures by error code (0 when the failure had none)
	ErrorCodes map[int]int `json:"errorCodes,omitempty" yaml:"errorCodes,omitempty"`

	// Rejections counts rejected attempts by reason
	Rejections map[rpc.RejectReason]int `json:"rejections,omitempty" yaml:"rejections,omitempty"`
}

// Failed returns failures plus timeouts.
func (s Stats) Failed() int {
	return s.Failures + s.Timeouts
}

// Attempted returns the number of attempts that reached the transport.
func (s Stats) Attempted() int {
	return s.Count - s.Rejected
}

// LatencyStats describes a non-empty latency sample.
type LatencyStats struct {
	Min    time.Duration `json:"min" yaml:"min"`
	Max    time.Duration `json:"max" yaml:"max"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	StdDev time.Duration `json:"stdDev" yaml:"stdDev"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P90    time.Duration `json:"p90" yaml:"p90"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	P999   time.Duration `json:"p999" yaml:"p999"`

	// Skewness and Kurtosis are the third and fourth standardized moments
	// (population form, kurtosis not excess). Both are 0 for a constant sample.
	Skewness float64 `json:"skewness" yaml:"skewness"`
	Kurtosis float64 `json:"kurtosis" yaml:"kurtosis"`

	// CV is StdDev / Mean as a ratio
	CV float64 `json:"cv" yaml:"cv"`
}

// Percentile returns the latency at p in [0, 1] for named percentiles.
func (l *LatencyStats) Percentile(p float64) time.Duration {
	switch p {
	case 0:
		return l.Min
	case 0.5:
		return l.P50
	case 0.9:
		return l.P90
	case 0.95:
		return l.P95
	case 0.99:
		return l.P99
	case 0.999:
		return l.P999
	case 1:
		return l.Max
	}
	return 0
}

// Summarize computes Stats for w.
func Summarize(w Window) Stats {
	s := Stats{Endpoint: w.Endpoint, Method: w.Method}
	s.Start, s.End = w.Bounds()

	for _, a := range w.Attempts {
		s.Count++
		switch a.Outcome {
		case rpc.OutcomeSuccess:
			s.Successes++
		case rpc.OutcomeTimeout:
			s.Timeouts++
			s.countCode(a.Code)
		case rpc.OutcomeRejected:
			s.Rejected++
			if s.Rejections == nil {
				s.Rejections = make(map[rpc.RejectReason]int)
			}
			s.Rejections[a.Reason]++
		default:
			s.Failures++
			s.countCode(a.Code)
		}
	}

	if attempted := s.Attempted(); attempted > 0 {
		s.SuccessRate = float64(s.Successes) / float64(attempted)
		s.ErrorRate = float64(s.Failed()) / float64(attempted)
		if span := s.End.Sub(s.Start); span > 0 {
			s.Throughput = float64(attempted) / span.Seconds()
		}
	}
	if s.Count > 0 {
		s.RejectionRate = float64(s.Rejected) / float64(s.Count)
	}

	s.Latency = Describe(w.Latencies())
	return s
}

func (s *Stats) countCode(code int) {
	if s.ErrorCodes == nil {
		s.ErrorCodes = make(map[int]int)
	}
	s.ErrorCodes[code]++
}

// Describe computes LatencyStats, or nil for an empty sample.
func Describe(latencies []time.Duration) *LatencyStats {
	n := len(latencies)
	if n == 0 {
		return nil
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}
	mean := sum / float64(n)

	var m2, m3, m4 float64
	for _, d := range sorted {
		dev := float64(d) - mean
		sq := dev * dev
		m2 += sq
		m3 += sq * dev
		m4 += sq * sq
	}
	m2 /= float64(n)
	m3 /= float64(n)
	m4 /= float64(n)
	stddev := math.Sqrt(m2)

	l := &LatencyStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   time.Duration(mean),
		StdDev: time.Duration(stddev),
		P50:    Percentile(sorted, 0.50),
		P90:    Percentile(sorted, 0.90),
		P95:    Percentile(sorted, 0.95),
		P99:    Percentile(sorted, 0.99),
		P999:   Percentile(sorted, 0.999),
	}
	if m2 > 0 {
		l.Skewness = m3 / math.Pow(m2, 1.5)
		l.Kurtosis = m4 / (m2 * m2)
	}
	if mean > 0 {
		l.CV = stddev / mean
	}
	return l
}
