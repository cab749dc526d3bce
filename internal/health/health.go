// Package health keeps per-endpoint probe history and classifies endpoint
// status from it.
package health

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/clock"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// Status is an endpoint's health classification.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe is the outcome of one health probe.
type Probe struct {
	At      time.Time     `json:"at"`
	Latency time.Duration `json:"latency"`
	Success bool          `json:"success"`

	// Skipped marks probes this engine's own rate limiter or bulkhead
	// turned away. They are kept for visibility but excluded from uptime.
	Skipped bool `json:"skipped,omitempty"`

	Error string `json:"error,omitempty"`
}

// Thresholds controls classification.
type Thresholds struct {
	// DegradedErrorRate is the rolling error rate above which an endpoint
	// is degraded
	DegradedErrorRate float64 `json:"degradedErrorRate" yaml:"degradedErrorRate"`

	// UnhealthyErrorRate is the rolling error rate above which an endpoint
	// is unhealthy
	UnhealthyErrorRate float64 `json:"unhealthyErrorRate" yaml:"unhealthyErrorRate"`

	// UnhealthyConsecutiveFailures is the trailing failure count that
	// makes an endpoint unhealthy
	UnhealthyConsecutiveFailures int `json:"unhealthyConsecutiveFailures" yaml:"unhealthyConsecutiveFailures"`

	// RollingWindow is the number of most recent probes the error rate is
	// computed over
	RollingWindow int `json:"rollingWindow" yaml:"rollingWindow"`

	// Retention bounds how long probes count towards uptime (0 keeps all)
	Retention time.Duration `json:"retention" yaml:"retention"`

	// DegradedLatency degrades an endpoint whose rolling mean probe latency
	// exceeds it (0 disables)
	DegradedLatency time.Duration `json:"degradedLatency" yaml:"degradedLatency"`
}

// DefaultThresholds returns 1% degraded / 5% unhealthy over 20 probes,
// 3 consecutive failures and 24h retention.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedErrorRate:            0.01,
		UnhealthyErrorRate:           0.05,
		UnhealthyConsecutiveFailures: 3,
		RollingWindow:                20,
		Retention:                    24 * time.Hour,
	}
}

// Validate checks the thresholds.
func (t Thresholds) Validate() error {
	var errs []error
	if t.DegradedErrorRate < 0 || t.DegradedErrorRate > 1 {
		errs = append(errs, fmt.Errorf("degradedErrorRate must be within [0, 1], got %v", t.DegradedErrorRate))
	}
	if t.UnhealthyErrorRate < t.DegradedErrorRate || t.UnhealthyErrorRate > 1 {
		errs = append(errs, fmt.Errorf("unhealthyErrorRate must be within [degradedErrorRate, 1], got %v", t.UnhealthyErrorRate))
	}
	if t.UnhealthyConsecutiveFailures < 1 {
		errs = append(errs, fmt.Errorf("unhealthyConsecutiveFailures must be >= 1, got %d", t.UnhealthyConsecutiveFailures))
	}
	if t.RollingWindow < 1 {
		errs = append(errs, fmt.Errorf("rollingWindow must be >= 1, got %d", t.RollingWindow))
	}
	if t.Retention < 0 || t.DegradedLatency < 0 {
		errs = append(errs, errors.New("retention and degradedLatency must not be negative"))
	}
	return errors.Join(errs...)
}

// Summary is a classified view of a Record.
type Summary struct {
	Status       Status        `json:"status"`
	BreakerState breaker.State `json:"breakerState,omitempty"`

	// Uptime is successful probes over counted (non-skipped) probes
	Uptime              float64 `json:"uptime"`
	Nines               float64 `json:"nines"`
	AvailabilityPercent float64 `json:"availabilityPercent"`

	ConsecutiveFailures int     `json:"consecutiveFailures"`
	RollingErrorRate    float64 `json:"rollingErrorRate"`

	TotalProbes   int `json:"totalProbes"`
	HealthyProbes int `json:"healthyProbes"`
	SkippedProbes int `json:"skippedProbes"`

	AvgLatency time.Duration `json:"avgLatency"`
	LastProbe  time.Time     `json:"lastProbe"`
}

// Record is an ordered, bounded probe history for one endpoint.
//
// Record is safe for concurrent use.
type Record struct {
	retention time.Duration
	maxProbes int
	clock     clock.Clock

	mu     sync.RWMutex
	probes []Probe
}

// DefaultMaxProbes bounds a Record's history.
const DefaultMaxProbes = 10000

// NewRecord creates a Record that keeps probes for retention (0 keeps all)
// up to maxProbes (<= 0 uses DefaultMaxProbes).
func NewRecord(retention time.Duration, maxProbes int, clk clock.Clock) *Record {
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	return &Record{
		retention: retention,
		maxProbes: maxProbes,
		clock:     clock.OrSystem(clk),
	}
}

// Append adds p. A zero At is stamped with the current time.
func (r *Record) Append(p Probe) {
	if p.At.IsZero() {
		p.At = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.probes = append(r.probes, p)
	r.pruneLocked(r.clock.Now())
}

func (r *Record) pruneLocked(now time.Time) {
	drop := 0
	if over := len(r.probes) - r.maxProbes; over > 0 {
		drop = over
	}
	if r.retention > 0 {
		cutoff := now.Add(-r.retention)
		for drop < len(r.probes) && r.probes[drop].At.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		r.probes = append(r.probes[:0], r.probes[drop:]...)
	}
}

// Probes returns a copy of the retained probes, oldest first.
func (r *Record) Probes() []Probe {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(r.clock.Now())
	return append([]Probe(nil), r.probes...)
}

// Summary classifies the record given the endpoint's breaker state.
func (r *Record) Summary(state breaker.State, th Thresholds) Summary {
	return Summarize(r.Probes(), state, th)
}

// Summarize classifies a probe history, oldest first.
func Summarize(probes []Probe, state breaker.State, th Thresholds) Summary {
	s := Summary{BreakerState: state}

	counted := make([]Probe, 0, len(probes))
	for _, p := range probes {
		if p.Skipped {
			s.SkippedProbes++
			continue
		}
		counted = append(counted, p)
	}
	if len(probes) > 0 {
		s.LastProbe = probes[len(probes)-1].At
	}

	s.TotalProbes = len(counted)
	for _, p := range counted {
		if p.Success {
			s.HealthyProbes++
		}
	}
	avail := stats.Availability(s.HealthyProbes, s.TotalProbes)
	s.Uptime = avail.Ratio
	s.Nines = avail.Nines
	s.AvailabilityPercent = avail.Percent

	for i := len(counted) - 1; i >= 0 && !counted[i].Success; i-- {
		s.ConsecutiveFailures++
	}

	window := th.RollingWindow
	if window < 1 {
		window = DefaultThresholds().RollingWindow
	}
	rolling := counted[max(0, len(counted)-window):]
	var failures int
	var latency time.Duration
	for _, p := range rolling {
		if !p.Success {
			failures++
		}
		latency += p.Latency
	}
	if len(rolling) > 0 {
		s.RollingErrorRate = float64(failures) / float64(len(rolling))
		s.AvgLatency = latency / time.Duration(len(rolling))
	}

	s.Status = classify(s, len(rolling), state, th)
	return s
}

func classify(s Summary, rolling int, state breaker.State, th Thresholds) Status {
	switch {
	case state == breaker.StateOpen:
		return StatusUnhealthy
	case rolling == 0:
		return StatusUnknown
	case th.UnhealthyConsecutiveFailures > 0 && s.ConsecutiveFailures >= th.UnhealthyConsecutiveFailures:
		return StatusUnhealthy
	case s.RollingErrorRate > th.UnhealthyErrorRate:
		return StatusUnhealthy
	case s.RollingErrorRate > th.DegradedErrorRate:
		return StatusDegraded
	case state == breaker.StateHalfOpen:
		return StatusDegraded
	case th.DegradedLatency > 0 && s.AvgLatency > th.DegradedLatency:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
