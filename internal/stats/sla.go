package stats

import (
	"slices"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// SLATarget describes a service level objective.
type SLATarget struct {
	// MaxLatency is the latency a compliant call must not exceed
	MaxLatency time.Duration `json:"maxLatency" yaml:"maxLatency"`

	// Percentile is the latency percentile checked against MaxLatency
	Percentile float64 `json:"percentile" yaml:"percentile"`

	// MinSuccessRate is the required success rate in [0, 1]
	MinSuccessRate float64 `json:"minSuccessRate" yaml:"minSuccessRate"`

	// RequiredCompliance is the fraction of calls that must be compliant
	RequiredCompliance float64 `json:"requiredCompliance" yaml:"requiredCompliance"`
}

// DefaultSLATarget returns P95 under 1s with 99% success and 95% compliance.
func DefaultSLATarget() SLATarget {
	return SLATarget{
		MaxLatency:         time.Second,
		Percentile:         0.95,
		MinSuccessRate:     0.99,
		RequiredCompliance: 0.95,
	}
}

// SLAResult reports how a window measured against an SLATarget.
type SLAResult struct {
	Target SLATarget `json:"target"`

	// ComplianceRate is the fraction of transport attempts that succeeded
	// within MaxLatency
	ComplianceRate float64 `json:"complianceRate"`

	PercentileLatency time.Duration `json:"percentileLatency"`
	SuccessRate       float64       `json:"successRate"`

	LatencyMet     bool `json:"latencyMet"`
	SuccessRateMet bool `json:"successRateMet"`

	// Compliant requires ComplianceRate >= RequiredCompliance and the
	// success rate target
	Compliant bool `json:"compliant"`
}

// SLA evaluates w against target.
func SLA(w Window, target SLATarget) (SLAResult, error) {
	res := SLAResult{Target: target}

	var (
		attempted int
		succeeded int
		compliant int
		latencies []time.Duration
	)
	for _, a := range w.Attempts {
		if !a.ReachedTransport() {
			continue
		}
		attempted++
		latencies = append(latencies, a.Duration)
		if a.Outcome == rpc.OutcomeSuccess {
			succeeded++
			if a.Duration <= target.MaxLatency {
				compliant++
			}
		}
	}
	if attempted == 0 {
		return res, ErrNoData
	}

	slices.Sort(latencies)
	res.PercentileLatency = Percentile(latencies, target.Percentile)
	res.SuccessRate = float64(succeeded) / float64(attempted)
	res.ComplianceRate = float64(compliant) / float64(attempted)
	res.LatencyMet = res.PercentileLatency <= target.MaxLatency
	res.SuccessRateMet = res.SuccessRate >= target.MinSuccessRate
	res.Compliant = res.ComplianceRate >= target.RequiredCompliance && res.SuccessRateMet
	return res, nil
}
