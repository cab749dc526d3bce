// Package score ranks endpoints by a weighted composite of latency, success
// rate, consistency, availability and throughput.
package score

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// Criterion names a sub-score.
type Criterion string

const (
	CriterionOverall      Criterion = "overall"
	CriterionLatency      Criterion = "latency"
	CriterionSuccessRate  Criterion = "success_rate"
	CriterionConsistency  Criterion = "consistency"
	CriterionAvailability Criterion = "availability"
	CriterionThroughput   Criterion = "throughput"
)

// Criteria lists the weighted sub-scores in report order.
var Criteria = []Criterion{
	CriterionLatency,
	CriterionSuccessRate,
	CriterionConsistency,
	CriterionAvailability,
	CriterionThroughput,
}

// Weights apportions the composite score. They must sum to 1.
type Weights struct {
	Latency      float64 `json:"latency" yaml:"latency"`
	SuccessRate  float64 `json:"successRate" yaml:"successRate"`
	Consistency  float64 `json:"consistency" yaml:"consistency"`
	Availability float64 `json:"availability" yaml:"availability"`
	Throughput   float64 `json:"throughput" yaml:"throughput"`
}

// DefaultWeights returns 35% latency, 30% success rate, 20% consistency,
// 10% availability and 5% throughput.
func DefaultWeights() Weights {
	return Weights{
		Latency:      0.35,
		SuccessRate:  0.30,
		Consistency:  0.20,
		Availability: 0.10,
		Throughput:   0.05,
	}
}

// weightTolerance is how far the weight sum may drift from 1.
const weightTolerance = 0.001

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	sum := 0.0
	for _, c := range Criteria {
		v := w.Of(c)
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative, got %v", c, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// Of returns the weight of c.
func (w Weights) Of(c Criterion) float64 {
	switch c {
	case CriterionLatency:
		return w.Latency
	case CriterionSuccessRate:
		return w.SuccessRate
	case CriterionConsistency:
		return w.Consistency
	case CriterionAvailability:
		return w.Availability
	case CriterionThroughput:
		return w.Throughput
	}
	return 0
}

// Input is one endpoint's measurements.
type Input struct {
	Endpoint string
	Stats    stats.Stats

	// Availability is an uptime ratio in [0, 1], typically from the health
	// monitor. Nil derives it from Stats as successes over attempts that
	// reached the transport.
	Availability *float64
}

// EndpointScore is one endpoint's result.
type EndpointScore struct {
	Endpoint string                `json:"endpoint"`
	Overall  float64               `json:"overall"`
	Criteria map[Criterion]float64 `json:"criteria"`
	Grade    string                `json:"grade"`
	Rank     int                   `json:"rank"`
}

// Of returns the score for c, or the overall score.
func (s EndpointScore) Of(c Criterion) float64 {
	if c == CriterionOverall || c == "" {
		return s.Overall
	}
	return s.Criteria[c]
}

// Report is a ranked comparison of endpoints.
type Report struct {
	Scores          []EndpointScore `json:"scores"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Scorer computes composite scores.
type Scorer struct {
	weights Weights

	// latencyTarget is the mean latency that scores 100 (0: best observed)
	latencyTarget time.Duration

	// throughputTarget is the throughput that scores 100 (0: best observed)
	throughputTarget float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLatencyTarget sets the mean latency that earns a full latency score.
func WithLatencyTarget(d time.Duration) Option {
	return func(s *Scorer) { s.latencyTarget = d }
}

// WithThroughputTarget sets the calls per second that earn a full
// throughput score.
func WithThroughputTarget(rps float64) Option {
	return func(s *Scorer) { s.throughputTarget = rps }
}

// NewScorer creates a Scorer. It fails if weights do not validate.
func NewScorer(weights Weights, opts ...Option) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{weights: weights}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Score scores and ranks inputs.
func (s *Scorer) Score(inputs []Input) Report {
	latencyTarget := s.latencyTarget
	throughputTarget := s.throughputTarget
	if latencyTarget <= 0 {
		latencyTarget = bestLatency(inputs)
	}
	if throughputTarget <= 0 {
		throughputTarget = bestThroughput(inputs)
	}

	scores := make([]EndpointScore, 0, len(inputs))
	for _, in := range inputs {
		criteria := map[Criterion]float64{
			CriterionLatency:      latencyScore(in.Stats.Latency, latencyTarget),
			CriterionSuccessRate:  clamp(100 * in.Stats.SuccessRate),
			CriterionConsistency:  consistencyScore(in.Stats.Latency),
			CriterionAvailability: clamp(100 * availability(in)),
			CriterionThroughput:   throughputScore(in.Stats.Throughput, throughputTarget),
		}

		overall := 0.0
		for _, c := range Criteria {
			overall += criteria[c] * s.weights.Of(c)
		}
		overall = clamp(overall)

		scores = append(scores, EndpointScore{
			Endpoint: in.Endpoint,
			Overall:  overall,
			Criteria: criteria,
			Grade:    Grade(overall),
		})
	}

	Rank(scores)
	return Report{Scores: scores, Recommendations: Recommendations(scores)}
}

// Grade maps a 0-100 score to a letter.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// Rank sorts scores by overall score descending, ties broken by endpoint
// name, and assigns 1-based ranks.
func Rank(scores []EndpointScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Overall != scores[j].Overall {
			return scores[i].Overall > scores[j].Overall
		}
		return scores[i].Endpoint < scores[j].Endpoint
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
}

// Best returns the endpoint with the highest score for c. Ties go to the
// better-ranked endpoint.
func Best(scores []EndpointScore, c Criterion) (EndpointScore, bool) {
	if len(scores) == 0 {
		return EndpointScore{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Of(c) > best.Of(c) || (s.Of(c) == best.Of(c) && s.Rank < best.Rank) {
			best = s
		}
	}
	return best, true
}

// Recommendations summarizes the leaders and flags poor performers.
func Recommendations(scores []EndpointScore) []string {
	if len(scores) == 0 {
		return nil
	}

	var out []string
	if best, ok := Best(scores, CriterionOverall); ok {
		out = append(out, fmt.Sprintf("Best overall endpoint: %s (score %.2f, grade %s)", best.Endpoint, best.Overall, best.Grade))
	}
	leaders := []struct {
		label string
		c     Criterion
	}{
		{"Lowest latency", CriterionLatency},
		{"Highest success rate", CriterionSuccessRate},
		{"Most consistent", CriterionConsistency},
	}
	for _, l := range leaders {
		if best, ok := Best(scores, l.c); ok {
			out = append(out, fmt.Sprintf("%s: %s", l.label, best.Endpoint))
		}
	}

	poor := 0
	for _, s := range scores {
		if s.Grade == "D" || s.Grade == "F" {
			poor++
		}
	}
	if poor > 0 {
		out = append(out, fmt.Sprintf("Warning: %d endpoint(s) with poor performance (grade D/F)", poor))
	}
	return out
}

func latencyScore(l *stats.LatencyStats, target time.Duration) float64 {
	if l == nil {
		return 0
	}
	if l.Mean <= 0 {
		return 100
	}
	if target <= 0 {
		return 0
	}
	return clamp(100 * float64(target) / float64(l.Mean))
}

// consistencyScore grades the coefficient of variation: under 10% scores
// 100, under 20% 90, under 30% 70, under 50% 50, then one point less per
// percent above 50.
func consistencyScore(l *stats.LatencyStats) float64 {
	if l == nil || l.Mean <= 0 {
		return 0
	}
	cv := l.CV * 100
	switch {
	case cv < 10:
		return 100
	case cv < 20:
		return 90
	case cv < 30:
		return 70
	case cv < 50:
		return 50
	default:
		return clamp(50 - (cv - 50))
	}
}

func throughputScore(rps, target float64) float64 {
	if target <= 0 {
		return 0
	}
	return clamp(100 * rps / target)
}

func availability(in Input) float64 {
	if in.Availability != nil {
		return *in.Availability
	}
	if in.Stats.Attempted() == 0 {
		return 0
	}
	return float64(in.Stats.Successes) / float64(in.Stats.Attempted())
}

func bestLatency(inputs []Input) time.Duration {
	var best time.Duration
	for _, in := range inputs {
		if l := in.Stats.Latency; l != nil && l.Mean > 0 && (best == 0 || l.Mean < best) {
			best = l.Mean
		}
	}
	return best
}

func bestThroughput(inputs []Input) float64 {
	best := 0.0
	for _, in := range inputs {
		best = math.Max(best, in.Stats.Throughput)
	}
	return best
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
