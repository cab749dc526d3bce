package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rpcbench/internal/stats"
)

func input(endpoint string, mean time.Duration, cv, successRate, rps float64) Input {
	return Input{
		Endpoint: endpoint,
		Stats: stats.Stats{
			Endpoint:    endpoint,
			Count:       100,
			Successes:   int(successRate * 100),
			Failures:    100 - int(successRate*100),
			SuccessRate: successRate,
			ErrorRate:   1 - successRate,
			Throughput:  rps,
			Latency:     &stats.LatencyStats{Mean: mean, CV: cv},
		},
	}
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Latency = 0.5
	assert.Error(t, w.Validate())

	w = DefaultWeights()
	w.Latency = -0.35
	w.SuccessRate = 1.0
	assert.Error(t, w.Validate())

	_, err := NewScorer(Weights{Latency: 1.0005})
	assert.NoError(t, err, "within tolerance")
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A"},
		{90, "A"},
		{89.99, "B"},
		{80, "B"},
		{70, "C"},
		{60, "D"},
		{59.9, "F"},
		{0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Grade(tt.score), "score %v", tt.score)
	}
}

func TestConsistencyScore(t *testing.T) {
	tests := []struct {
		cv   float64
		want float64
	}{
		{0.05, 100},
		{0.15, 90},
		{0.25, 70},
		{0.40, 50},
		{0.60, 40},
		{1.50, 0},
	}
	for _, tt := range tests {
		got := consistencyScore(&stats.LatencyStats{Mean: time.Millisecond, CV: tt.cv})
		assert.InDelta(t, tt.want, got, 1e-9, "cv %v", tt.cv)
	}
	assert.Zero(t, consistencyScore(nil))
}

func TestScore_BestObservedTargets(t *testing.T) {
	s, err := NewScorer(DefaultWeights())
	require.NoError(t, err)

	report := s.Score([]Input{
		input("slow", 200*time.Millisecond, 0.05, 1, 50),
		input("fast", 100*time.Millisecond, 0.05, 1, 100),
	})
	require.Len(t, report.Scores, 2)

	first, second := report.Scores[0], report.Scores[1]
	assert.Equal(t, "fast", first.Endpoint)
	assert.Equal(t, 1, first.Rank)
	assert.InDelta(t, 100, first.Overall, 1e-9)
	assert.Equal(t, "A", first.Grade)

	assert.Equal(t, "slow", second.Endpoint)
	assert.InDelta(t, 50, second.Criteria[CriterionLatency], 1e-9)
	assert.InDelta(t, 50, second.Criteria[CriterionThroughput], 1e-9)
	// 0.35*50 + 0.30*100 + 0.20*100 + 0.10*100 + 0.05*50
	assert.InDelta(t, 80, second.Overall, 1e-9)
	assert.Equal(t, "B", second.Grade)
}

func TestScore_FixedTargets(t *testing.T) {
	s, err := NewScorer(DefaultWeights(),
		WithLatencyTarget(50*time.Millisecond),
		WithThroughputTarget(1000))
	require.NoError(t, err)

	report := s.Score([]Input{input("a", 100*time.Millisecond, 0.05, 1, 100)})
	got := report.Scores[0]
	assert.InDelta(t, 50, got.Criteria[CriterionLatency], 1e-9)
	assert.InDelta(t, 10, got.Criteria[CriterionThroughput], 1e-9)

	// Latency under target is capped at 100.
	report = s.Score([]Input{input("a", 10*time.Millisecond, 0.05, 1, 100)})
	assert.InDelta(t, 100, report.Scores[0].Criteria[CriterionLatency], 1e-9)
}

func TestScore_Availability(t *testing.T) {
	s, err := NewScorer(DefaultWeights())
	require.NoError(t, err)

	derived := input("derived", time.Millisecond, 0, 0.9, 1)
	uptime := 0.5
	explicit := input("explicit", time.Millisecond, 0, 0.9, 1)
	explicit.Availability = &uptime

	report := s.Score([]Input{derived, explicit})
	byName := map[string]EndpointScore{}
	for _, sc := range report.Scores {
		byName[sc.Endpoint] = sc
	}
	assert.InDelta(t, 90, byName["derived"].Criteria[CriterionAvailability], 1e-9)
	assert.InDelta(t, 50, byName["explicit"].Criteria[CriterionAvailability], 1e-9)
}

func TestScore_NoLatency(t *testing.T) {
	s, err := NewScorer(DefaultWeights())
	require.NoError(t, err)

	in := Input{Endpoint: "dead", Stats: stats.Stats{Endpoint: "dead", Count: 10, Rejected: 10}}
	report := s.Score([]Input{in})
	got := report.Scores[0]
	assert.Zero(t, got.Overall)
	assert.Equal(t, "F", got.Grade)
}

func TestRank_TiesByName(t *testing.T) {
	scores := []EndpointScore{
		{Endpoint: "b", Overall: 70},
		{Endpoint: "a", Overall: 70},
		{Endpoint: "c", Overall: 90},
	}
	Rank(scores)

	assert.Equal(t, []string{"c", "a", "b"}, []string{scores[0].Endpoint, scores[1].Endpoint, scores[2].Endpoint})
	assert.Equal(t, []int{1, 2, 3}, []int{scores[0].Rank, scores[1].Rank, scores[2].Rank})
}

func TestBest(t *testing.T) {
	_, ok := Best(nil, CriterionOverall)
	assert.False(t, ok)

	scores := []EndpointScore{
		{Endpoint: "a", Overall: 90, Rank: 1, Criteria: map[Criterion]float64{CriterionLatency: 60}},
		{Endpoint: "b", Overall: 80, Rank: 2, Criteria: map[Criterion]float64{CriterionLatency: 95}},
	}
	best, ok := Best(scores, CriterionLatency)
	require.True(t, ok)
	assert.Equal(t, "b", best.Endpoint)

	best, _ = Best(scores, "")
	assert.Equal(t, "a", best.Endpoint)
}

func TestRecommendations(t *testing.T) {
	assert.Nil(t, Recommendations(nil))

	scores := []EndpointScore{
		{Endpoint: "a", Overall: 92, Grade: "A", Rank: 1, Criteria: map[Criterion]float64{
			CriterionLatency: 100, CriterionSuccessRate: 90, CriterionConsistency: 70,
		}},
		{Endpoint: "b", Overall: 55, Grade: "F", Rank: 2, Criteria: map[Criterion]float64{
			CriterionLatency: 40, CriterionSuccessRate: 100, CriterionConsistency: 100,
		}},
	}
	recs := Recommendations(scores)
	require.Len(t, recs, 5)
	assert.Equal(t, "Best overall endpoint: a (score 92.00, grade A)", recs[0])
	assert.Equal(t, "Lowest latency: a", recs[1])
	assert.Equal(t, "Highest success rate: b", recs[2])
	assert.Equal(t, "Most consistent: b", recs[3])
	assert.Contains(t, recs[4], "1 endpoint(s)")
}
