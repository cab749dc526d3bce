package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func probes(n int, failAt ...int) []Probe {
	failed := make(map[int]bool, len(failAt))
	for _, i := range failAt {
		failed[i] = true
	}
	out := make([]Probe, n)
	for i := range out {
		out[i] = Probe{
			At:      epoch.Add(time.Duration(i) * time.Minute),
			Latency: 20 * time.Millisecond,
			Success: !failed[i],
		}
	}
	return out
}

func TestSummarize_SpreadFailuresStayHealthy(t *testing.T) {
	th := DefaultThresholds()
	th.UnhealthyErrorRate = 0.05
	th.DegradedErrorRate = 0.01

	s := Summarize(probes(100, 20, 60), breaker.StateClosed, th)

	assert.Equal(t, StatusHealthy, s.Status)
	assert.InDelta(t, 0.98, s.Uptime, 1e-9)
	assert.InDelta(t, 98, s.AvailabilityPercent, 1e-9)
	assert.Equal(t, 100, s.TotalProbes)
	assert.Equal(t, 98, s.HealthyProbes)
	assert.Zero(t, s.ConsecutiveFailures)
	assert.Zero(t, s.RollingErrorRate)
	assert.Equal(t, epoch.Add(99*time.Minute), s.LastProbe)
}

func TestSummarize_Classification(t *testing.T) {
	th := Thresholds{
		DegradedErrorRate:            0.01,
		UnhealthyErrorRate:           0.10,
		UnhealthyConsecutiveFailures: 3,
		RollingWindow:                20,
	}

	tests := []struct {
		name   string
		probes []Probe
		state  breaker.State
		want   Status
	}{
		{"no probes", nil, breaker.StateClosed, StatusUnknown},
		{"no probes but open", nil, breaker.StateOpen, StatusUnhealthy},
		{"all good", probes(20), breaker.StateClosed, StatusHealthy},
		{"one failure in window", probes(20, 5), breaker.StateClosed, StatusDegraded},
		{"three failures in window", probes(20, 2, 8, 14), breaker.StateClosed, StatusUnhealthy},
		{"trailing failures", probes(40, 37, 38, 39), breaker.StateClosed, StatusUnhealthy},
		{"two trailing failures", probes(40, 38, 39), breaker.StateClosed, StatusDegraded},
		{"breaker half open", probes(20), breaker.StateHalfOpen, StatusDegraded},
		{"breaker open", probes(20), breaker.StateOpen, StatusUnhealthy},
		{"old failures leave the window", probes(40, 1, 2, 3, 4), breaker.StateClosed, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.probes, tt.state, th).Status)
		})
	}
}

func TestSummarize_SkippedProbesExcluded(t *testing.T) {
	ps := probes(10)
	ps = append(ps, Probe{At: epoch.Add(time.Hour), Skipped: true})

	s := Summarize(ps, breaker.StateClosed, DefaultThresholds())
	assert.Equal(t, 10, s.TotalProbes)
	assert.Equal(t, 1, s.SkippedProbes)
	assert.Equal(t, 1.0, s.Uptime)
	assert.Equal(t, StatusHealthy, s.Status)
	assert.Zero(t, s.ConsecutiveFailures, "a skipped probe is not a failure")
}

func TestSummarize_DegradedLatency(t *testing.T) {
	th := DefaultThresholds()
	th.DegradedLatency = 10 * time.Millisecond

	s := Summarize(probes(20), breaker.StateClosed, th)
	assert.Equal(t, StatusDegraded, s.Status)
	assert.Equal(t, 20*time.Millisecond, s.AvgLatency)
}

func TestRecord_RetentionAndBound(t *testing.T) {
	clk := clock.NewManual(epoch)
	r := NewRecord(time.Hour, 5, clk)

	for i := 0; i < 8; i++ {
		r.Append(Probe{Success: true})
		clk.Advance(time.Minute)
	}
	assert.Len(t, r.Probes(), 5, "bounded by maxProbes")

	clk.Advance(time.Hour)
	r.Append(Probe{Success: false})
	got := r.Probes()
	require.Len(t, got, 1, "older probes fall out of retention")
	assert.False(t, got[0].Success)
	assert.Equal(t, clk.Now(), got[0].At)

	s := r.Summary(breaker.StateClosed, DefaultThresholds())
	assert.Equal(t, 1, s.TotalProbes)
	assert.Zero(t, s.Uptime)
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.UnhealthyErrorRate = 0.001
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.RollingWindow = 0
	assert.Error(t, bad.Validate())
}
