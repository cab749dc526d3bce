package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowSize = 10
	cfg.MinimumThroughput = 10
	cfg.FailureThreshold = 0.5
	cfg.CooldownPeriod = 30 * time.Second
	cfg.TrialCount = 3
	cfg.SuccessesToClose = 2
	return cfg
}

// call admits and records one call, failing the test if it is rejected.
func call(t *testing.T, b *Breaker, success bool) {
	t.Helper()
	gen, err := b.Allow()
	require.NoError(t, err)
	b.Record(gen, success)
}

func TestBreaker_FullCycle(t *testing.T) {
	clk := clock.NewManual(epoch)
	b := New("a", testConfig(), Options{Clock: clk})

	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	for i := 0; i < 5; i++ {
		call(t, b, false)
	}
	assert.Equal(t, StateClosed, b.State(), "9 samples is below minimum throughput")

	call(t, b, false)
	require.Equal(t, StateOpen, b.State(), "6/10 failures exceeds 0.5")

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clk.Advance(29 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	clk.Advance(time.Second)
	gen, err := b.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	b.Record(gen, true)
	assert.Equal(t, StateHalfOpen, b.State())

	call(t, b, true)
	assert.Equal(t, StateClosed, b.State())

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.Failures+snap.Successes, "closing resets the window")
	assert.Equal(t, int64(3), snap.Transitions)
}

func TestBreaker_ThresholdIsStrict(t *testing.T) {
	b := New("a", testConfig(), Options{Clock: clock.NewManual(epoch)})

	for i := 0; i < 5; i++ {
		call(t, b, true)
		call(t, b, false)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0.5, b.Snapshot().FailureRate)
}

func TestBreaker_RollingWindowForgetsOldFailures(t *testing.T) {
	b := New("a", testConfig(), Options{Clock: clock.NewManual(epoch)})

	for i := 0; i < 5; i++ {
		call(t, b, false)
	}
	for i := 0; i < 20; i++ {
		call(t, b, true)
	}
	for i := 0; i < 5; i++ {
		call(t, b, false)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 5, b.Snapshot().Failures)
}

func TestBreaker_HalfOpenFailureReopensAndRestartsCooldown(t *testing.T) {
	clk := clock.NewManual(epoch)
	b := New("a", testConfig(), Options{Clock: clk})

	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	clk.Advance(30 * time.Second)

	call(t, b, true)
	call(t, b, false)
	require.Equal(t, StateOpen, b.State())

	clk.Advance(20 * time.Second)
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen, "cooldown restarts at the failed trial")

	clk.Advance(10 * time.Second)
	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestBreaker_FailedTrialReportsTrialFailureRate(t *testing.T) {
	clk := clock.NewManual(epoch)
	var transitions []Transition
	b := New("a", testConfig(), Options{
		Clock:        clk,
		OnTransition: func(tr Transition) { transitions = append(transitions, tr) },
	})

	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	clk.Advance(30 * time.Second)

	var gens []Generation
	for i := 0; i < 3; i++ {
		gen, err := b.Allow()
		require.NoError(t, err)
		gens = append(gens, gen)
	}
	b.Record(gens[0], true)
	b.Record(gens[1], false)

	last := transitions[len(transitions)-1]
	assert.Equal(t, StateHalfOpen, last.From)
	assert.Equal(t, StateOpen, last.To)
	assert.InDelta(t, 2.0/3.0, last.FailureRate, 1e-9)
	for _, tr := range transitions {
		assert.GreaterOrEqual(t, tr.FailureRate, 0.0)
		assert.LessOrEqual(t, tr.FailureRate, 1.0)
	}
}

func TestBreaker_TrialLimit(t *testing.T) {
	clk := clock.NewManual(epoch)
	cfg := testConfig()
	cfg.SuccessesToClose = 3
	b := New("a", cfg, Options{Clock: clk})

	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	clk.Advance(cfg.CooldownPeriod)

	var gens []Generation
	for i := 0; i < 3; i++ {
		gen, err := b.Allow()
		require.NoError(t, err)
		gens = append(gens, gen)
	}
	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrTrialLimit)

	b.Cancel(gens[2])
	gen, err := b.Allow()
	require.NoError(t, err, "cancel returns the trial slot")
	gens[2] = gen

	for _, g := range gens {
		b.Record(g, true)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StaleGenerationIgnored(t *testing.T) {
	clk := clock.NewManual(epoch)
	b := New("a", testConfig(), Options{Clock: clk})

	stale, err := b.Allow()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	require.Equal(t, StateOpen, b.State())
	clk.Advance(30 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// A failure from a call admitted while closed must not reopen the
	// half-open breaker.
	b.Record(stale, false)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ConcurrentFailuresTripOnce(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []Transition
	)
	b := New("a", testConfig(), Options{
		Clock: clock.NewManual(epoch),
		OnTransition: func(tr Transition) {
			mu.Lock()
			transitions = append(transitions, tr)
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gen, err := b.Allow(); err == nil {
				b.Record(gen, false)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 1)
	assert.Equal(t, StateClosed, transitions[0].From)
	assert.Equal(t, StateOpen, transitions[0].To)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("a", testConfig(), Options{Clock: clock.NewManual(epoch)})
	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
}

func TestBreaker_AdaptiveSeededThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Adaptive = AdaptiveConfig{
		Enabled:        true,
		Margin:         0.2,
		Decay:          0.5,
		RecomputeEvery: 1000,
		MinThreshold:   0.05,
		MaxThreshold:   0.95,
	}
	b := New("flaky", cfg, Options{Clock: clock.NewManual(epoch)})
	b.SetBaselineErrorRate(0.4)

	assert.InDelta(t, 0.6, b.Snapshot().Threshold, 1e-9)

	// 6/10 sits on the noise floor of a 40% error endpoint.
	for i := 0; i < 4; i++ {
		call(t, b, true)
	}
	for i := 0; i < 6; i++ {
		call(t, b, false)
	}
	assert.Equal(t, StateClosed, b.State())

	call(t, b, false)
	assert.Equal(t, StateOpen, b.State(), "7/10 exceeds baseline plus margin")
}

func TestBreaker_AdaptiveLearnsBaseline(t *testing.T) {
	cfg := testConfig()
	cfg.Adaptive = AdaptiveConfig{
		Enabled:        true,
		Margin:         0.2,
		Decay:          0.5,
		RecomputeEvery: 10,
		MinThreshold:   0.05,
		MaxThreshold:   0.95,
	}
	b := New("a", cfg, Options{Clock: clock.NewManual(epoch)})
	assert.Equal(t, 0.5, b.Snapshot().Threshold, "fixed threshold until a baseline exists")

	for i := 0; i < 7; i++ {
		call(t, b, true)
	}
	for i := 0; i < 3; i++ {
		call(t, b, false)
	}
	assert.InDelta(t, 0.5, b.Snapshot().Threshold, 1e-9, "baseline 0.3 + margin 0.2")

	for i := 0; i < 10; i++ {
		call(t, b, true)
	}
	// EWMA: 0.5*0 + 0.5*0.3 = 0.15
	assert.InDelta(t, 0.35, b.Snapshot().Threshold, 1e-9)
}

func TestBreaker_AdaptiveDisabledIgnoresSeed(t *testing.T) {
	b := New("a", testConfig(), Options{})
	b.SetBaselineErrorRate(0.9)
	assert.Equal(t, 0.5, b.Snapshot().Threshold)
}

func TestBreaker_MetricsAndLogs(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	core, logs := observer.New(zapcore.InfoLevel)
	clk := clock.NewManual(epoch)

	b := New("a", testConfig(), Options{Clock: clk, Scope: scope, Logger: zap.New(core)})
	for i := 0; i < 10; i++ {
		call(t, b, false)
	}
	clk.Advance(30 * time.Second)
	b.State()

	opened := 0
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == "breaker.transitions" && c.Tags()["to"] == string(StateOpen) {
			opened += int(c.Value())
		}
	}
	assert.Equal(t, 1, opened)

	assert.Equal(t, 1, logs.FilterMessage("circuit breaker opened").Len())
	assert.Equal(t, 1, logs.FilterMessage("circuit breaker transition").Len())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.FailureThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.FailureThreshold = 1.5 }},
		{"empty window", func(c *Config) { c.WindowSize = 0 }},
		{"throughput above window", func(c *Config) { c.MinimumThroughput = c.WindowSize + 1 }},
		{"no cooldown", func(c *Config) { c.CooldownPeriod = 0 }},
		{"no trials", func(c *Config) { c.TrialCount = 0 }},
		{"successes above trials", func(c *Config) { c.SuccessesToClose = c.TrialCount + 1 }},
		{"bad adaptive decay", func(c *Config) { c.Adaptive.Enabled = true; c.Adaptive.Decay = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
