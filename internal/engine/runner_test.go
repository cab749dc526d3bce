package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/clock"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/regression"
	"github.com/wesleyorama2/rpcbench/internal/retry"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

var blockNumber = rpc.Call{Method: "eth_blockNumber"}

// fakeTransport routes calls to per-endpoint handlers and counts invocations.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(call rpc.Call) error
	calls    map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]func(rpc.Call) error),
		calls:    make(map[string]int),
	}
}

func (f *fakeTransport) handle(endpoint string, h func(rpc.Call) error) {
	f.handlers[endpoint] = h
}

func (f *fakeTransport) Invoke(_ context.Context, endpoint string, call rpc.Call) error {
	f.mu.Lock()
	f.calls[endpoint]++
	h := f.handlers[endpoint]
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	return h(call)
}

func (f *fakeTransport) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func noRetry() RunnerConfig {
	cfg := DefaultRunnerConfig()
	cfg.Retry = retry.Policy{MaxAttempts: 1}
	cfg.CallTimeout = time.Second
	return cfg
}

func newTestRunner(t *testing.T, reg *Registry, tr rpc.Transport, cfg RunnerConfig, clk clock.Clock) *Runner {
	t.Helper()
	r, err := NewRunner(reg, tr, cfg, Options{Clock: clk})
	require.NoError(t, err)
	return r
}

func plan(requests, concurrency int, endpoints ...string) Plan {
	return Plan{
		Name:        "test",
		Endpoints:   endpoints,
		Calls:       []rpc.Call{blockNumber},
		Requests:    requests,
		Concurrency: concurrency,
	}
}

func TestPlan_Validate(t *testing.T) {
	assert.NoError(t, plan(1, 1, "http://a").Validate())

	err := Plan{Calls: []rpc.Call{{}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoints")
	assert.Contains(t, err.Error(), "call 0 has no method")
	assert.Contains(t, err.Error(), "requests")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestNewRunner_Validates(t *testing.T) {
	reg := newTestRegistry(t, testEndpointConfig(), nil)

	_, err := NewRunner(nil, newFakeTransport(), noRetry(), Options{})
	assert.Error(t, err)

	cfg := noRetry()
	cfg.Retry.MaxAttempts = 0
	_, err = NewRunner(reg, newFakeTransport(), cfg, Options{})
	assert.Error(t, err)

	cfg = noRetry()
	cfg.Weights.Latency = 0.9
	_, err = NewRunner(reg, newFakeTransport(), cfg, Options{})
	assert.Error(t, err)
}

func TestRunner_AllSucceed(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)
	tr := newFakeTransport()

	res, err := newTestRunner(t, reg, tr, noRetry(), clk).Run(context.Background(), plan(20, 4, "http://a", "http://b"))
	require.NoError(t, err)

	assert.False(t, res.Cancelled)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Endpoints, 2)
	for _, er := range res.Endpoints {
		assert.Equal(t, 20, er.Stats.Count, er.Endpoint)
		assert.Equal(t, 20, er.Stats.Successes, er.Endpoint)
		assert.Equal(t, 1.0, er.Stats.SuccessRate)
		require.Len(t, er.Methods, 1)
		assert.Equal(t, "eth_blockNumber", er.Methods[0].Method)
		require.Len(t, er.Breakers, 1)
		assert.Equal(t, breaker.StateClosed, er.Breakers[0].State)
	}
	assert.Equal(t, 20, tr.count("http://a"))
	require.Len(t, res.Score.Scores, 2)
	assert.Equal(t, 1, res.Score.Scores[0].Rank)
}

func TestRunner_StatsCoverRunsLargerThanRecorder(t *testing.T) {
	clk := clock.NewManual(epoch)
	cfg := testEndpointConfig()
	cfg.Recorder.Capacity = 16
	reg := newTestRegistry(t, cfg, clk)
	tr := newFakeTransport()
	runner := newTestRunner(t, reg, tr, noRetry(), clk)

	res, err := runner.Run(context.Background(), plan(50, 4, "http://a"))
	require.NoError(t, err)

	er, ok := res.Endpoint("http://a")
	require.True(t, ok)
	assert.Equal(t, 50, tr.count("http://a"))
	assert.Equal(t, 50, er.Stats.Count)
	assert.Equal(t, 50, er.Stats.Successes)
	assert.Equal(t, 50, er.Methods[0].Stats.Count)

	ep, _ := reg.Lookup("http://a")
	assert.Equal(t, 16, ep.Recorder("eth_blockNumber").Len())

	// A second run on the same registry reports only its own attempts.
	res, err = runner.Run(context.Background(), plan(5, 2, "http://a"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Endpoints[0].Stats.Count)
}

func TestRunner_UnreachableEndpointOpensBreaker(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)
	tr := newFakeTransport()
	tr.handle("http://down", func(rpc.Call) error {
		return errors.New("connection refused")
	})

	cfg := noRetry()
	cfg.LatencyTarget = time.Second
	res, err := newTestRunner(t, reg, tr, cfg, clk).Run(context.Background(), plan(50, 1, "http://up", "http://down"))
	require.NoError(t, err)

	down, ok := res.Endpoint("http://down")
	require.True(t, ok)
	assert.Equal(t, 50, down.Stats.Count)
	assert.Equal(t, 10, down.Stats.Failures)
	assert.Equal(t, 40, down.Stats.Rejected)
	assert.Equal(t, 40, down.Stats.Rejections[rpc.RejectCircuitOpen])
	assert.Zero(t, down.Stats.SuccessRate)
	assert.Equal(t, down.Stats.Count, down.Stats.Successes+down.Stats.Failed()+down.Stats.Rejected)
	assert.Equal(t, 10, tr.count("http://down"), "no transport calls while open")
	assert.Equal(t, breaker.StateOpen, down.Breakers[0].State)
	assert.Equal(t, health.StatusUnhealthy, down.Health.Status)

	up, ok := res.Endpoint("http://up")
	require.True(t, ok)
	assert.Equal(t, 50, up.Stats.Successes, "failures are isolated per endpoint")

	assert.Equal(t, "http://up", res.Score.Scores[0].Endpoint)
}

func TestRunner_RetriesAddAttemptsBreakerSeesFinalOutcome(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)

	var n atomic.Int64
	tr := newFakeTransport()
	tr.handle("http://a", func(rpc.Call) error {
		if n.Add(1)%2 == 1 {
			return rpc.Transient(errors.New("reset"))
		}
		return nil
	})

	cfg := noRetry()
	cfg.Retry = retry.Policy{MaxAttempts: 2}
	res, err := newTestRunner(t, reg, tr, cfg, clk).Run(context.Background(), plan(10, 1, "http://a"))
	require.NoError(t, err)

	er := res.Endpoints[0]
	assert.Equal(t, 20, er.Stats.Count)
	assert.Equal(t, 10, er.Stats.Successes)
	assert.Equal(t, 10, er.Stats.Failures)
	assert.GreaterOrEqual(t, er.Stats.Count, 10)

	snap := er.Breakers[0]
	assert.Equal(t, breaker.StateClosed, snap.State)
	assert.Equal(t, 10, snap.Successes)
	assert.Zero(t, snap.Failures)
}

func TestRunner_FatalErrorExcludesEndpoint(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)
	tr := newFakeTransport()
	tr.handle("http://bad", func(rpc.Call) error {
		return rpc.Fatal(-32601, "method not found")
	})

	res, err := newTestRunner(t, reg, tr, noRetry(), clk).Run(context.Background(), plan(5, 1, "http://bad", "http://good"))
	require.NoError(t, err)

	bad, _ := res.Endpoint("http://bad")
	assert.Equal(t, 1, bad.Stats.Failures)
	assert.Equal(t, 4, bad.Stats.Rejections[rpc.RejectExcluded])
	assert.Equal(t, 1, tr.count("http://bad"))
	require.Error(t, bad.Err)
	assert.NotEmpty(t, bad.Error)

	require.Len(t, res.Errors, 1)
	var rpcErr *rpc.Error
	require.ErrorAs(t, res.Errors[0], &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)

	good, _ := res.Endpoint("http://good")
	assert.Equal(t, 5, good.Stats.Successes)

	reg.Endpoint("http://bad").Reinstate()
	assert.Nil(t, reg.Endpoint("http://bad").Excluded())
}

func TestRunner_CancelledRunStillReports(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestRunner(t, reg, tr, noRetry(), clk).Run(ctx, plan(100, 4, "http://a"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Endpoints, 1)
	assert.Zero(t, res.Endpoints[0].Stats.Count)
	assert.Zero(t, tr.count("http://a"))
}

func TestRunner_BulkheadCapsInFlight(t *testing.T) {
	clk := clock.NewManual(epoch)
	cfg := testEndpointConfig()
	cfg.Bulkhead = breaker.BulkheadConfig{MaxConcurrent: 2, Mode: breaker.BulkheadReject}
	reg := newTestRegistry(t, cfg, clk)

	var inFlight, peak atomic.Int64
	tr := newFakeTransport()
	tr.handle("http://a", func(rpc.Call) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	res, err := newTestRunner(t, reg, tr, noRetry(), clk).Run(context.Background(), plan(40, 8, "http://a"))
	require.NoError(t, err)

	er := res.Endpoints[0]
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, 40, er.Stats.Successes+er.Stats.Rejected)
	assert.Equal(t, er.Stats.Rejected, er.Stats.Rejections[rpc.RejectBulkheadFull])
	assert.Zero(t, er.Bulkhead.InFlight)
}

func TestRunner_RegressionAgainstBaseline(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)
	tr := newFakeTransport()
	tr.handle("http://a", func(rpc.Call) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	fast := time.Microsecond
	baseline := regression.Baseline{
		Endpoint: "http://a",
		Method:   blockNumber.Method,
		Stats: stats.Stats{
			Endpoint:    "http://a",
			Method:      blockNumber.Method,
			Count:       10,
			Successes:   10,
			SuccessRate: 1,
			Latency:     &stats.LatencyStats{Mean: fast, P50: fast, P90: fast, P95: fast, P99: fast},
			Start:       epoch.Add(-2 * time.Hour),
			End:         epoch.Add(-time.Hour),
		},
	}

	p := plan(5, 1, "http://a")
	p.Baselines = regression.NewMemoryStore(baseline)
	res, err := newTestRunner(t, reg, tr, noRetry(), clk).Run(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, res.Regressions, 1)
	assert.True(t, res.Regressed())
	assert.Equal(t, regression.SeverityCritical, res.Regressions[0].Severity)
	require.NotNil(t, res.Endpoints[0].Methods[0].Regression)
}

func TestRunner_AnalysisExtras(t *testing.T) {
	clk := clock.NewManual(epoch)
	reg := newTestRegistry(t, testEndpointConfig(), clk)

	cfg := noRetry()
	cfg.ApdexThreshold = time.Second
	sla := stats.DefaultSLATarget()
	cfg.SLA = &sla

	res, err := newTestRunner(t, reg, newFakeTransport(), cfg, clk).Run(context.Background(), plan(10, 2, "http://a"))
	require.NoError(t, err)

	mr := res.Endpoints[0].Methods[0]
	require.NotNil(t, mr.Apdex)
	assert.Equal(t, 10, mr.Apdex.Satisfied)
	require.NotNil(t, mr.SLA)
	assert.True(t, mr.SLA.Compliant)
	assert.NotNil(t, mr.Trend)

	baselines := res.Baselines("nightly")
	require.Len(t, baselines, 1)
	assert.Equal(t, "nightly", baselines[0].Label)
	assert.Equal(t, 10, baselines[0].Stats.Count)
}

func TestRunner_Metrics(t *testing.T) {
	clk := clock.NewManual(epoch)
	scope := tally.NewTestScope("", nil)
	reg, err := NewRegistry(testEndpointConfig(), Options{Clock: clk, Scope: scope})
	require.NoError(t, err)

	r, err := NewRunner(reg, newFakeTransport(), noRetry(), Options{Clock: clk, Scope: scope})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), plan(3, 1, "http://a"))
	require.NoError(t, err)

	counts := map[string]int64{}
	for _, c := range scope.Snapshot().Counters() {
		counts[c.Name()] += c.Value()
	}
	assert.Equal(t, int64(3), counts["runner.calls"])
	assert.Equal(t, int64(3), counts["retry.attempts"])
}
