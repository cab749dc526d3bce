package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rate"
	"github.com/wesleyorama2/rpcbench/internal/regression"
	"github.com/wesleyorama2/rpcbench/internal/retry"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
	"github.com/wesleyorama2/rpcbench/internal/score"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// RunnerConfig configures call execution and result analysis.
type RunnerConfig struct {
	Retry retry.Policy

	// CallTimeout bounds each physical attempt (0 means no bound)
	CallTimeout time.Duration

	Regression  regression.Thresholds
	ChangePoint regression.ChangePointConfig

	Weights          score.Weights
	LatencyTarget    time.Duration
	ThroughputTarget float64

	// ApdexThreshold enables APDEX scoring per method when > 0
	ApdexThreshold time.Duration

	// SLA enables SLA evaluation per method when set
	SLA *stats.SLATarget

	// OutlierMethod selects the outlier detector (empty uses IQR)
	OutlierMethod stats.OutlierMethod
}

// DefaultRunnerConfig returns the default retry policy, regression
// thresholds and scoring weights. APDEX and SLA are off.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Retry:         retry.DefaultPolicy(),
		CallTimeout:   10 * time.Second,
		Regression:    regression.DefaultThresholds(),
		ChangePoint:   regression.DefaultChangePointConfig(),
		Weights:       score.DefaultWeights(),
		OutlierMethod: stats.OutlierIQR,
	}
}

// Plan describes one benchmark run.
type Plan struct {
	Name string

	// Endpoints are the targets. Every call is issued to each of them.
	Endpoints []string
	Calls     []rpc.Call

	// Requests is the number of logical calls per endpoint and call
	Requests int

	// Concurrency is the number of workers shared by all endpoints
	Concurrency int

	// Baselines is the regression reference (nil skips comparison)
	Baselines regression.BaselineStore
}

// Validate checks the plan.
func (p Plan) Validate() error {
	var errs []error
	if len(p.Endpoints) == 0 {
		errs = append(errs, errors.New("plan has no endpoints"))
	}
	if len(p.Calls) == 0 {
		errs = append(errs, errors.New("plan has no calls"))
	}
	for i, c := range p.Calls {
		if c.Method == "" {
			errs = append(errs, fmt.Errorf("call %d has no method", i))
		}
	}
	if p.Requests < 1 {
		errs = append(errs, fmt.Errorf("requests must be >= 1, got %d", p.Requests))
	}
	if p.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", p.Concurrency))
	}
	return errors.Join(errs...)
}

// MethodResult holds the analysis of one endpoint+method.
type MethodResult struct {
	Method string      `json:"method"`
	Stats  stats.Stats `json:"stats"`

	Apdex        *stats.ApdexScore        `json:"apdex,omitempty"`
	SLA          *stats.SLAResult         `json:"sla,omitempty"`
	Outliers     int                      `json:"outliers"`
	Trend        *stats.TrendResult       `json:"trend,omitempty"`
	ChangePoints []regression.ChangePoint `json:"changePoints,omitempty"`
	Regression   *regression.Report       `json:"regression,omitempty"`
}

// EndpointResult holds everything measured for one endpoint.
type EndpointResult struct {
	Endpoint string `json:"endpoint"`

	// Stats aggregates every method
	Stats   stats.Stats    `json:"stats"`
	Methods []MethodResult `json:"methods"`

	Breakers []breaker.Snapshot       `json:"breakers"`
	Limiter  rate.Snapshot            `json:"limiter"`
	Bulkhead breaker.BulkheadSnapshot `json:"bulkhead"`
	Health   health.Summary           `json:"health"`

	// Err is the fatal error that excluded the endpoint, if any
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// RunResult is the outcome of Runner.Run.
type RunResult struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
	Cancelled bool          `json:"cancelled"`

	Endpoints   []EndpointResult    `json:"endpoints"`
	Regressions []regression.Report `json:"regressions,omitempty"`
	Score       score.Report        `json:"score"`

	// Errors lists fatal endpoint errors. They never abort the run.
	Errors []error `json:"-"`
}

// Regressed reports whether any comparison found a regression.
func (r *RunResult) Regressed() bool {
	for _, rep := range r.Regressions {
		if rep.Regressed {
			return true
		}
	}
	return false
}

// Endpoint returns the result for id.
func (r *RunResult) Endpoint(id string) (EndpointResult, bool) {
	for _, e := range r.Endpoints {
		if e.Endpoint == id {
			return e, true
		}
	}
	return EndpointResult{}, false
}

// Runner executes benchmark plans against a Registry.
type Runner struct {
	registry  *Registry
	transport rpc.Transport
	cfg       RunnerConfig
	opts      Options
	retrier   *retry.Coordinator
	scorer    *score.Scorer

	calls tally.Counter
}

// NewRunner creates a Runner.
func NewRunner(registry *Registry, transport rpc.Transport, cfg RunnerConfig, opts Options) (*Runner, error) {
	if registry == nil || transport == nil {
		return nil, errors.New("runner needs a registry and a transport")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if err := cfg.Regression.Validate(); err != nil {
		return nil, fmt.Errorf("invalid regression thresholds: %w", err)
	}
	if cfg.OutlierMethod == "" {
		cfg.OutlierMethod = stats.OutlierIQR
	}

	scorer, err := score.NewScorer(cfg.Weights,
		score.WithLatencyTarget(cfg.LatencyTarget),
		score.WithThroughputTarget(cfg.ThroughputTarget))
	if err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}

	opts = opts.withDefaults()
	return &Runner{
		registry:  registry,
		transport: transport,
		cfg:       cfg,
		opts:      opts,
		retrier: retry.NewCoordinator(cfg.Retry, retry.Options{
			CallTimeout: cfg.CallTimeout,
			Clock:       opts.Clock,
			Logger:      opts.Logger,
			Scope:       opts.Scope,
		}),
		scorer: scorer,
		calls:  opts.Scope.SubScope("runner").Counter("calls"),
	}, nil
}

type job struct {
	endpoint *Endpoint
	call     rpc.Call
}

// Run executes plan and analyzes the results. It returns an error only for
// an invalid plan; endpoint failures, fatal errors and cancellation are part
// of the result.
func (r *Runner) Run(ctx context.Context, plan Plan) (*RunResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	result := &RunResult{ID: uuid.New(), Name: plan.Name}
	logger := r.opts.Logger.With(zap.String("run", result.ID.String()))

	endpoints := make([]*Endpoint, len(plan.Endpoints))
	for i, id := range plan.Endpoints {
		endpoints[i] = r.registry.Endpoint(id)
	}
	r.seedBreakers(endpoints, plan)

	result.Start = r.opts.Clock.Now()
	logger.Info("benchmark started",
		zap.String("name", plan.Name),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("calls", len(plan.Calls)),
		zap.Int("requests", plan.Requests),
		zap.Int("concurrency", plan.Concurrency),
	)

	jobs := make(chan job)
	collected := newCollector()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		// Interleave endpoints so they progress together.
		for i := 0; i < plan.Requests; i++ {
			for _, call := range plan.Calls {
				for _, ep := range endpoints {
					select {
					case jobs <- job{endpoint: ep, call: call}:
					case <-gctx.Done():
						return nil
					}
				}
			}
		}
		return nil
	})

	for w := 0; w < plan.Concurrency; w++ {
		g.Go(func() error {
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				r.execute(ctx, collected, j.endpoint, j.call)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.End = r.opts.Clock.Now()
	result.Duration = result.End.Sub(result.Start)
	result.Cancelled = ctx.Err() != nil

	r.analyze(result, collected, endpoints, plan)

	logger.Info("benchmark finished",
		zap.Duration("duration", result.Duration),
		zap.Bool("cancelled", result.Cancelled),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// execute runs one logical call. Each physical attempt, or the rejection,
// lands in the endpoint's recorder and the run's collector; the breaker sees
// the final outcome once.
func (r *Runner) execute(ctx context.Context, collected *collector, ep *Endpoint, call rpc.Call) {
	r.calls.Inc(1)
	rec := ep.Recorder(call.Method)

	permit, reason, err := ep.Admit(ctx, call.Method)
	if err != nil {
		// cancelled while queued in the bulkhead
		return
	}
	if permit == nil {
		rejected := rpc.Rejected(ep.ID(), call, r.opts.Clock.Now(), reason)
		rec.Record(rejected)
		collected.add(ep.ID(), call.Method, rejected)
		return
	}

	res := r.retrier.Do(ctx, ep.ID(), call, func(ctx context.Context) error {
		return r.transport.Invoke(ctx, ep.ID(), call)
	})
	if len(res.Attempts) == 0 {
		permit.Cancel()
		return
	}

	for _, a := range res.Attempts {
		rec.Record(a)
	}
	collected.add(ep.ID(), call.Method, res.Attempts...)
	permit.Done(res.Succeeded())

	if res.Err != nil && res.Err.Kind == rpc.KindFatal {
		ep.Exclude(res.Err)
	}
}

// seedBreakers feeds baseline error rates to adaptive breakers.
func (r *Runner) seedBreakers(endpoints []*Endpoint, plan Plan) {
	if plan.Baselines == nil {
		return
	}
	now := r.opts.Clock.Now()
	for _, ep := range endpoints {
		if !ep.Config().Breaker.Adaptive.Enabled {
			continue
		}
		for _, call := range plan.Calls {
			if b, ok := plan.Baselines.Latest(ep.ID(), call.Method, now); ok {
				ep.Breaker(call.Method).SetBaselineErrorRate(b.Stats.ErrorRate)
			}
		}
	}
}

func (r *Runner) analyze(result *RunResult, collected *collector, endpoints []*Endpoint, plan Plan) {
	methods := uniqueMethods(plan.Calls)
	inputs := make([]score.Input, 0, len(endpoints))

	for _, ep := range endpoints {
		er := EndpointResult{Endpoint: ep.ID()}
		var all []rpc.RequestAttempt

		for _, method := range methods {
			w := stats.Window{
				Endpoint: ep.ID(),
				Method:   method,
				Attempts: collected.get(ep.ID(), method),
				Start:    result.Start,
				End:      result.End,
			}
			all = append(all, w.Attempts...)

			mr := r.analyzeMethod(w, result.Start, plan.Baselines)
			if mr.Regression != nil {
				result.Regressions = append(result.Regressions, *mr.Regression)
			}
			er.Methods = append(er.Methods, mr)
		}

		er.Stats = stats.Summarize(stats.Window{
			Endpoint: ep.ID(),
			Attempts: all,
			Start:    result.Start,
			End:      result.End,
		})
		for _, b := range ep.Breakers() {
			er.Breakers = append(er.Breakers, b.Snapshot())
		}
		er.Limiter = ep.Limiter().Snapshot()
		er.Bulkhead = ep.Bulkhead().Snapshot()
		er.Health = ep.HealthSummary(methods[0])

		if err := ep.Excluded(); err != nil {
			er.Err = err
			er.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Errorf("endpoint %s: %w", ep.ID(), err))
		}
		result.Endpoints = append(result.Endpoints, er)

		in := score.Input{Endpoint: ep.ID(), Stats: er.Stats}
		if counted := er.Health.TotalProbes - er.Health.SkippedProbes; counted > 0 {
			uptime := er.Health.Uptime
			in.Availability = &uptime
		}
		inputs = append(inputs, in)
	}

	result.Score = r.scorer.Score(inputs)
}

func (r *Runner) analyzeMethod(w stats.Window, start time.Time, baselines regression.BaselineStore) MethodResult {
	mr := MethodResult{Method: w.Method, Stats: stats.Summarize(w)}
	latencies := w.Latencies()
	if len(latencies) == 0 {
		return mr
	}

	if r.cfg.ApdexThreshold > 0 {
		if a, err := stats.Apdex(latencies, r.cfg.ApdexThreshold); err == nil {
			mr.Apdex = &a
		}
	}
	if r.cfg.SLA != nil {
		if s, err := stats.SLA(w, *r.cfg.SLA); err == nil {
			mr.SLA = &s
		}
	}

	series := stats.Milliseconds(latencies)
	if idx, err := stats.Outliers(series, r.cfg.OutlierMethod, 0); err == nil {
		mr.Outliers = len(idx)
	}
	trend := stats.Trend(series)
	mr.Trend = &trend
	mr.ChangePoints = regression.DetectChangePoints(series, r.cfg.ChangePoint)

	if baselines == nil {
		return mr
	}
	b, ok := baselines.Latest(w.Endpoint, w.Method, start)
	if !ok {
		return mr
	}
	report, err := regression.Compare(mr.Stats, b, r.cfg.Regression)
	if err != nil {
		r.opts.Logger.Debug("regression comparison skipped",
			zap.String("endpoint", w.Endpoint),
			zap.String("method", w.Method),
			zap.Error(err),
		)
		return mr
	}
	if report.Regressed {
		r.opts.Logger.Warn("performance regression detected",
			zap.String("endpoint", w.Endpoint),
			zap.String("method", w.Method),
			zap.Stringer("severity", report.Severity),
		)
	}
	mr.Regression = &report
	return mr
}

// Baselines captures the run's per-method stats as baselines.
func (r *RunResult) Baselines(label string) []regression.Baseline {
	var out []regression.Baseline
	for _, e := range r.Endpoints {
		for _, m := range e.Methods {
			if m.Stats.Count == 0 {
				continue
			}
			out = append(out, regression.NewBaseline(m.Stats, label, r.End))
		}
	}
	return out
}

func uniqueMethods(calls []rpc.Call) []string {
	seen := make(map[string]struct{}, len(calls))
	var out []string
	for _, c := range calls {
		if _, ok := seen[c.Method]; ok {
			continue
		}
		seen[c.Method] = struct{}{}
		out = append(out, c.Method)
	}
	return out
}
