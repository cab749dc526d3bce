package config

import (
	"time"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rate"
	"github.com/wesleyorama2/rpcbench/internal/regression"
	"github.com/wesleyorama2/rpcbench/internal/retry"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
	"github.com/wesleyorama2/rpcbench/internal/rpc/jsonrpc"
	"github.com/wesleyorama2/rpcbench/internal/score"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// URLs returns the endpoint URLs in configuration order.
func (c *Config) URLs() []string {
	out := make([]string, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		out[i] = ep.URL
	}
	return out
}

// ToCalls converts the configured calls.
func (c *Config) ToCalls() []rpc.Call {
	out := make([]rpc.Call, len(c.Calls))
	for i, call := range c.Calls {
		out[i] = rpc.Call{Method: call.Method, Params: call.Params}
	}
	return out
}

// TransportOptions returns options for the JSON-RPC transport.
func (c *Config) TransportOptions() []jsonrpc.Option {
	var opts []jsonrpc.Option
	for k, v := range c.Transport.Headers {
		opts = append(opts, jsonrpc.WithHeader(k, v))
	}
	return opts
}

// ToEndpointConfig converts the global admission and health settings.
func (c *Config) ToEndpointConfig() engine.EndpointConfig {
	cfg := engine.DefaultEndpointConfig()
	cfg.Limiter = c.RateLimit.toRate()
	cfg.Breaker = c.CircuitBreaker.toBreaker()
	cfg.Granularity = engine.Granularity(c.CircuitBreaker.Granularity)
	cfg.Bulkhead = c.Bulkhead.toBulkhead()
	cfg.Health = c.Health.toThresholds()
	return cfg
}

// EndpointOverrides returns the per-endpoint configurations that differ from
// the global one, keyed by URL.
func (c *Config) EndpointOverrides() map[string]engine.EndpointConfig {
	out := make(map[string]engine.EndpointConfig)
	for _, ep := range c.Endpoints {
		if ep.RateLimit == nil && ep.Bulkhead == nil {
			continue
		}
		cfg := c.ToEndpointConfig()
		if ep.RateLimit != nil {
			cfg.Limiter = ep.RateLimit.toRate()
		}
		if ep.Bulkhead != nil {
			cfg.Bulkhead = ep.Bulkhead.toBulkhead()
		}
		out[ep.URL] = cfg
	}
	return out
}

// NewRegistry builds a registry with the global config and every override.
func (c *Config) NewRegistry(opts engine.Options) (*engine.Registry, error) {
	reg, err := engine.NewRegistry(c.ToEndpointConfig(), opts)
	if err != nil {
		return nil, err
	}
	for url, cfg := range c.EndpointOverrides() {
		if err := reg.Configure(url, cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ToRunnerConfig converts the retry, regression, scoring and analysis
// settings.
func (c *Config) ToRunnerConfig() engine.RunnerConfig {
	cfg := engine.DefaultRunnerConfig()
	cfg.Retry = c.Retry.toPolicy()
	cfg.CallTimeout = time.Duration(c.Load.Timeout)
	cfg.Regression = c.Regression.toThresholds()
	cfg.ChangePoint = regression.ChangePointConfig{
		Window:    c.Regression.ChangePoint.Window,
		Threshold: c.Regression.ChangePoint.Threshold,
	}
	cfg.Weights = c.Scoring.toWeights()
	cfg.LatencyTarget = time.Duration(c.Scoring.LatencyTarget)
	cfg.ThroughputTarget = c.Scoring.ThroughputTarget
	cfg.ApdexThreshold = time.Duration(c.Analysis.ApdexThreshold)
	cfg.OutlierMethod = stats.OutlierMethod(c.Analysis.OutlierMethod)
	if sla := c.Analysis.SLA; sla != nil {
		target := stats.DefaultSLATarget()
		if sla.MaxLatency > 0 {
			target.MaxLatency = time.Duration(sla.MaxLatency)
		}
		if sla.Percentile > 0 {
			target.Percentile = sla.Percentile
		}
		if sla.MinSuccessRate > 0 {
			target.MinSuccessRate = sla.MinSuccessRate
		}
		if sla.RequiredCompliance > 0 {
			target.RequiredCompliance = sla.RequiredCompliance
		}
		cfg.SLA = &target
	}
	return cfg
}

// ToPlan builds the benchmark plan. baselines may be nil.
func (c *Config) ToPlan(baselines regression.BaselineStore) engine.Plan {
	return engine.Plan{
		Name:        c.Name,
		Endpoints:   c.URLs(),
		Calls:       c.ToCalls(),
		Requests:    c.Load.Requests,
		Concurrency: c.Load.Concurrency,
		Baselines:   baselines,
	}
}

// ToMonitorConfig converts the health probe settings.
func (c *Config) ToMonitorConfig() engine.MonitorConfig {
	return engine.MonitorConfig{
		Interval: time.Duration(c.Health.Interval),
		Timeout:  time.Duration(c.Health.Timeout),
		Probe:    rpc.Call{Method: c.Health.Method, Params: c.Health.Params},
	}
}

// LoadBaselineStore loads the configured baseline file, or returns nil if
// none is configured.
func (c *Config) LoadBaselineStore() (regression.BaselineStore, error) {
	if c.Regression.BaselineFile == "" {
		return nil, nil
	}
	baselines, err := regression.LoadBaselines(c.Regression.BaselineFile)
	if err != nil {
		return nil, err
	}
	return regression.NewMemoryStore(baselines...), nil
}

func (r RateLimitConfig) toRate() rate.Config {
	return rate.Config{
		Algorithm: rate.Algorithm(r.Algorithm),
		Rate:      r.Rate,
		Burst:     r.Burst,
		Limit:     r.Limit,
		Window:    time.Duration(r.Window),
		Adaptive: rate.AdaptiveConfig{
			InitialRate:      r.Adaptive.InitialRate,
			MinRate:          r.Adaptive.MinRate,
			MaxRate:          r.Adaptive.MaxRate,
			Burst:            r.Burst,
			ErrorThreshold:   r.Adaptive.ErrorThreshold,
			DecreaseFactor:   r.Adaptive.DecreaseFactor,
			IncreaseStep:     r.Adaptive.IncreaseStep,
			EvaluationWindow: r.Adaptive.EvaluationWindow,
		},
	}
}

func (b BreakerConfig) toBreaker() breaker.Config {
	cfg := breaker.Config{
		FailureThreshold:  b.FailureThreshold,
		WindowSize:        b.WindowSize,
		MinimumThroughput: b.MinimumThroughput,
		CooldownPeriod:    time.Duration(b.Cooldown),
		TrialCount:        b.TrialCount,
		SuccessesToClose:  b.SuccessesToClose,
		Adaptive:          breaker.DefaultAdaptiveConfig(),
	}

	a := b.Adaptive
	cfg.Adaptive.Enabled = a.Enabled
	if a.Margin > 0 {
		cfg.Adaptive.Margin = a.Margin
	}
	if a.Decay > 0 {
		cfg.Adaptive.Decay = a.Decay
	}
	if a.RecomputeEvery > 0 {
		cfg.Adaptive.RecomputeEvery = a.RecomputeEvery
	}
	if a.MinThreshold > 0 {
		cfg.Adaptive.MinThreshold = a.MinThreshold
	}
	if a.MaxThreshold > 0 {
		cfg.Adaptive.MaxThreshold = a.MaxThreshold
	}
	return cfg
}

func (b BulkheadConfig) toBulkhead() breaker.BulkheadConfig {
	return breaker.BulkheadConfig{
		MaxConcurrent: b.MaxConcurrent,
		Mode:          breaker.BulkheadMode(b.Mode),
		MaxQueue:      b.MaxQueue,
		QueueTimeout:  time.Duration(b.QueueTimeout),
	}
}

func (h HealthConfig) toThresholds() health.Thresholds {
	return health.Thresholds{
		DegradedErrorRate:            h.DegradedErrorRate,
		UnhealthyErrorRate:           h.UnhealthyErrorRate,
		UnhealthyConsecutiveFailures: h.UnhealthyConsecutiveFailures,
		RollingWindow:                h.RollingWindow,
		Retention:                    time.Duration(h.Retention),
		DegradedLatency:              time.Duration(h.DegradedLatency),
	}
}

func (r RetryConfig) toPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      time.Duration(r.BaseDelay),
		MaxDelay:       time.Duration(r.MaxDelay),
		Jitter:         r.Jitter == nil || *r.Jitter,
		RetryableCodes: r.RetryableCodes,
	}
}

func (r RegressionConfig) toThresholds() regression.Thresholds {
	th := regression.DefaultThresholds()
	th.LatencyMetric = regression.Metric(r.Metric)
	if r.Latency != nil {
		th.Latency = r.Latency.toCuts()
	}
	if r.SuccessRate != nil {
		th.SuccessRate = r.SuccessRate.toCuts()
	}
	th.SuccessRateFloor = r.SuccessRateFloor
	return th
}

func (s SeverityCutsConfig) toCuts() regression.SeverityCuts {
	return regression.SeverityCuts{Low: s.Low, Medium: s.Medium, High: s.High, Critical: s.Critical}
}

func (s ScoringConfig) toWeights() score.Weights {
	if s.Weights == nil {
		return score.DefaultWeights()
	}
	return score.Weights{
		Latency:      s.Weights.Latency,
		SuccessRate:  s.Weights.SuccessRate,
		Consistency:  s.Weights.Consistency,
		Availability: s.Weights.Availability,
		Throughput:   s.Weights.Throughput,
	}
}
