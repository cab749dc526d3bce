// Package config loads and validates rpcbench configuration files.
//
// Example YAML:
//
//	name: "nightly"
//	endpoints:
//	  - url: "https://rpc-a.example.com"
//	  - url: "https://rpc-b.example.com"
//	calls:
//	  - method: eth_blockNumber
//	  - method: eth_getBalance
//	    params: ["0x0000000000000000000000000000000000000000", "latest"]
//	load:
//	  requests: 200
//	  concurrency: 16
//	  timeout: 5s
//	rateLimit:
//	  algorithm: token_bucket
//	  rate: 50
//	  burst: 10
//	circuitBreaker:
//	  failureThreshold: 0.5
//	  cooldown: 30s
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Endpoints are the targets
	Endpoints []EndpointConfig `json:"endpoints" yaml:"endpoints"`

	// Calls are issued to every endpoint
	Calls []CallConfig `json:"calls" yaml:"calls"`

	Load           WorkloadConfig   `json:"load,omitempty" yaml:"load,omitempty"`
	Transport      TransportConfig  `json:"transport,omitempty" yaml:"transport,omitempty"`
	Retry          RetryConfig      `json:"retry,omitempty" yaml:"retry,omitempty"`
	RateLimit      RateLimitConfig  `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	CircuitBreaker BreakerConfig    `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	Bulkhead       BulkheadConfig   `json:"bulkhead,omitempty" yaml:"bulkhead,omitempty"`
	Health         HealthConfig     `json:"health,omitempty" yaml:"health,omitempty"`
	Regression     RegressionConfig `json:"regression,omitempty" yaml:"regression,omitempty"`
	Scoring        ScoringConfig    `json:"scoring,omitempty" yaml:"scoring,omitempty"`
	Analysis       AnalysisConfig   `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// EndpointConfig identifies one endpoint and optionally overrides the
// global admission settings for it.
type EndpointConfig struct {
	URL string `json:"url" yaml:"url"`

	// Name is a display name (defaults to the URL)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	RateLimit *RateLimitConfig `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	Bulkhead  *BulkheadConfig  `json:"bulkhead,omitempty" yaml:"bulkhead,omitempty"`
}

// CallConfig is one remote procedure call.
type CallConfig struct {
	Method string `json:"method" yaml:"method"`
	Params []any  `json:"params,omitempty" yaml:"params,omitempty"`
}

// WorkloadConfig controls how many calls are issued.
type WorkloadConfig struct {
	// Requests is the number of logical calls per endpoint and call
	Requests int `json:"requests,omitempty" yaml:"requests,omitempty"`

	// Concurrency is the size of the worker pool
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Timeout bounds each physical attempt
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TransportConfig configures the JSON-RPC transport.
type TransportConfig struct {
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// RetryConfig is the retry policy.
type RetryConfig struct {
	MaxAttempts int      `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	BaseDelay   Duration `json:"baseDelay,omitempty" yaml:"baseDelay,omitempty"`
	MaxDelay    Duration `json:"maxDelay,omitempty" yaml:"maxDelay,omitempty"`

	// Jitter defaults to true
	Jitter *bool `json:"jitter,omitempty" yaml:"jitter,omitempty"`

	RetryableCodes []int `json:"retryableCodes,omitempty" yaml:"retryableCodes,omitempty"`
}

// RateLimitConfig selects the limiter algorithm.
type RateLimitConfig struct {
	// Algorithm: "none", "token_bucket", "sliding_window", "adaptive"
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`

	Rate  float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`

	Limit  int      `json:"limit,omitempty" yaml:"limit,omitempty"`
	Window Duration `json:"window,omitempty" yaml:"window,omitempty"`

	Adaptive AdaptiveRateConfig `json:"adaptive,omitempty" yaml:"adaptive,omitempty"`
}

// AdaptiveRateConfig parameterizes the AIMD limiter.
type AdaptiveRateConfig struct {
	InitialRate      float64 `json:"initialRate,omitempty" yaml:"initialRate,omitempty"`
	MinRate          float64 `json:"minRate,omitempty" yaml:"minRate,omitempty"`
	MaxRate          float64 `json:"maxRate,omitempty" yaml:"maxRate,omitempty"`
	ErrorThreshold   float64 `json:"errorThreshold,omitempty" yaml:"errorThreshold,omitempty"`
	DecreaseFactor   float64 `json:"decreaseFactor,omitempty" yaml:"decreaseFactor,omitempty"`
	IncreaseStep     float64 `json:"increaseStep,omitempty" yaml:"increaseStep,omitempty"`
	EvaluationWindow int     `json:"evaluationWindow,omitempty" yaml:"evaluationWindow,omitempty"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold  float64  `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	WindowSize        int      `json:"windowSize,omitempty" yaml:"windowSize,omitempty"`
	MinimumThroughput int      `json:"minimumThroughput,omitempty" yaml:"minimumThroughput,omitempty"`
	Cooldown          Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	TrialCount        int      `json:"trialCount,omitempty" yaml:"trialCount,omitempty"`
	SuccessesToClose  int      `json:"successesToClose,omitempty" yaml:"successesToClose,omitempty"`

	// Granularity: "endpoint" (default) or "method"
	Granularity string `json:"granularity,omitempty" yaml:"granularity,omitempty"`

	Adaptive AdaptiveBreakerConfig `json:"adaptive,omitempty" yaml:"adaptive,omitempty"`
}

// AdaptiveBreakerConfig derives the threshold from the baseline error rate.
type AdaptiveBreakerConfig struct {
	Enabled        bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Margin         float64 `json:"margin,omitempty" yaml:"margin,omitempty"`
	Decay          float64 `json:"decay,omitempty" yaml:"decay,omitempty"`
	RecomputeEvery int     `json:"recomputeEvery,omitempty" yaml:"recomputeEvery,omitempty"`
	MinThreshold   float64 `json:"minThreshold,omitempty" yaml:"minThreshold,omitempty"`
	MaxThreshold   float64 `json:"maxThreshold,omitempty" yaml:"maxThreshold,omitempty"`
}

// BulkheadConfig caps in-flight calls per endpoint. MaxConcurrent 0 disables it.
type BulkheadConfig struct {
	MaxConcurrent int `json:"maxConcurrent,omitempty" yaml:"maxConcurrent,omitempty"`

	// Mode: "reject" (default) or "queue"
	Mode         string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	MaxQueue     int      `json:"maxQueue,omitempty" yaml:"maxQueue,omitempty"`
	QueueTimeout Duration `json:"queueTimeout,omitempty" yaml:"queueTimeout,omitempty"`
}

// HealthConfig configures the health monitor and its classification.
type HealthConfig struct {
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Method is the probe call (defaults to the first configured call)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Params []any  `json:"params,omitempty" yaml:"params,omitempty"`

	DegradedErrorRate            float64  `json:"degradedErrorRate,omitempty" yaml:"degradedErrorRate,omitempty"`
	UnhealthyErrorRate           float64  `json:"unhealthyErrorRate,omitempty" yaml:"unhealthyErrorRate,omitempty"`
	UnhealthyConsecutiveFailures int      `json:"unhealthyConsecutiveFailures,omitempty" yaml:"unhealthyConsecutiveFailures,omitempty"`
	RollingWindow                int      `json:"rollingWindow,omitempty" yaml:"rollingWindow,omitempty"`
	Retention                    Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
	DegradedLatency              Duration `json:"degradedLatency,omitempty" yaml:"degradedLatency,omitempty"`
}

// RegressionConfig configures baseline comparison.
type RegressionConfig struct {
	// BaselineFile is a YAML or JSON file of baselines (optional)
	BaselineFile string `json:"baselineFile,omitempty" yaml:"baselineFile,omitempty"`

	// Metric is the latency metric compared: mean, p50, p90, p95, p99
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`

	// Latency cut points in percent increase
	Latency *SeverityCutsConfig `json:"latency,omitempty" yaml:"latency,omitempty"`

	// SuccessRate cut points in percentage points dropped
	SuccessRate *SeverityCutsConfig `json:"successRate,omitempty" yaml:"successRate,omitempty"`

	SuccessRateFloor float64 `json:"successRateFloor,omitempty" yaml:"successRateFloor,omitempty"`

	ChangePoint ChangePointConfig `json:"changePoint,omitempty" yaml:"changePoint,omitempty"`
}

// SeverityCutsConfig holds the lower bounds of each severity.
type SeverityCutsConfig struct {
	Low      float64 `json:"low" yaml:"low"`
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// ChangePointConfig configures change-point detection.
type ChangePointConfig struct {
	Window    int     `json:"window,omitempty" yaml:"window,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// ScoringConfig configures endpoint ranking.
type ScoringConfig struct {
	Weights          *WeightsConfig `json:"weights,omitempty" yaml:"weights,omitempty"`
	LatencyTarget    Duration       `json:"latencyTarget,omitempty" yaml:"latencyTarget,omitempty"`
	ThroughputTarget float64        `json:"throughputTarget,omitempty" yaml:"throughputTarget,omitempty"`
}

// WeightsConfig apportions the composite score. The weights must sum to 1.
type WeightsConfig struct {
	Latency      float64 `json:"latency" yaml:"latency"`
	SuccessRate  float64 `json:"successRate" yaml:"successRate"`
	Consistency  float64 `json:"consistency" yaml:"consistency"`
	Availability float64 `json:"availability" yaml:"availability"`
	Throughput   float64 `json:"throughput" yaml:"throughput"`
}

// AnalysisConfig enables optional per-method analysis.
type AnalysisConfig struct {
	ApdexThreshold Duration   `json:"apdexThreshold,omitempty" yaml:"apdexThreshold,omitempty"`
	SLA            *SLAConfig `json:"sla,omitempty" yaml:"sla,omitempty"`

	// OutlierMethod: "iqr" (default) or "zscore"
	OutlierMethod string `json:"outlierMethod,omitempty" yaml:"outlierMethod,omitempty"`
}

// SLAConfig is a service level objective.
type SLAConfig struct {
	MaxLatency         Duration `json:"maxLatency,omitempty" yaml:"maxLatency,omitempty"`
	Percentile         float64  `json:"percentile,omitempty" yaml:"percentile,omitempty"`
	MinSuccessRate     float64  `json:"minSuccessRate,omitempty" yaml:"minSuccessRate,omitempty"`
	RequiredCompliance float64  `json:"requiredCompliance,omitempty" yaml:"requiredCompliance,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
