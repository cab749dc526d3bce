package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "integer with garbage", input: "30abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

const sampleYAML = `
name: "nightly"
endpoints:
  - url: "https://rpc-a.example.com"
  - url: "https://rpc-b.example.com"
    name: "b"
    bulkhead:
      maxConcurrent: 4
calls:
  - method: eth_blockNumber
  - method: eth_getBalance
    params: ["0x0000000000000000000000000000000000000000", "latest"]
load:
  requests: 200
  concurrency: 16
  timeout: 5s
retry:
  maxAttempts: 2
  jitter: false
rateLimit:
  algorithm: token_bucket
  rate: 50
  burst: 10
circuitBreaker:
  failureThreshold: 0.4
  cooldown: 45
`

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(sampleYAML), "bench.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "nightly" {
		t.Errorf("Name = %v, want nightly", config.Name)
	}
	if len(config.Endpoints) != 2 {
		t.Fatalf("Endpoints length = %v, want 2", len(config.Endpoints))
	}
	if config.Endpoints[1].Bulkhead == nil || config.Endpoints[1].Bulkhead.MaxConcurrent != 4 {
		t.Errorf("Endpoints[1].Bulkhead = %+v, want maxConcurrent 4", config.Endpoints[1].Bulkhead)
	}
	if len(config.Calls) != 2 || len(config.Calls[1].Params) != 2 {
		t.Errorf("Calls = %+v, want two calls with params on the second", config.Calls)
	}
	if config.Load.Timeout.GetDuration(0) != 5*time.Second {
		t.Errorf("Load.Timeout = %v, want 5s", config.Load.Timeout)
	}
	if config.CircuitBreaker.Cooldown.GetDuration(0) != 45*time.Second {
		t.Errorf("CircuitBreaker.Cooldown = %v, want 45s", config.CircuitBreaker.Cooldown)
	}
	if config.Retry.Jitter == nil || *config.Retry.Jitter {
		t.Errorf("Retry.Jitter = %v, want false", config.Retry.Jitter)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"endpoints": [{"url": "http://localhost:8545"}],
		"calls": [{"method": "net_version"}],
		"load": {"requests": 5, "timeout": "250ms"},
		"health": {"interval": 10}
	}`

	config, err := ParseConfig([]byte(jsonConfig), "bench.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if config.Load.Requests != 5 {
		t.Errorf("Load.Requests = %v, want 5", config.Load.Requests)
	}
	if config.Load.Timeout.GetDuration(0) != 250*time.Millisecond {
		t.Errorf("Load.Timeout = %v, want 250ms", config.Load.Timeout)
	}
	if config.Health.Interval.GetDuration(0) != 10*time.Second {
		t.Errorf("Health.Interval = %v, want 10s", config.Health.Interval)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte("{not json"), "bench.json"); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := ParseConfig([]byte("load:\n  timeout: forever\n"), "bench.yaml"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &Config{
		Endpoints: []EndpointConfig{{URL: "https://rpc.example.com", RateLimit: &RateLimitConfig{}}},
		Calls:     []CallConfig{{Method: "eth_chainId", Params: []any{}}},
		RateLimit: RateLimitConfig{Algorithm: "sliding_window", Limit: 10, Window: Duration(time.Second)},
	}
	ApplyDefaults(config)

	if config.Name != "rpcbench" {
		t.Errorf("Name = %v, want rpcbench", config.Name)
	}
	if config.Load.Requests != 100 || config.Load.Concurrency != 10 {
		t.Errorf("Load = %+v, want 100 requests and concurrency 10", config.Load)
	}
	if config.Load.Timeout.GetDuration(0) != 10*time.Second {
		t.Errorf("Load.Timeout = %v, want 10s", config.Load.Timeout)
	}
	if config.Retry.MaxAttempts != 3 || config.Retry.Jitter == nil || !*config.Retry.Jitter {
		t.Errorf("Retry = %+v, want 3 attempts with jitter", config.Retry)
	}
	if config.Endpoints[0].Name != "https://rpc.example.com" {
		t.Errorf("Endpoints[0].Name = %v, want the URL", config.Endpoints[0].Name)
	}
	if config.Endpoints[0].RateLimit.Algorithm != "sliding_window" {
		t.Errorf("override algorithm = %v, want inherited sliding_window", config.Endpoints[0].RateLimit.Algorithm)
	}
	if config.CircuitBreaker.FailureThreshold != 0.5 || config.CircuitBreaker.Granularity != "endpoint" {
		t.Errorf("CircuitBreaker = %+v, want threshold 0.5 and endpoint granularity", config.CircuitBreaker)
	}
	if config.CircuitBreaker.SuccessesToClose > config.CircuitBreaker.TrialCount {
		t.Errorf("SuccessesToClose %d exceeds TrialCount %d", config.CircuitBreaker.SuccessesToClose, config.CircuitBreaker.TrialCount)
	}
	if config.Bulkhead.Mode != "reject" {
		t.Errorf("Bulkhead.Mode = %v, want reject", config.Bulkhead.Mode)
	}
	if config.Health.Method != "eth_chainId" {
		t.Errorf("Health.Method = %v, want the first call", config.Health.Method)
	}
	if config.Regression.Metric != "p95" || config.Analysis.OutlierMethod != "iqr" {
		t.Errorf("Regression.Metric = %v, OutlierMethod = %v", config.Regression.Metric, config.Analysis.OutlierMethod)
	}
}

func TestApplyDefaults_SmallWindow(t *testing.T) {
	config := &Config{CircuitBreaker: BreakerConfig{WindowSize: 4, TrialCount: 1}}
	ApplyDefaults(config)

	if config.CircuitBreaker.MinimumThroughput != 4 {
		t.Errorf("MinimumThroughput = %v, want 4", config.CircuitBreaker.MinimumThroughput)
	}
	if config.CircuitBreaker.SuccessesToClose != 1 {
		t.Errorf("SuccessesToClose = %v, want 1", config.CircuitBreaker.SuccessesToClose)
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "bench.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Load.Concurrency != 16 {
		t.Errorf("Load.Concurrency = %v, want 16", config.Load.Concurrency)
	}
	if config.Health.Method != "eth_blockNumber" {
		t.Errorf("Health.Method = %v, want eth_blockNumber", config.Health.Method)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("LoadConfig() error = %v, want read error", err)
	}
}

func TestLoadConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		field   string
	}{
		{
			name:    "missing endpoints",
			file:    "bench.yaml",
			content: "calls:\n  - method: eth_chainId\n",
		},
		{
			name:    "unknown top-level key",
			file:    "bench.yaml",
			content: "endpoints:\n  - url: http://a\ncalls:\n  - method: m\nsettings: {}\n",
		},
		{
			name:    "unknown algorithm",
			file:    "bench.json",
			content: `{"endpoints":[{"url":"http://a"}],"calls":[{"method":"m"}],"rateLimit":{"algorithm":"leaky"}}`,
			field:   "rateLimit.algorithm",
		},
		{
			name:    "bad granularity",
			file:    "bench.yaml",
			content: "endpoints:\n  - url: http://a\ncalls:\n  - method: m\ncircuitBreaker:\n  granularity: host\n",
			field:   "circuitBreaker.granularity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.content))
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("LoadConfig() error = %v, want ValidationErrors", err)
			}
			if tt.field == "" {
				return
			}
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					return
				}
			}
			t.Errorf("no error on field %s in %v", tt.field, verrs)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Endpoints: []EndpointConfig{{URL: "https://a.example.com"}, {URL: "http://b.example.com:8545"}},
			Calls:     []CallConfig{{Method: "eth_blockNumber"}},
		}
		ApplyDefaults(c)
		return c
	}

	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "no endpoints", modify: func(c *Config) { c.Endpoints = nil }, field: "endpoints"},
		{name: "bad scheme", modify: func(c *Config) { c.Endpoints[0].URL = "ws://a.example.com" }, field: "endpoints[0].url"},
		{name: "duplicate", modify: func(c *Config) { c.Endpoints[1].URL = c.Endpoints[0].URL }, field: "endpoints[1].url"},
		{name: "no calls", modify: func(c *Config) { c.Calls = nil }, field: "calls"},
		{name: "empty method", modify: func(c *Config) { c.Calls[0].Method = "" }, field: "calls[0].method"},
		{name: "concurrency too high", modify: func(c *Config) { c.Load.Concurrency = 20000 }, field: "load.concurrency"},
		{name: "base above max delay", modify: func(c *Config) { c.Retry.BaseDelay = Duration(5 * time.Second) }, field: "retry"},
		{name: "token bucket without rate", modify: func(c *Config) { c.RateLimit.Algorithm = "token_bucket" }, field: "rateLimit"},
		{name: "threshold above one", modify: func(c *Config) { c.CircuitBreaker.FailureThreshold = 1.5 }, field: "circuitBreaker"},
		{name: "unknown granularity", modify: func(c *Config) { c.CircuitBreaker.Granularity = "host" }, field: "circuitBreaker.granularity"},
		{name: "unknown bulkhead mode", modify: func(c *Config) { c.Bulkhead.Mode = "drop" }, field: "bulkhead"},
		{
			name:   "endpoint override",
			modify: func(c *Config) { c.Endpoints[1].RateLimit = &RateLimitConfig{Algorithm: "sliding_window"} },
			field:  "endpoints[1].rateLimit",
		},
		{name: "health rates inverted", modify: func(c *Config) { c.Health.DegradedErrorRate = 0.5 }, field: "health"},
		{name: "unknown metric", modify: func(c *Config) { c.Regression.Metric = "p42" }, field: "regression"},
		{
			name:   "weights do not sum to one",
			modify: func(c *Config) { c.Scoring.Weights = &WeightsConfig{Latency: 0.5} },
			field:  "scoring.weights",
		},
		{name: "unknown outlier method", modify: func(c *Config) { c.Analysis.OutlierMethod = "mad" }, field: "analysis.outlierMethod"},
		{
			name:   "sla percentile",
			modify: func(c *Config) { c.Analysis.SLA = &SLAConfig{Percentile: 95} },
			field:  "analysis.sla.percentile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidationErrors", err)
			}
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					return
				}
			}
			t.Errorf("no error on field %s in %v", tt.field, verrs)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}

	errs.Add("load.requests", "must be at least 1")
	if !strings.Contains(errs.Error(), "field 'load.requests'") {
		t.Errorf("single Error() = %q", errs.Error())
	}

	errs.addErr("health", errors.Join(errors.New("first"), errors.New("second")))
	if len(errs.Errors) != 3 {
		t.Fatalf("Errors length = %v, want 3", len(errs.Errors))
	}
	if !strings.HasPrefix(errs.Error(), "3 validation errors:") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}
