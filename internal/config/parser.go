package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads, schema-checks, defaults and validates a configuration
// file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := ValidateSchema(data, path); err != nil {
		return nil, err
	}

	config, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*Config, error) {
	var config Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills unset fields. Component defaults live with the
// components; see the To* conversions.
func ApplyDefaults(config *Config) {
	if config.Name == "" {
		config.Name = "rpcbench"
	}

	if config.Load.Requests == 0 {
		config.Load.Requests = 100
	}
	if config.Load.Concurrency == 0 {
		config.Load.Concurrency = 10
	}
	if config.Load.Timeout == 0 {
		config.Load.Timeout = Duration(10 * time.Second)
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.BaseDelay == 0 {
		config.Retry.BaseDelay = Duration(100 * time.Millisecond)
	}
	if config.Retry.MaxDelay == 0 {
		config.Retry.MaxDelay = Duration(2 * time.Second)
	}
	if config.Retry.Jitter == nil {
		jitter := true
		config.Retry.Jitter = &jitter
	}

	if config.RateLimit.Algorithm == "" {
		config.RateLimit.Algorithm = "none"
	}
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.Name == "" {
			ep.Name = ep.URL
		}
		if ep.RateLimit != nil && ep.RateLimit.Algorithm == "" {
			ep.RateLimit.Algorithm = config.RateLimit.Algorithm
		}
	}

	cb := &config.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 0.5
	}
	if cb.WindowSize == 0 {
		cb.WindowSize = 20
	}
	if cb.MinimumThroughput == 0 {
		cb.MinimumThroughput = min(10, cb.WindowSize)
	}
	if cb.Cooldown == 0 {
		cb.Cooldown = Duration(30 * time.Second)
	}
	if cb.TrialCount == 0 {
		cb.TrialCount = 3
	}
	if cb.SuccessesToClose == 0 {
		cb.SuccessesToClose = min(2, cb.TrialCount)
	}
	if cb.Granularity == "" {
		cb.Granularity = "endpoint"
	}

	if config.Bulkhead.Mode == "" {
		config.Bulkhead.Mode = "reject"
	}

	h := &config.Health
	if h.Interval == 0 {
		h.Interval = Duration(30 * time.Second)
	}
	if h.Timeout == 0 {
		h.Timeout = Duration(5 * time.Second)
	}
	if h.Method == "" && len(config.Calls) > 0 {
		h.Method = config.Calls[0].Method
		h.Params = config.Calls[0].Params
	}
	if h.DegradedErrorRate == 0 {
		h.DegradedErrorRate = 0.01
	}
	if h.UnhealthyErrorRate == 0 {
		h.UnhealthyErrorRate = 0.05
	}
	if h.UnhealthyConsecutiveFailures == 0 {
		h.UnhealthyConsecutiveFailures = 3
	}
	if h.RollingWindow == 0 {
		h.RollingWindow = 20
	}
	if h.Retention == 0 {
		h.Retention = Duration(24 * time.Hour)
	}

	if config.Regression.Metric == "" {
		config.Regression.Metric = "p95"
	}
	if config.Analysis.OutlierMethod == "" {
		config.Analysis.OutlierMethod = "iqr"
	}
}
