package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// addErr adds err under field unless it is nil.
func (e *ValidationErrors) addErr(field string, err error) {
	if err == nil {
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		e.Add(field, line)
	}
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateEndpoints(c.Endpoints, errs)

	if len(c.Calls) == 0 {
		errs.Add("calls", "at least one call is required")
	}
	for i, call := range c.Calls {
		if call.Method == "" {
			errs.Add(fmt.Sprintf("calls[%d].method", i), "method is required")
		}
	}

	if c.Load.Requests < 1 {
		errs.Add("load.requests", "must be at least 1")
	}
	if c.Load.Concurrency < 1 {
		errs.Add("load.concurrency", "must be at least 1")
	} else if c.Load.Concurrency > 10000 {
		errs.Add("load.concurrency", "cannot exceed 10000")
	}
	if c.Load.Timeout < 0 {
		errs.Add("load.timeout", "must not be negative")
	}

	errs.addErr("retry", c.Retry.toPolicy().Validate())
	errs.addErr("rateLimit", c.RateLimit.toRate().Validate())
	errs.addErr("circuitBreaker", c.CircuitBreaker.toBreaker().Validate())
	switch c.CircuitBreaker.Granularity {
	case "", "endpoint", "method":
	default:
		errs.Add("circuitBreaker.granularity", fmt.Sprintf("unknown granularity: %s", c.CircuitBreaker.Granularity))
	}
	errs.addErr("bulkhead", c.Bulkhead.toBulkhead().Validate())

	errs.addErr("health", c.Health.toThresholds().Validate())
	if c.Health.Interval < 0 || c.Health.Timeout < 0 {
		errs.Add("health", "interval and timeout must not be negative")
	}

	errs.addErr("regression", c.Regression.toThresholds().Validate())
	errs.addErr("scoring.weights", c.Scoring.toWeights().Validate())

	switch stats.OutlierMethod(c.Analysis.OutlierMethod) {
	case "", stats.OutlierIQR, stats.OutlierZScore:
	default:
		errs.Add("analysis.outlierMethod", fmt.Sprintf("unknown outlier method: %s", c.Analysis.OutlierMethod))
	}
	if sla := c.Analysis.SLA; sla != nil {
		if sla.Percentile < 0 || sla.Percentile > 1 {
			errs.Add("analysis.sla.percentile", "must be within [0, 1]")
		}
		if sla.MinSuccessRate < 0 || sla.MinSuccessRate > 1 {
			errs.Add("analysis.sla.minSuccessRate", "must be within [0, 1]")
		}
		if sla.RequiredCompliance < 0 || sla.RequiredCompliance > 1 {
			errs.Add("analysis.sla.requiredCompliance", "must be within [0, 1]")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateEndpoints(endpoints []EndpointConfig, errs *ValidationErrors) {
	if len(endpoints) == 0 {
		errs.Add("endpoints", "at least one endpoint is required")
		return
	}

	seen := make(map[string]bool, len(endpoints))
	for i, ep := range endpoints {
		prefix := fmt.Sprintf("endpoints[%d]", i)

		if ep.URL == "" {
			errs.Add(prefix+".url", "url is required")
			continue
		}
		u, err := url.Parse(ep.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs.Add(prefix+".url", fmt.Sprintf("invalid http(s) URL: %s", ep.URL))
		}
		if seen[ep.URL] {
			errs.Add(prefix+".url", fmt.Sprintf("duplicate endpoint: %s", ep.URL))
		}
		seen[ep.URL] = true

		if ep.RateLimit != nil {
			errs.addErr(prefix+".rateLimit", ep.RateLimit.toRate().Validate())
		}
		if ep.Bulkhead != nil {
			errs.addErr(prefix+".bulkhead", ep.Bulkhead.toBulkhead().Validate())
		}
	}
}
