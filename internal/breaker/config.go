// Package breaker implements a per-endpoint circuit breaker and a
// concurrency bulkhead.
//
// The breaker is a three-state machine (closed, open, half-open) over a
// count-based rolling window of call outcomes. Its failure threshold is fixed
// or, in adaptive mode, tracks the endpoint's baseline error rate plus a
// margin. The bulkhead caps in-flight calls independently of breaker state.
package breaker

import (
	"errors"
	"fmt"
	"time"
)

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the window failure rate that trips the breaker.
	// The breaker opens only when the rate is strictly greater.
	FailureThreshold float64 `json:"failureThreshold" yaml:"failureThreshold"`

	// WindowSize is the number of most recent outcomes evaluated while closed
	WindowSize int `json:"windowSize" yaml:"windowSize"`

	// MinimumThroughput is the number of outcomes the window must hold
	// before the breaker may trip
	MinimumThroughput int `json:"minimumThroughput" yaml:"minimumThroughput"`

	// CooldownPeriod is how long the breaker stays open
	CooldownPeriod time.Duration `json:"cooldownPeriod" yaml:"cooldownPeriod"`

	// TrialCount is the number of calls admitted per half-open episode
	TrialCount int `json:"trialCount" yaml:"trialCount"`

	// SuccessesToClose is the number of consecutive trial successes that
	// close the breaker
	SuccessesToClose int `json:"successesToClose" yaml:"successesToClose"`

	Adaptive AdaptiveConfig `json:"adaptive" yaml:"adaptive"`
}

// AdaptiveConfig derives the failure threshold from the endpoint's baseline
// error rate: threshold = clamp(baseline + Margin, MinThreshold, MaxThreshold).
//
// The baseline is seeded with SetBaselineErrorRate and otherwise tracked as an
// exponentially weighted moving average of the closed-state window error
// rate, sampled every RecomputeEvery outcomes.
type AdaptiveConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Margin is added to the baseline error rate
	Margin float64 `json:"margin" yaml:"margin"`

	// Decay is the weight of the newest sample in the moving average (0, 1]
	Decay float64 `json:"decay" yaml:"decay"`

	// RecomputeEvery is the number of closed-state outcomes between samples
	RecomputeEvery int `json:"recomputeEvery" yaml:"recomputeEvery"`

	MinThreshold float64 `json:"minThreshold" yaml:"minThreshold"`
	MaxThreshold float64 `json:"maxThreshold" yaml:"maxThreshold"`
}

// DefaultConfig returns a breaker that trips above 50% failures over the
// last 20 calls once at least 10 were seen, and cools down for 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  0.5,
		WindowSize:        20,
		MinimumThroughput: 10,
		CooldownPeriod:    30 * time.Second,
		TrialCount:        3,
		SuccessesToClose:  2,
		Adaptive:          DefaultAdaptiveConfig(),
	}
}

// DefaultAdaptiveConfig returns a disabled adaptive configuration with
// usable parameters.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Margin:         0.2,
		Decay:          0.2,
		RecomputeEvery: 20,
		MinThreshold:   0.05,
		MaxThreshold:   0.95,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		errs = append(errs, fmt.Errorf("failureThreshold must be within (0, 1], got %v", c.FailureThreshold))
	}
	if c.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("windowSize must be >= 1, got %d", c.WindowSize))
	}
	if c.MinimumThroughput < 1 || c.MinimumThroughput > c.WindowSize {
		errs = append(errs, fmt.Errorf("minimumThroughput must be within [1, windowSize], got %d", c.MinimumThroughput))
	}
	if c.CooldownPeriod <= 0 {
		errs = append(errs, fmt.Errorf("cooldownPeriod must be > 0, got %v", c.CooldownPeriod))
	}
	if c.TrialCount < 1 {
		errs = append(errs, fmt.Errorf("trialCount must be >= 1, got %d", c.TrialCount))
	}
	if c.SuccessesToClose < 1 || c.SuccessesToClose > c.TrialCount {
		errs = append(errs, fmt.Errorf("successesToClose must be within [1, trialCount], got %d", c.SuccessesToClose))
	}
	if c.Adaptive.Enabled {
		if err := c.Adaptive.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the adaptive parameters.
func (c AdaptiveConfig) Validate() error {
	switch {
	case c.Margin < 0:
		return errors.New("adaptive margin must not be negative")
	case c.Decay <= 0 || c.Decay > 1:
		return errors.New("adaptive decay must be within (0, 1]")
	case c.RecomputeEvery < 1:
		return errors.New("adaptive recomputeEvery must be >= 1")
	case c.MinThreshold <= 0 || c.MaxThreshold > 1 || c.MinThreshold > c.MaxThreshold:
		return errors.New("adaptive thresholds must satisfy 0 < minThreshold <= maxThreshold <= 1")
	}
	return nil
}
