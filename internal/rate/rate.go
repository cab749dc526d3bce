// Package rate gates how many calls per unit time are admitted to an endpoint.
//
// Three interchangeable algorithms implement Limiter: a token bucket, a
// sliding window log and an adaptive AIMD limiter that shrinks its rate when
// the observed error rate climbs. Limiters never block; a call either gets a
// permit now or is rejected.
package rate

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

// Algorithm names a limiter implementation.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmAdaptive      Algorithm = "adaptive"
	AlgorithmNone          Algorithm = "none"
)

// Limiter admits or rejects calls. Implementations are safe for concurrent use.
type Limiter interface {
	// TryAcquire consumes one permit if available and reports whether the
	// call is admitted.
	TryAcquire() bool

	// Snapshot returns the limiter's current state.
	Snapshot() Snapshot
}

// Observer is implemented by limiters that adapt to call outcomes.
type Observer interface {
	Observe(success bool)
}

// Snapshot is a point-in-time view of a limiter.
type Snapshot struct {
	Algorithm Algorithm `json:"algorithm"`

	// Rate is the current admission rate in calls per second. For a sliding
	// window it is Limit divided by the window length.
	Rate float64 `json:"rate"`

	// Burst is the bucket capacity, or the window limit
	Burst int `json:"burst"`

	// Available is the number of permits that could be taken right now
	Available float64 `json:"available"`

	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
}

// Config selects and parameterizes a limiter.
type Config struct {
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`

	// Token bucket
	Rate  float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`

	// Sliding window
	Limit  int           `json:"limit,omitempty" yaml:"limit,omitempty"`
	Window time.Duration `json:"window,omitempty" yaml:"window,omitempty"`

	Adaptive AdaptiveConfig `json:"adaptive,omitempty" yaml:"adaptive,omitempty"`
}

// DefaultConfig returns an unlimited configuration.
func DefaultConfig() Config {
	return Config{Algorithm: AlgorithmNone}
}

// Validate checks the parameters of the selected algorithm.
func (c Config) Validate() error {
	switch c.Algorithm {
	case "", AlgorithmNone:
		return nil
	case AlgorithmTokenBucket:
		if c.Rate <= 0 {
			return fmt.Errorf("token bucket rate must be > 0, got %v", c.Rate)
		}
		if c.Burst < 1 {
			return fmt.Errorf("token bucket burst must be >= 1, got %d", c.Burst)
		}
	case AlgorithmSlidingWindow:
		if c.Limit < 1 {
			return fmt.Errorf("sliding window limit must be >= 1, got %d", c.Limit)
		}
		if c.Window <= 0 {
			return fmt.Errorf("sliding window length must be > 0, got %v", c.Window)
		}
	case AlgorithmAdaptive:
		return c.Adaptive.withDefaults().Validate()
	default:
		return fmt.Errorf("unknown rate limiter algorithm %q", c.Algorithm)
	}
	return nil
}

// New builds the limiter described by cfg. A nil clock uses the system clock.
func New(cfg Config, clk clock.Clock) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		return NewTokenBucket(cfg.Rate, cfg.Burst, clk), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(cfg.Limit, cfg.Window, clk), nil
	case AlgorithmAdaptive:
		return NewAdaptive(cfg.Adaptive, clk), nil
	default:
		return NewUnlimited(), nil
	}
}
