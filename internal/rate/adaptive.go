package rate

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	xrate "golang.org/x/time/rate"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

// AdaptiveConfig parameterizes the AIMD limiter.
type AdaptiveConfig struct {
	// InitialRate is the starting rate in calls per second
	InitialRate float64 `json:"initialRate,omitempty" yaml:"initialRate,omitempty"`

	// MinRate and MaxRate bound the adjusted rate. MaxRate is the ceiling
	// that sustained success grows back towards.
	MinRate float64 `json:"minRate,omitempty" yaml:"minRate,omitempty"`
	MaxRate float64 `json:"maxRate,omitempty" yaml:"maxRate,omitempty"`

	// Burst is the token bucket capacity (defaults to 1)
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// ErrorThreshold is the window error rate above which the rate shrinks
	ErrorThreshold float64 `json:"errorThreshold,omitempty" yaml:"errorThreshold,omitempty"`

	// DecreaseFactor multiplies the rate on an unhealthy window (0 < f < 1)
	DecreaseFactor float64 `json:"decreaseFactor,omitempty" yaml:"decreaseFactor,omitempty"`

	// IncreaseStep is added to the rate on a healthy window
	IncreaseStep float64 `json:"increaseStep,omitempty" yaml:"increaseStep,omitempty"`

	// EvaluationWindow is the number of observed outcomes per evaluation
	EvaluationWindow int `json:"evaluationWindow,omitempty" yaml:"evaluationWindow,omitempty"`
}

// DefaultAdaptiveConfig returns a limiter starting at 10/s bounded to [1, 100].
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		InitialRate:      10,
		MinRate:          1,
		MaxRate:          100,
		Burst:            1,
		ErrorThreshold:   0.1,
		DecreaseFactor:   0.5,
		IncreaseStep:     1,
		EvaluationWindow: 10,
	}
}

// withDefaults fills zero fields from DefaultAdaptiveConfig.
func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	d := DefaultAdaptiveConfig()
	if c.InitialRate == 0 {
		c.InitialRate = d.InitialRate
	}
	if c.MinRate == 0 {
		c.MinRate = math.Min(d.MinRate, c.InitialRate)
	}
	if c.MaxRate == 0 {
		c.MaxRate = math.Max(d.MaxRate, c.InitialRate)
	}
	if c.Burst == 0 {
		c.Burst = d.Burst
	}
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.DecreaseFactor == 0 {
		c.DecreaseFactor = d.DecreaseFactor
	}
	if c.IncreaseStep == 0 {
		c.IncreaseStep = d.IncreaseStep
	}
	if c.EvaluationWindow == 0 {
		c.EvaluationWindow = d.EvaluationWindow
	}
	return c
}

// Validate checks the adaptive parameters.
func (c AdaptiveConfig) Validate() error {
	switch {
	case c.MinRate <= 0:
		return errors.New("adaptive minRate must be > 0")
	case c.MaxRate < c.MinRate:
		return errors.New("adaptive maxRate must be >= minRate")
	case c.InitialRate < c.MinRate || c.InitialRate > c.MaxRate:
		return errors.New("adaptive initialRate must be within [minRate, maxRate]")
	case c.Burst < 1:
		return errors.New("adaptive burst must be >= 1")
	case c.ErrorThreshold < 0 || c.ErrorThreshold > 1:
		return errors.New("adaptive errorThreshold must be within [0, 1]")
	case c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1:
		return errors.New("adaptive decreaseFactor must be within (0, 1)")
	case c.IncreaseStep < 0:
		return errors.New("adaptive increaseStep must not be negative")
	case c.EvaluationWindow < 1:
		return errors.New("adaptive evaluationWindow must be >= 1")
	}
	return nil
}

// Adaptive is a token bucket whose rate follows additive-increase /
// multiplicative-decrease driven by observed call outcomes.
//
// Outcomes are grouped into tumbling windows of EvaluationWindow calls. When a
// window closes with an error rate above ErrorThreshold the rate is multiplied
// by DecreaseFactor, otherwise IncreaseStep is added. The rate stays within
// [MinRate, MaxRate].
type Adaptive struct {
	cfg     AdaptiveConfig
	limiter *xrate.Limiter
	clock   clock.Clock

	mu       sync.Mutex
	rate     float64
	observed int
	failures int

	admitted atomic.Int64
	rejected atomic.Int64
}

// NewAdaptive creates an adaptive limiter. Zero fields in cfg take defaults.
func NewAdaptive(cfg AdaptiveConfig, clk clock.Clock) *Adaptive {
	cfg = cfg.withDefaults()
	return &Adaptive{
		cfg:     cfg,
		limiter: xrate.NewLimiter(xrate.Limit(cfg.InitialRate), cfg.Burst),
		clock:   clock.OrSystem(clk),
		rate:    cfg.InitialRate,
	}
}

// TryAcquire takes one token at the current rate.
func (a *Adaptive) TryAcquire() bool {
	if a.limiter.AllowN(a.clock.Now(), 1) {
		a.admitted.Add(1)
		return true
	}
	a.rejected.Add(1)
	return false
}

// Observe feeds one call outcome into the current evaluation window.
func (a *Adaptive) Observe(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.observed++
	if !success {
		a.failures++
	}
	if a.observed < a.cfg.EvaluationWindow {
		return
	}

	errorRate := float64(a.failures) / float64(a.observed)
	a.observed, a.failures = 0, 0

	var next float64
	if errorRate > a.cfg.ErrorThreshold {
		next = a.rate * a.cfg.DecreaseFactor
	} else {
		next = a.rate + a.cfg.IncreaseStep
	}
	next = math.Max(a.cfg.MinRate, math.Min(a.cfg.MaxRate, next))

	if next != a.rate {
		a.rate = next
		a.limiter.SetLimitAt(a.clock.Now(), xrate.Limit(next))
	}
}

// Rate returns the current admission rate.
func (a *Adaptive) Rate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate
}

// Snapshot returns the limiter state.
func (a *Adaptive) Snapshot() Snapshot {
	available := a.limiter.TokensAt(a.clock.Now())
	if available < 0 {
		available = 0
	}
	return Snapshot{
		Algorithm: AlgorithmAdaptive,
		Rate:      a.Rate(),
		Burst:     a.cfg.Burst,
		Available: available,
		Admitted:  a.admitted.Load(),
		Rejected:  a.rejected.Load(),
	}
}
