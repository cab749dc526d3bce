package breaker

import "math"

// thresholdTracker holds the failure threshold the closed state trips on.
// With adaptive mode disabled it always reports the fixed threshold.
type thresholdTracker struct {
	fixed float64
	cfg   AdaptiveConfig

	baseline    float64
	hasBaseline bool
	pending     int
}

func newThresholdTracker(fixed float64, cfg AdaptiveConfig) *thresholdTracker {
	return &thresholdTracker{fixed: fixed, cfg: cfg}
}

func (t *thresholdTracker) current() float64 {
	if !t.cfg.Enabled || !t.hasBaseline {
		return t.fixed
	}
	return math.Max(t.cfg.MinThreshold, math.Min(t.cfg.MaxThreshold, t.baseline+t.cfg.Margin))
}

func (t *thresholdTracker) seed(rate float64) {
	if !t.cfg.Enabled {
		return
	}
	t.baseline = math.Max(0, math.Min(1, rate))
	t.hasBaseline = true
	t.pending = 0
}

// observe counts one closed-state outcome and folds the window error rate
// into the baseline every RecomputeEvery outcomes.
func (t *thresholdTracker) observe(w *outcomeWindow) {
	if !t.cfg.Enabled {
		return
	}

	t.pending++
	if t.pending < t.cfg.RecomputeEvery || w.total() == 0 {
		return
	}
	t.pending = 0

	sample := w.failureRate()
	if !t.hasBaseline {
		t.baseline = sample
		t.hasBaseline = true
		return
	}
	t.baseline = t.cfg.Decay*sample + (1-t.cfg.Decay)*t.baseline
}
