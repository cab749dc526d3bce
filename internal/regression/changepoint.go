package regression

import "math"

// ChangePointConfig configures DetectChangePoints.
type ChangePointConfig struct {
	// Window is the number of points on each side of a candidate boundary
	Window int `json:"window" yaml:"window"`

	// Threshold is the absolute Welch t-statistic a boundary must exceed
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultChangePointConfig returns a 5-point window with threshold 3.
func DefaultChangePointConfig() ChangePointConfig {
	return ChangePointConfig{Window: 5, Threshold: 3}
}

// ChangePoint marks the index where a mean shift begins.
type ChangePoint struct {
	Index      int     `json:"index"`
	MeanBefore float64 `json:"meanBefore"`
	MeanAfter  float64 `json:"meanAfter"`
	TStat      float64 `json:"tStat"`
}

// DetectChangePoints slides two adjacent windows over series and flags
// boundaries where Welch's t-statistic between them exceeds the threshold.
// A run of consecutive flagged boundaries is reported once, at its peak.
func DetectChangePoints(series []float64, cfg ChangePointConfig) []ChangePoint {
	if cfg.Window < 2 {
		cfg.Window = DefaultChangePointConfig().Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultChangePointConfig().Threshold
	}

	w := cfg.Window
	var (
		points []ChangePoint
		run    *ChangePoint
		last   = -2
	)
	for i := w; i+w <= len(series); i++ {
		before, after := series[i-w:i], series[i:i+w]
		mb, vb := meanVar(before)
		ma, va := meanVar(after)
		t := welch(mb, vb, ma, va, w)
		if math.Abs(t) <= cfg.Threshold {
			continue
		}

		cp := ChangePoint{Index: i, MeanBefore: mb, MeanAfter: ma, TStat: t}
		if run != nil && i == last+1 {
			if math.Abs(t) > math.Abs(run.TStat) {
				*run = cp
			}
		} else {
			points = append(points, cp)
			run = &points[len(points)-1]
		}
		last = i
	}
	return points
}

// welch returns the t-statistic for equal-size samples. When both samples
// are constant the variance is floored so a step still yields a finite,
// large statistic.
func welch(m1, v1, m2, v2 float64, n int) float64 {
	se := math.Sqrt(v1/float64(n) + v2/float64(n))
	if se == 0 {
		if m1 == m2 {
			return 0
		}
		se = 1e-9 * math.Max(1, math.Max(math.Abs(m1), math.Abs(m2)))
	}
	return (m2 - m1) / se
}

// meanVar returns the mean and unbiased sample variance.
func meanVar(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, ss / float64(len(xs)-1)
}
