package stats

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// OutlierMethod selects an outlier detector.
type OutlierMethod string

const (
	// OutlierIQR flags values outside [Q1 - k*IQR, Q3 + k*IQR].
	OutlierIQR OutlierMethod = "iqr"

	// OutlierZScore flags values more than k standard deviations from the mean.
	OutlierZScore OutlierMethod = "zscore"
)

// Default outlier multipliers.
const (
	DefaultIQRFactor  = 1.5
	DefaultZThreshold = 3.0
)

// Outliers returns the indexes of values flagged by method. A k of zero uses
// the method's default. The input order is preserved.
func Outliers(values []float64, method OutlierMethod, k float64) ([]int, error) {
	if len(values) == 0 {
		return nil, nil
	}

	switch method {
	case OutlierIQR, "":
		if k == 0 {
			k = DefaultIQRFactor
		}
		sorted := slices.Clone(values)
		slices.Sort(sorted)
		q1 := Percentile(sorted, 0.25)
		q3 := Percentile(sorted, 0.75)
		iqr := q3 - q1
		lo, hi := q1-k*iqr, q3+k*iqr
		return flag(values, func(v float64) bool { return v < lo || v > hi }), nil

	case OutlierZScore:
		if k == 0 {
			k = DefaultZThreshold
		}
		mean, stddev := meanStdDev(values)
		if stddev == 0 {
			return nil, nil
		}
		return flag(values, func(v float64) bool { return math.Abs(v-mean)/stddev > k }), nil
	}

	return nil, fmt.Errorf("unknown outlier method %q", method)
}

func flag(values []float64, pred func(float64) bool) []int {
	var idx []int
	for i, v := range values {
		if pred(v) {
			idx = append(idx, i)
		}
	}
	return idx
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}

// Milliseconds converts durations to float milliseconds for the float-based
// helpers in this package.
func Milliseconds(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	return out
}
