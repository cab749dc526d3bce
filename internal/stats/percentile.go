package stats

import (
	"cmp"
	"math"
)

// Percentile returns the value at p in [0, 1] of an ascending sample using
// the rank method: index = ceil(p*n) - 1, clamped to [0, n-1]. It returns the
// zero value for an empty sample.
func Percentile[T cmp.Ordered](sorted []T, p float64) T {
	var zero T
	n := len(sorted)
	if n == 0 {
		return zero
	}
	return sorted[rankIndex(n, p)]
}

// rankEpsilon absorbs float error in p*n so exact ranks are not rounded up.
const rankEpsilon = 1e-9

func rankIndex(n int, p float64) int {
	idx := int(math.Ceil(p*float64(n)-rankEpsilon)) - 1
	return max(0, min(n-1, idx))
}

// Quantiles returns Percentile for each p.
func Quantiles[T cmp.Ordered](sorted []T, ps ...float64) []T {
	out := make([]T, len(ps))
	for i, p := range ps {
		out[i] = Percentile(sorted, p)
	}
	return out
}
