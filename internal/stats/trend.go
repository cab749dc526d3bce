package stats

import "math"

// Direction is the sense of a trend.
type Direction string

const (
	DirectionStable     Direction = "stable"
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
)

// stableChange is the total change across a series, relative to its mean,
// below which a trend is considered stable.
const stableChange = 0.01

// TrendResult is an ordinary least squares fit of a series against its index.
type TrendResult struct {
	Direction Direction `json:"direction"`
	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`

	// RSquared is the coefficient of determination in [0, 1]
	RSquared float64 `json:"rSquared"`
}

// Trend fits a line to series. Fewer than two points is stable.
func Trend(series []float64) TrendResult {
	n := len(series)
	if n < 2 {
		res := TrendResult{Direction: DirectionStable}
		if n == 1 {
			res.Intercept = series[0]
		}
		return res
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for _, y := range series {
		yMean += y
	}
	yMean /= float64(n)

	var sxy, sxx, syy float64
	for i, y := range series {
		dx := float64(i) - xMean
		dy := y - yMean
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}

	res := TrendResult{Slope: sxy / sxx}
	res.Intercept = yMean - res.Slope*xMean
	if syy > 0 {
		res.RSquared = (sxy * sxy) / (sxx * syy)
	}

	change := math.Abs(res.Slope) * float64(n-1)
	switch {
	case change <= stableChange*math.Abs(yMean):
		res.Direction = DirectionStable
	case res.Slope > 0:
		res.Direction = DirectionIncreasing
	default:
		res.Direction = DirectionDecreasing
	}
	return res
}
