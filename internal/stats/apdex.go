package stats

import "time"

// ApdexScore is an Application Performance Index over a latency sample.
type ApdexScore struct {
	Threshold  time.Duration `json:"threshold"`
	Score      float64       `json:"score"`
	Satisfied  int           `json:"satisfied"`
	Tolerating int           `json:"tolerating"`
	Frustrated int           `json:"frustrated"`
}

// Total returns the sample size.
func (a ApdexScore) Total() int {
	return a.Satisfied + a.Tolerating + a.Frustrated
}

// Apdex scores latencies against threshold t: latency <= t is satisfied,
// t < latency <= 4t is tolerating, anything slower is frustrated.
// Score = (satisfied + tolerating/2) / total.
func Apdex(latencies []time.Duration, t time.Duration) (ApdexScore, error) {
	a := ApdexScore{Threshold: t}
	if len(latencies) == 0 {
		return a, ErrNoData
	}

	for _, d := range latencies {
		switch {
		case d <= t:
			a.Satisfied++
		case d <= 4*t:
			a.Tolerating++
		default:
			a.Frustrated++
		}
	}
	a.Score = (float64(a.Satisfied) + 0.5*float64(a.Tolerating)) / float64(a.Total())
	return a, nil
}
