package stats

import "math"

// MaxNines caps the nines figure for a perfect record.
const MaxNines = 9.0

// AvailabilityStats expresses an uptime ratio for SLA reporting.
type AvailabilityStats struct {
	Successes int     `json:"successes"`
	Total     int     `json:"total"`
	Ratio     float64 `json:"ratio"`
	Percent   float64 `json:"percent"`

	// Nines is -log10(1 - ratio): 0.999 is 3 nines
	Nines float64 `json:"nines"`

	// Class is the highest standard tier met, e.g. "99.9%"
	Class string `json:"class"`
}

// Availability computes availability from a success count. A zero total is
// reported as zero availability.
func Availability(successes, total int) AvailabilityStats {
	a := AvailabilityStats{Successes: successes, Total: total}
	if total <= 0 {
		a.Class = classify(0)
		return a
	}
	a.Ratio = float64(successes) / float64(total)
	a.Percent = a.Ratio * 100
	a.Nines = Nines(a.Ratio)
	a.Class = classify(a.Ratio)
	return a
}

// Nines returns -log10(1 - ratio), capped at MaxNines.
func Nines(ratio float64) float64 {
	if ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return MaxNines
	}
	return math.Min(MaxNines, -math.Log10(1-ratio))
}

func classify(ratio float64) string {
	switch {
	case ratio >= 0.9999:
		return "99.99%"
	case ratio >= 0.999:
		return "99.9%"
	case ratio >= 0.99:
		return "99%"
	case ratio >= 0.9:
		return "90%"
	default:
		return "below 90%"
	}
}
