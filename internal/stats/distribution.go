package stats

// Histogram is a fixed-width binning of a sample.
type Histogram struct {
	// Edges holds len(Counts)+1 ascending bin boundaries
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
}

// Distribution bins values into bins equal-width buckets spanning
// [min, max]. The last bin is closed so the maximum is counted. An empty
// sample or non-positive bins yields an empty Histogram.
func Distribution(values []float64, bins int) Histogram {
	if len(values) == 0 || bins <= 0 {
		return Histogram{}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	h := Histogram{
		Edges:  make([]float64, bins+1),
		Counts: make([]int, bins),
	}
	width := (hi - lo) / float64(bins)
	for i := range h.Edges {
		h.Edges[i] = lo + float64(i)*width
	}
	h.Edges[bins] = hi

	for _, v := range values {
		i := bins - 1
		if width > 0 {
			i = min(bins-1, int((v-lo)/width))
		}
		h.Counts[i]++
	}
	return h
}
