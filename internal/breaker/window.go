package breaker

// outcomeWindow is a fixed-size ring of the most recent call outcomes.
type outcomeWindow struct {
	outcomes []bool // true = failure
	next     int
	size     int
	failures int
}

func newOutcomeWindow(capacity int) *outcomeWindow {
	return &outcomeWindow{outcomes: make([]bool, capacity)}
}

func (w *outcomeWindow) add(success bool) {
	failed := !success
	if w.size == len(w.outcomes) {
		if w.outcomes[w.next] {
			w.failures--
		}
	} else {
		w.size++
	}
	w.outcomes[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.outcomes)
}

func (w *outcomeWindow) total() int { return w.size }

func (w *outcomeWindow) successes() int { return w.size - w.failures }

func (w *outcomeWindow) failureRate() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.size)
}
