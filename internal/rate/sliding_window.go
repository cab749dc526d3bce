package rate

import (
	"sync"
	"time"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

// SlidingWindow admits a call if fewer than limit calls were admitted within
// the trailing window. An admission at time t stops counting at t+window.
//
// The admission log is a fixed ring of limit timestamps, so memory is bounded
// by the limit regardless of traffic.
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu    sync.Mutex
	log   []time.Time // ring of admission times, oldest at head
	head  int
	count int

	admitted int64
	rejected int64
}

// NewSlidingWindow creates a sliding window log limiter.
func NewSlidingWindow(limit int, window time.Duration, clk clock.Clock) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clock.OrSystem(clk),
		log:    make([]time.Time, limit),
	}
}

// TryAcquire admits the call if the window has room.
func (sw *SlidingWindow) TryAcquire() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	sw.prune(now)

	if sw.count >= sw.limit {
		sw.rejected++
		return false
	}

	sw.log[(sw.head+sw.count)%sw.limit] = now
	sw.count++
	sw.admitted++
	return true
}

// prune drops admissions that have left the window. Caller holds mu.
func (sw *SlidingWindow) prune(now time.Time) {
	for sw.count > 0 && now.Sub(sw.log[sw.head]) >= sw.window {
		sw.head = (sw.head + 1) % sw.limit
		sw.count--
	}
}

// Snapshot returns the window state.
func (sw *SlidingWindow) Snapshot() Snapshot {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.prune(sw.clock.Now())
	return Snapshot{
		Algorithm: AlgorithmSlidingWindow,
		Rate:      float64(sw.limit) / sw.window.Seconds(),
		Burst:     sw.limit,
		Available: float64(sw.limit - sw.count),
		Admitted:  sw.admitted,
		Rejected:  sw.rejected,
	}
}
