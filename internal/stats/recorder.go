package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Capacity is the number of most recent attempts retained for windowed
	// analysis (default: 10000)
	Capacity int

	// HistogramMin is the minimum recordable latency in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable latency in microseconds
	// (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Capacity:         10000,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// Lifetime summarizes every attempt a Recorder has seen, including those
// that fell out of the ring buffer. Latency percentiles come from the HDR
// histogram and carry its precision.
type Lifetime struct {
	Count     int64 `json:"count"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Timeouts  int64 `json:"timeouts"`
	Rejected  int64 `json:"rejected"`

	// Latency is nil until an attempt reaches the transport
	Latency *HistogramLatency `json:"latency,omitempty"`
}

// HistogramLatency is the latency summary read from an HDR histogram.
type HistogramLatency struct {
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	P999 time.Duration `json:"p999"`
}

// Recorder keeps a bounded ring buffer of attempts for one endpoint+method
// and a streaming histogram over all of them.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	endpoint string
	method   string
	config   RecorderConfig

	mu    sync.Mutex
	ring  []rpc.RequestAttempt
	next  int
	full  bool
	hist  *hdrhistogram.Histogram
	total Lifetime
}

// NewRecorder creates a Recorder with the default configuration.
func NewRecorder(endpoint, method string) *Recorder {
	return NewRecorderWithConfig(endpoint, method, DefaultRecorderConfig())
}

// NewRecorderWithConfig creates a Recorder. Zero fields take defaults.
func NewRecorderWithConfig(endpoint, method string, config RecorderConfig) *Recorder {
	d := DefaultRecorderConfig()
	if config.Capacity <= 0 {
		config.Capacity = d.Capacity
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = d.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = d.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = d.HistogramSigFigs
	}

	return &Recorder{
		endpoint: endpoint,
		method:   method,
		config:   config,
		ring:     make([]rpc.RequestAttempt, config.Capacity),
		hist:     hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
	}
}

// Record adds one attempt.
func (r *Recorder) Record(a rpc.RequestAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = a
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}

	r.total.Count++
	switch a.Outcome {
	case rpc.OutcomeSuccess:
		r.total.Successes++
	case rpc.OutcomeTimeout:
		r.total.Timeouts++
	case rpc.OutcomeRejected:
		r.total.Rejected++
		return
	default:
		r.total.Failures++
	}

	micros := a.Duration.Microseconds()
	micros = max(r.config.HistogramMin, min(r.config.HistogramMax, micros))
	// Values are clamped into range, so RecordValue cannot fail.
	_ = r.hist.RecordValue(micros)
}

// Len returns the number of retained attempts.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}

// Window returns the retained attempts, oldest first.
func (r *Recorder) Window() Window {
	r.mu.Lock()
	defer r.mu.Unlock()

	var attempts []rpc.RequestAttempt
	if r.full {
		attempts = make([]rpc.RequestAttempt, 0, len(r.ring))
		attempts = append(attempts, r.ring[r.next:]...)
		attempts = append(attempts, r.ring[:r.next]...)
	} else {
		attempts = append([]rpc.RequestAttempt(nil), r.ring[:r.next]...)
	}
	return Window{Endpoint: r.endpoint, Method: r.method, Attempts: attempts}
}

// Since returns retained attempts issued at or after t.
func (r *Recorder) Since(t time.Time) Window {
	w := r.Window()
	kept := w.Attempts[:0]
	for _, a := range w.Attempts {
		if !a.IssuedAt.Before(t) {
			kept = append(kept, a)
		}
	}
	w.Attempts = kept
	w.Start = t
	return w
}

// Summarize returns Stats over the retained attempts.
func (r *Recorder) Summarize() Stats {
	return Summarize(r.Window())
}

// Lifetime returns counters and histogram percentiles over every attempt.
func (r *Recorder) Lifetime() Lifetime {
	r.mu.Lock()
	defer r.mu.Unlock()

	lt := r.total
	if r.hist.TotalCount() > 0 {
		lt.Latency = &HistogramLatency{
			Min:  micros(r.hist.Min()),
			Max:  micros(r.hist.Max()),
			Mean: time.Duration(r.hist.Mean() * float64(time.Microsecond)),
			P50:  micros(r.hist.ValueAtQuantile(50)),
			P90:  micros(r.hist.ValueAtQuantile(90)),
			P95:  micros(r.hist.ValueAtQuantile(95)),
			P99:  micros(r.hist.ValueAtQuantile(99)),
			P999: micros(r.hist.ValueAtQuantile(99.9)),
		}
	}
	return lt
}

// Reset discards all retained attempts and histogram data.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.ring)
	r.next = 0
	r.full = false
	r.hist.Reset()
	r.total = Lifetime{}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
