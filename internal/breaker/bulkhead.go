package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uber-go/tally"
	"golang.org/x/sync/semaphore"
)

// BulkheadMode selects what happens to calls beyond the concurrency cap.
type BulkheadMode string

const (
	// BulkheadReject rejects excess calls immediately.
	BulkheadReject BulkheadMode = "reject"

	// BulkheadQueue parks excess calls in a bounded FIFO queue.
	BulkheadQueue BulkheadMode = "queue"
)

var (
	// ErrBulkheadFull is returned when no slot is free in reject mode, or a
	// queued call timed out waiting for one.
	ErrBulkheadFull = errors.New("bulkhead is full")

	// ErrQueueFull is returned in queue mode when the wait queue is full.
	ErrQueueFull = errors.New("bulkhead queue is full")
)

// BulkheadConfig configures a Bulkhead. MaxConcurrent <= 0 disables the cap.
type BulkheadConfig struct {
	MaxConcurrent int           `json:"maxConcurrent" yaml:"maxConcurrent"`
	Mode          BulkheadMode  `json:"mode" yaml:"mode"`
	MaxQueue      int           `json:"maxQueue" yaml:"maxQueue"`
	QueueTimeout  time.Duration `json:"queueTimeout" yaml:"queueTimeout"`
}

// DefaultBulkheadConfig returns an uncapped bulkhead.
func DefaultBulkheadConfig() BulkheadConfig {
	return BulkheadConfig{Mode: BulkheadReject}
}

// Validate checks the configuration.
func (c BulkheadConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return nil
	}
	switch c.Mode {
	case "", BulkheadReject:
	case BulkheadQueue:
		if c.MaxQueue < 1 {
			return fmt.Errorf("bulkhead maxQueue must be >= 1 in queue mode, got %d", c.MaxQueue)
		}
		if c.QueueTimeout < 0 {
			return fmt.Errorf("bulkhead queueTimeout must not be negative, got %v", c.QueueTimeout)
		}
	default:
		return fmt.Errorf("unknown bulkhead mode %q", c.Mode)
	}
	return nil
}

// BulkheadSnapshot is a point-in-time view of a Bulkhead.
type BulkheadSnapshot struct {
	MaxConcurrent int   `json:"maxConcurrent"`
	InFlight      int64 `json:"inFlight"`
	Queued        int64 `json:"queued"`
	Admitted      int64 `json:"admitted"`
	Rejected      int64 `json:"rejected"`
}

// Bulkhead caps the number of concurrently in-flight calls.
type Bulkhead struct {
	cfg BulkheadConfig
	sem *semaphore.Weighted

	// queueMu makes the queue-length check and increment indivisible
	queueMu sync.Mutex
	queued  int64

	inFlight atomic.Int64
	admitted atomic.Int64
	rejected atomic.Int64

	inFlightGauge tally.Gauge
}

// NewBulkhead creates a bulkhead. A nil scope disables metrics.
func NewBulkhead(cfg BulkheadConfig, scope tally.Scope) *Bulkhead {
	if scope == nil {
		scope = tally.NoopScope
	}

	b := &Bulkhead{
		cfg:           cfg,
		inFlightGauge: scope.SubScope("bulkhead").Gauge("in_flight"),
	}
	if cfg.MaxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return b
}

// Acquire takes a slot. The returned release func must be called exactly
// once when the call finishes; extra calls are no-ops.
//
// In queue mode Acquire waits up to QueueTimeout (0 waits until ctx is
// done). If ctx ends first its error is returned.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	if b.sem == nil {
		return b.admit(), nil
	}

	if b.sem.TryAcquire(1) {
		return b.admit(), nil
	}

	if b.cfg.Mode != BulkheadQueue {
		b.rejected.Add(1)
		return nil, ErrBulkheadFull
	}

	b.queueMu.Lock()
	if b.queued >= int64(b.cfg.MaxQueue) {
		b.queueMu.Unlock()
		b.rejected.Add(1)
		return nil, ErrQueueFull
	}
	b.queued++
	b.queueMu.Unlock()

	waitCtx := ctx
	if b.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.cfg.QueueTimeout)
		defer cancel()
	}

	err := b.sem.Acquire(waitCtx, 1)

	b.queueMu.Lock()
	b.queued--
	b.queueMu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.rejected.Add(1)
		return nil, ErrBulkheadFull
	}
	return b.admit(), nil
}

func (b *Bulkhead) admit() func() {
	b.admitted.Add(1)
	b.inFlightGauge.Update(float64(b.inFlight.Add(1)))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.inFlightGauge.Update(float64(b.inFlight.Add(-1)))
			if b.sem != nil {
				b.sem.Release(1)
			}
		})
	}
}

// Snapshot returns the bulkhead state.
func (b *Bulkhead) Snapshot() BulkheadSnapshot {
	b.queueMu.Lock()
	queued := b.queued
	b.queueMu.Unlock()

	return BulkheadSnapshot{
		MaxConcurrent: b.cfg.MaxConcurrent,
		InFlight:      b.inFlight.Load(),
		Queued:        queued,
		Admitted:      b.admitted.Load(),
		Rejected:      b.rejected.Load(),
	}
}
