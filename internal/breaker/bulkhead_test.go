package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkhead_RejectMode(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 2, Mode: BulkheadReject}, nil)
	ctx := context.Background()

	r1, err := bh.Acquire(ctx)
	require.NoError(t, err)
	r2, err := bh.Acquire(ctx)
	require.NoError(t, err)

	_, err = bh.Acquire(ctx)
	assert.ErrorIs(t, err, ErrBulkheadFull)

	r1()
	r1() // second release is a no-op

	r3, err := bh.Acquire(ctx)
	require.NoError(t, err)

	snap := bh.Snapshot()
	assert.Equal(t, int64(2), snap.InFlight)
	assert.Equal(t, int64(3), snap.Admitted)
	assert.Equal(t, int64(1), snap.Rejected)

	r2()
	r3()
	assert.Equal(t, int64(0), bh.Snapshot().InFlight)
}

func TestBulkhead_Uncapped(t *testing.T) {
	bh := NewBulkhead(DefaultBulkheadConfig(), nil)

	var releases []func()
	for i := 0; i < 100; i++ {
		r, err := bh.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, r)
	}
	assert.Equal(t, int64(100), bh.Snapshot().InFlight)

	for _, r := range releases {
		r()
	}
	assert.Equal(t, int64(0), bh.Snapshot().InFlight)
}

func TestBulkhead_QueueMode(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, Mode: BulkheadQueue, MaxQueue: 1}, nil)
	ctx := context.Background()

	hold, err := bh.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		release, err := bh.Acquire(ctx)
		if err == nil {
			release()
		}
		got <- err
	}()

	require.Eventually(t, func() bool { return bh.Snapshot().Queued == 1 }, time.Second, time.Millisecond)

	_, err = bh.Acquire(ctx)
	assert.ErrorIs(t, err, ErrQueueFull)

	hold()
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued call was never admitted")
	}
}

func TestBulkhead_QueueTimeout(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{
		MaxConcurrent: 1,
		Mode:          BulkheadQueue,
		MaxQueue:      4,
		QueueTimeout:  20 * time.Millisecond,
	}, nil)

	hold, err := bh.Acquire(context.Background())
	require.NoError(t, err)
	defer hold()

	_, err = bh.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBulkheadFull)
	assert.Equal(t, int64(0), bh.Snapshot().Queued)
}

func TestBulkhead_QueueHonoursContext(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, Mode: BulkheadQueue, MaxQueue: 1}, nil)

	hold, err := bh.Acquire(context.Background())
	require.NoError(t, err)
	defer hold()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = bh.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), bh.Snapshot().Rejected, "caller cancellation is not a rejection")
}

func TestBulkhead_NeverExceedsCap(t *testing.T) {
	const limit = 3
	bh := NewBulkhead(BulkheadConfig{MaxConcurrent: limit, Mode: BulkheadQueue, MaxQueue: 100}, nil)

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := bh.Acquire(context.Background())
			if err != nil {
				return
			}
			defer release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Equal(t, int64(50), bh.Snapshot().Admitted)
}

func TestBulkheadConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultBulkheadConfig().Validate())
	assert.NoError(t, BulkheadConfig{MaxConcurrent: 4}.Validate())
	assert.Error(t, BulkheadConfig{MaxConcurrent: 4, Mode: BulkheadQueue}.Validate())
	assert.Error(t, BulkheadConfig{MaxConcurrent: 4, Mode: "spill"}.Validate())
}
