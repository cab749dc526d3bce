package rate

import (
	"sync/atomic"

	xrate "golang.org/x/time/rate"

	"github.com/wesleyorama2/rpcbench/internal/clock"
)

// TokenBucket admits a call when a token is available. The bucket holds at
// most burst tokens and refills continuously at rate tokens per second.
type TokenBucket struct {
	limiter *xrate.Limiter
	clock   clock.Clock

	admitted atomic.Int64
	rejected atomic.Int64
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(rate float64, burst int, clk clock.Clock) *TokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: xrate.NewLimiter(xrate.Limit(rate), burst),
		clock:   clock.OrSystem(clk),
	}
}

// TryAcquire takes one token if available.
func (tb *TokenBucket) TryAcquire() bool {
	if tb.limiter.AllowN(tb.clock.Now(), 1) {
		tb.admitted.Add(1)
		return true
	}
	tb.rejected.Add(1)
	return false
}

// Snapshot returns the bucket state.
func (tb *TokenBucket) Snapshot() Snapshot {
	available := tb.limiter.TokensAt(tb.clock.Now())
	if available < 0 {
		available = 0
	}
	return Snapshot{
		Algorithm: AlgorithmTokenBucket,
		Rate:      float64(tb.limiter.Limit()),
		Burst:     tb.limiter.Burst(),
		Available: available,
		Admitted:  tb.admitted.Load(),
		Rejected:  tb.rejected.Load(),
	}
}

// Unlimited admits every call. It is used when no algorithm is configured.
type Unlimited struct {
	admitted atomic.Int64
}

// NewUnlimited creates a limiter that never rejects.
func NewUnlimited() *Unlimited {
	return &Unlimited{}
}

func (u *Unlimited) TryAcquire() bool {
	u.admitted.Add(1)
	return true
}

func (u *Unlimited) Snapshot() Snapshot {
	return Snapshot{
		Algorithm: AlgorithmNone,
		Rate:      float64(xrate.Inf),
		Admitted:  u.admitted.Load(),
	}
}
