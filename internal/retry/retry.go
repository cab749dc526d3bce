// Package retry wraps transport calls with bounded retries and exponential
// backoff with full jitter.
//
// A Coordinator never aborts the caller: when attempts are exhausted, or the
// failure is not retryable, it returns the last observed outcome as data.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/clock"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// Policy controls how many times a call is attempted and how long to wait
// between attempts.
type Policy struct {
	// MaxAttempts is the total number of physical attempts, including the first
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`

	// BaseDelay is the backoff before the second attempt
	BaseDelay time.Duration `json:"baseDelay" yaml:"baseDelay"`

	// MaxDelay caps the backoff
	MaxDelay time.Duration `json:"maxDelay" yaml:"maxDelay"`

	// Jitter applies full jitter: the wait is drawn uniformly from [0, delay]
	Jitter bool `json:"jitter" yaml:"jitter"`

	// RetryableCodes lists protocol error codes that are worth retrying
	// (e.g. 429 or a server-side "limit exceeded" code)
	RetryableCodes []int `json:"retryableCodes,omitempty" yaml:"retryableCodes,omitempty"`
}

// DefaultPolicy returns three attempts with 100ms base and 2s max delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      true,
	}
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("maxAttempts must be >= 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return errors.New("baseDelay must not exceed maxDelay")
	}
	return nil
}

// Backoff returns the un-jittered delay before attempt k:
// min(MaxDelay, BaseDelay * 2^(k-2)). It is zero for k < 2. Without a
// MaxDelay the delay saturates at the largest time.Duration.
func (p Policy) Backoff(k int) time.Duration {
	if k < 2 || p.BaseDelay <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 2; i < k; i++ {
		// Stop doubling once the cap is reached so the shift cannot overflow.
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Retryable reports whether a classified failure should be retried.
func (p Policy) Retryable(err *rpc.Error) bool {
	if err == nil {
		return false
	}

	switch err.Kind {
	case rpc.KindTransient, rpc.KindTimeout:
		return true
	case rpc.KindProtocol:
		for _, code := range p.RetryableCodes {
			if code == err.Code {
				return true
			}
		}
	}
	return false
}

// Invoker performs one physical attempt.
type Invoker func(ctx context.Context) error

// Result is the outcome of a logical call.
type Result struct {
	// Final is the last physical attempt
	Final rpc.RequestAttempt

	// Attempts holds every physical attempt in order, Final included
	Attempts []rpc.RequestAttempt

	// Err is the classified failure of Final, nil on success
	Err *rpc.Error

	// Cancelled is true when the run context stopped further retries
	Cancelled bool
}

// Succeeded reports whether the final attempt succeeded.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.Final.Succeeded()
}

// Options configures a Coordinator.
type Options struct {
	// CallTimeout bounds each physical attempt (0 means no extra bound)
	CallTimeout time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
	Scope  tally.Scope
}

// Coordinator executes calls under a retry Policy.
//
// Coordinator is safe for concurrent use.
type Coordinator struct {
	policy      Policy
	callTimeout time.Duration
	clock       clock.Clock
	logger      *zap.Logger

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error

	// jitter draws the actual wait from [0, d]
	jitter func(d time.Duration) time.Duration

	attempts     tally.Counter
	retries      tally.Counter
	exhausted    tally.Counter
	nonRetryable tally.Counter
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(policy Policy, opts Options) *Coordinator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := opts.Scope
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("retry")

	return &Coordinator{
		policy:       policy,
		callTimeout:  opts.CallTimeout,
		clock:        clock.OrSystem(opts.Clock),
		logger:       logger,
		sleep:        sleepContext,
		jitter:       fullJitter,
		attempts:     scope.Counter("attempts"),
		retries:      scope.Counter("retries"),
		exhausted:    scope.Counter("exhausted"),
		nonRetryable: scope.Counter("non_retryable"),
	}
}

// Policy returns the coordinator's policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Delay returns the wait before attempt k with jitter applied when enabled.
func (c *Coordinator) Delay(k int) time.Duration {
	d := c.policy.Backoff(k)
	if c.policy.Jitter && d > 0 {
		return c.jitter(d)
	}
	return d
}

// Do runs invoke until it succeeds, attempts are exhausted, the failure is
// not retryable, or ctx is done between attempts.
//
// In-flight attempts run under a context that ignores ctx cancellation so a
// started call completes or times out on its own; only CallTimeout bounds it.
func (c *Coordinator) Do(ctx context.Context, endpoint string, call rpc.Call, invoke Invoker) Result {
	var result Result
	callCtx := context.WithoutCancel(ctx)

	for k := 1; k <= c.policy.MaxAttempts; k++ {
		if k > 1 {
			if ctx.Err() != nil {
				result.Cancelled = true
				return result
			}

			delay := c.Delay(k)
			c.logger.Debug("retrying call",
				zap.String("endpoint", endpoint),
				zap.String("method", call.Method),
				zap.Int("attempt", k),
				zap.Duration("delay", delay),
				zap.Error(result.Err),
			)
			if err := c.sleep(ctx, delay); err != nil {
				result.Cancelled = true
				return result
			}
			c.retries.Inc(1)
		}

		attempt := c.invokeOnce(callCtx, endpoint, call, k, invoke)
		result.Attempts = append(result.Attempts, attempt)
		result.Final = attempt
		result.Err = nil
		c.attempts.Inc(1)

		if attempt.Succeeded() {
			return result
		}

		result.Err = &rpc.Error{Kind: attempt.Kind, Code: attempt.Code, Message: attempt.Error}
		if !c.policy.Retryable(result.Err) {
			c.nonRetryable.Inc(1)
			return result
		}
	}

	c.exhausted.Inc(1)
	c.logger.Warn("retries exhausted",
		zap.String("endpoint", endpoint),
		zap.String("method", call.Method),
		zap.Int("attempts", len(result.Attempts)),
		zap.Error(result.Err),
	)
	return result
}

func (c *Coordinator) invokeOnce(ctx context.Context, endpoint string, call rpc.Call, k int, invoke Invoker) rpc.RequestAttempt {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	issuedAt := c.clock.Now()
	start := time.Now()
	err := invoke(ctx)
	elapsed := time.Since(start)

	return rpc.NewAttempt(endpoint, call, k, issuedAt, elapsed, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d == math.MaxInt64 {
		return time.Duration(rand.Int64N(int64(d)))
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}
