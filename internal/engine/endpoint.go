package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rate"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// Endpoint is the long-lived state of one endpoint.
//
// Endpoint is safe for concurrent use. Benchmark workers and health probes
// go through the same Admit path.
type Endpoint struct {
	id     string
	cfg    EndpointConfig
	opts   Options
	logger *zap.Logger
	scope  tally.Scope

	limiter  rate.Limiter
	bulkhead *breaker.Bulkhead
	health   *health.Record

	mu        sync.Mutex
	breakers  map[string]*breaker.Breaker
	recorders map[string]*stats.Recorder
	excluded  *rpc.Error

	limiterAdmitted tally.Counter
	limiterRejected tally.Counter
}

func newEndpoint(id string, cfg EndpointConfig, opts Options) *Endpoint {
	scope := opts.Scope.Tagged(map[string]string{"endpoint": id})

	limiter, err := rate.New(cfg.Limiter, opts.Clock)
	if err != nil {
		// cfg is validated by the Registry before use
		limiter = rate.NewUnlimited()
	}

	limiterScope := scope.SubScope("limiter")
	return &Endpoint{
		id:              id,
		cfg:             cfg,
		opts:            opts,
		logger:          opts.Logger.With(zap.String("endpoint", id)),
		scope:           scope,
		limiter:         limiter,
		bulkhead:        breaker.NewBulkhead(cfg.Bulkhead, scope),
		health:          health.NewRecord(cfg.Health.Retention, cfg.MaxProbes, opts.Clock),
		breakers:        make(map[string]*breaker.Breaker),
		recorders:       make(map[string]*stats.Recorder),
		limiterAdmitted: limiterScope.Counter("admitted"),
		limiterRejected: limiterScope.Counter("rejected"),
	}
}

// ID returns the endpoint identity.
func (e *Endpoint) ID() string {
	return e.id
}

// Config returns the endpoint's configuration.
func (e *Endpoint) Config() EndpointConfig {
	return e.cfg
}

// Limiter returns the endpoint's rate limiter.
func (e *Endpoint) Limiter() rate.Limiter {
	return e.limiter
}

// Bulkhead returns the endpoint's bulkhead.
func (e *Endpoint) Bulkhead() *breaker.Bulkhead {
	return e.bulkhead
}

// Health returns the endpoint's probe history.
func (e *Endpoint) Health() *health.Record {
	return e.health
}

// breakerKey maps a method to its breaker under the configured granularity.
func (e *Endpoint) breakerKey(method string) string {
	if e.cfg.Granularity == GranularityMethod {
		return method
	}
	return ""
}

// Breaker returns the breaker guarding method, creating it on first use.
func (e *Endpoint) Breaker(method string) *breaker.Breaker {
	key := e.breakerKey(method)

	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[key]; ok {
		return b
	}
	name := e.id
	if key != "" {
		name = e.id + " " + key
	}
	b := breaker.New(name, e.cfg.Breaker, breaker.Options{
		Clock:  e.opts.Clock,
		Logger: e.opts.Logger,
		Scope:  e.opts.Scope,
	})
	e.breakers[key] = b
	return b
}

// Breakers returns every breaker created so far, sorted by name.
func (e *Endpoint) Breakers() []*breaker.Breaker {
	e.mu.Lock()
	out := make([]*breaker.Breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		out = append(out, b)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Recorder returns the attempt recorder for method, creating it on first use.
func (e *Endpoint) Recorder(method string) *stats.Recorder {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.recorders[method]; ok {
		return r
	}
	r := stats.NewRecorderWithConfig(e.id, method, e.cfg.Recorder)
	e.recorders[method] = r
	return r
}

// Methods returns the methods that have recorders, sorted.
func (e *Endpoint) Methods() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.recorders))
	for m := range e.recorders {
		out = append(out, m)
	}
	e.mu.Unlock()

	sort.Strings(out)
	return out
}

// Exclude stops further calls to the endpoint after a fatal error. Only the
// first error is kept.
func (e *Endpoint) Exclude(err *rpc.Error) {
	e.mu.Lock()
	first := e.excluded == nil
	if first {
		e.excluded = err
	}
	e.mu.Unlock()

	if first {
		e.scope.Counter("excluded").Inc(1)
		e.logger.Warn("endpoint excluded after fatal error", zap.Error(err))
	}
}

// Excluded returns the fatal error that excluded the endpoint, or nil.
func (e *Endpoint) Excluded() *rpc.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.excluded
}

// Reinstate clears an exclusion once the configuration has been corrected.
func (e *Endpoint) Reinstate() {
	e.mu.Lock()
	was := e.excluded
	e.excluded = nil
	e.mu.Unlock()

	if was != nil {
		e.logger.Info("endpoint reinstated")
	}
}

// HealthSummary classifies the probe history against the breaker that
// guards method.
func (e *Endpoint) HealthSummary(method string) health.Summary {
	return e.health.Summary(e.Breaker(method).State(), e.cfg.Health)
}

// Permit is an admitted call's hold on the breaker and the bulkhead. Exactly
// one of Done or Cancel must be called.
type Permit struct {
	breaker    *breaker.Breaker
	generation breaker.Generation
	release    func()
	observer   rate.Observer
}

// Done releases the bulkhead slot and records the call's final outcome.
func (p *Permit) Done(success bool) {
	p.release()
	p.breaker.Record(p.generation, success)
	if p.observer != nil {
		p.observer.Observe(success)
	}
}

// Cancel releases the permit for a call that never ran.
func (p *Permit) Cancel() {
	p.release()
	p.breaker.Cancel(p.generation)
}

// Admit runs a call for method through the exclusion check, the rate
// limiter, the breaker and the bulkhead, in that order.
//
// A rejected call returns a nil Permit and the reason. An error is returned
// only when ctx ended while the call waited in the bulkhead queue.
func (e *Endpoint) Admit(ctx context.Context, method string) (*Permit, rpc.RejectReason, error) {
	if e.Excluded() != nil {
		return nil, rpc.RejectExcluded, nil
	}

	if !e.limiter.TryAcquire() {
		e.limiterRejected.Inc(1)
		return nil, rpc.RejectRateLimited, nil
	}
	e.limiterAdmitted.Inc(1)

	b := e.Breaker(method)
	gen, err := b.Allow()
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return nil, rpc.RejectCircuitOpen, nil
	case errors.Is(err, breaker.ErrTrialLimit):
		return nil, rpc.RejectTrialLimit, nil
	}

	release, err := e.bulkhead.Acquire(ctx)
	if err != nil {
		b.Cancel(gen)
		switch {
		case errors.Is(err, breaker.ErrBulkheadFull):
			return nil, rpc.RejectBulkheadFull, nil
		case errors.Is(err, breaker.ErrQueueFull):
			return nil, rpc.RejectQueueFull, nil
		}
		return nil, "", err
	}

	p := &Permit{breaker: b, generation: gen, release: release}
	if obs, ok := e.limiter.(rate.Observer); ok {
		p.observer = obs
	}
	return p, "", nil
}
