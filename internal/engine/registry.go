// Package engine wires the per-endpoint protection primitives into benchmark
// runs and an independent health monitor.
//
// A Registry owns all mutable per-endpoint state: the rate limiter, the
// bulkhead, the circuit breaker(s), the health record and the attempt
// recorders. It is an explicit object passed to the Runner and the Monitor,
// so independent runs never share state unless they share a Registry.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/breaker"
	"github.com/wesleyorama2/rpcbench/internal/clock"
	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rate"
	"github.com/wesleyorama2/rpcbench/internal/stats"
)

// Granularity selects whether an endpoint has one breaker or one per method.
type Granularity string

const (
	GranularityEndpoint Granularity = "endpoint"
	GranularityMethod   Granularity = "method"
)

// EndpointConfig configures the state created for each endpoint.
type EndpointConfig struct {
	Limiter     rate.Config
	Breaker     breaker.Config
	Granularity Granularity
	Bulkhead    breaker.BulkheadConfig
	Health      health.Thresholds
	Recorder    stats.RecorderConfig

	// MaxProbes bounds the health record (0 uses health.DefaultMaxProbes)
	MaxProbes int
}

// DefaultEndpointConfig returns an unlimited limiter, the default breaker at
// endpoint granularity, an uncapped bulkhead and default health thresholds.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		Limiter:     rate.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		Granularity: GranularityEndpoint,
		Bulkhead:    breaker.DefaultBulkheadConfig(),
		Health:      health.DefaultThresholds(),
		Recorder:    stats.DefaultRecorderConfig(),
	}
}

// Validate checks every component configuration.
func (c EndpointConfig) Validate() error {
	var errs []error
	if err := c.Limiter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limiter: %w", err))
	}
	if err := c.Breaker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("breaker: %w", err))
	}
	switch c.Granularity {
	case "", GranularityEndpoint, GranularityMethod:
	default:
		errs = append(errs, fmt.Errorf("unknown breaker granularity %q", c.Granularity))
	}
	if err := c.Bulkhead.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bulkhead: %w", err))
	}
	if err := c.Health.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("health: %w", err))
	}
	return errors.Join(errs...)
}

// Options holds collaborators shared by the Registry, Runner and Monitor.
// All fields are optional.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
	Scope  tally.Scope
}

func (o Options) withDefaults() Options {
	o.Clock = clock.OrSystem(o.Clock)
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Scope == nil {
		o.Scope = tally.NoopScope
	}
	return o
}

// Registry holds per-endpoint state keyed by endpoint identity. Endpoints are
// created on first reference and live as long as the Registry.
//
// Registry is safe for concurrent use.
type Registry struct {
	defaults EndpointConfig
	opts     Options

	mu        sync.RWMutex
	overrides map[string]EndpointConfig
	endpoints map[string]*Endpoint
}

// NewRegistry creates a Registry whose endpoints use cfg unless overridden.
func NewRegistry(cfg EndpointConfig, opts Options) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid endpoint config: %w", err)
	}
	return &Registry{
		defaults:  cfg,
		opts:      opts.withDefaults(),
		overrides: make(map[string]EndpointConfig),
		endpoints: make(map[string]*Endpoint),
	}, nil
}

// Configure sets the configuration used when id is first referenced. It
// fails if id already exists.
func (r *Registry) Configure(id string, cfg EndpointConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config for endpoint %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; ok {
		return fmt.Errorf("endpoint %s already in use", id)
	}
	r.overrides[id] = cfg
	return nil
}

// Endpoint returns the state for id, creating it on first reference.
func (r *Registry) Endpoint(id string) *Endpoint {
	r.mu.RLock()
	ep, ok := r.endpoints[id]
	r.mu.RUnlock()
	if ok {
		return ep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[id]; ok {
		return ep
	}

	cfg, ok := r.overrides[id]
	if !ok {
		cfg = r.defaults
	}
	ep = newEndpoint(id, cfg, r.opts)
	r.endpoints[id] = ep
	return ep
}

// Lookup returns the state for id without creating it.
func (r *Registry) Lookup(id string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ep, ok
}

// Endpoints returns every known endpoint sorted by identity.
func (r *Registry) Endpoints() []*Endpoint {
	r.mu.RLock()
	out := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
