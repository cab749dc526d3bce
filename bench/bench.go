// Package bench is the library entry point for benchmarking JSON-RPC
// endpoints.
//
// # Quick Start
//
//	cfg, err := bench.LoadConfig("bench.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := bench.Run(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, s := range result.Score.Scores {
//	    fmt.Printf("%d. %s grade %s\n", s.Rank, s.Endpoint, s.Grade)
//	}
//
// # Custom Transport
//
// Any rpc transport can be benchmarked; the default is JSON-RPC 2.0 over
// HTTP using the config's transport headers:
//
//	result, err := bench.Run(ctx, cfg, bench.WithTransport(myTransport))
package bench

import (
	"context"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/config"
	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/regression"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
	"github.com/wesleyorama2/rpcbench/internal/rpc/jsonrpc"
)

// Config is a benchmark configuration.
type Config = config.Config

// Result is the outcome of a run.
type Result = engine.RunResult

// Transport issues one call to one endpoint.
type Transport = rpc.Transport

// Call is a method and its params.
type Call = rpc.Call

// Baseline is a stored stats snapshot used for regression comparison.
type Baseline = regression.Baseline

// LoadConfig loads, defaults and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// ParseConfig parses, defaults and validates configuration data. The format
// is chosen by the extension of path.
func ParseConfig(data []byte, path string) (*Config, error) {
	if err := config.ValidateSchema(data, path); err != nil {
		return nil, err
	}
	cfg, err := config.ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type options struct {
	transport Transport
	logger    *zap.Logger
	scope     tally.Scope
	baselines []Baseline
}

// Option configures Run.
type Option func(*options)

// WithTransport replaces the JSON-RPC transport.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithScope sets the metrics scope.
func WithScope(s tally.Scope) Option {
	return func(o *options) {
		o.scope = s
	}
}

// WithBaselines compares the run against baselines in addition to the
// configured baseline file.
func WithBaselines(baselines ...Baseline) Option {
	return func(o *options) {
		o.baselines = append(o.baselines, baselines...)
	}
}

// Run benchmarks every configured endpoint once. The returned error is
// non-nil only when the run could not start; endpoint failures are reported
// in the result.
func Run(ctx context.Context, cfg *Config, opts ...Option) (*Result, error) {
	o := options{
		logger: zap.NewNop(),
		scope:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = jsonrpc.New(cfg.TransportOptions()...)
	}

	engineOpts := engine.Options{Logger: o.logger, Scope: o.scope}
	registry, err := cfg.NewRegistry(engineOpts)
	if err != nil {
		return nil, err
	}
	runner, err := engine.NewRunner(registry, o.transport, cfg.ToRunnerConfig(), engineOpts)
	if err != nil {
		return nil, err
	}

	store, err := baselineStore(cfg, o.baselines)
	if err != nil {
		return nil, err
	}

	o.logger.Info("starting benchmark",
		zap.String("name", cfg.Name),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.Int("calls", len(cfg.Calls)),
		zap.Int("requests", cfg.Load.Requests),
		zap.Int("concurrency", cfg.Load.Concurrency),
	)
	result, err := runner.Run(ctx, cfg.ToPlan(store))
	if err != nil {
		return nil, err
	}
	for _, runErr := range result.Errors {
		o.logger.Warn("endpoint error", zap.Error(runErr))
	}
	return result, nil
}

func baselineStore(cfg *Config, extra []Baseline) (regression.BaselineStore, error) {
	store, err := cfg.LoadBaselineStore()
	if err != nil || len(extra) == 0 {
		return store, err
	}
	if store == nil {
		return regression.NewMemoryStore(extra...), nil
	}
	for _, b := range extra {
		if err := store.Put(b); err != nil {
			return nil, err
		}
	}
	return store, nil
}
