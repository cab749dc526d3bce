package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/health"
	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// ErrMonitorRunning is returned by Start when the monitor is already running.
var ErrMonitorRunning = errors.New("monitor already running")

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// Interval between probes of one endpoint (default: 30s)
	Interval time.Duration

	// Timeout bounds each probe (default: 5s)
	Timeout time.Duration

	// Probe is the lightweight call issued to every endpoint
	Probe rpc.Call
}

// DefaultMonitorConfig returns a 30 second interval and a 5 second timeout.
// The probe call must still be set.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// EndpointHealth pairs an endpoint with its health summary.
type EndpointHealth struct {
	Endpoint string         `json:"endpoint"`
	Summary  health.Summary `json:"summary"`
}

// Monitor probes endpoints on its own schedule, independent of benchmark
// runs, and appends the outcomes to each endpoint's health record.
//
// Probes go through the same admission path as benchmark calls but are not
// retried.
type Monitor struct {
	registry  *Registry
	transport rpc.Transport
	cfg       MonitorConfig
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	session *monitorSession

	probes   tally.Counter
	failures tally.Counter
	skipped  tally.Counter
}

// monitorSession is one Start..Stop lifetime of the probe loops. done is
// closed once every loop has returned.
type monitorSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor.
func NewMonitor(registry *Registry, transport rpc.Transport, cfg MonitorConfig, opts Options) (*Monitor, error) {
	if registry == nil || transport == nil {
		return nil, errors.New("monitor needs a registry and a transport")
	}
	d := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Probe.Method == "" {
		return nil, errors.New("monitor probe method is required")
	}

	opts = opts.withDefaults()
	scope := opts.Scope.SubScope("monitor")
	return &Monitor{
		registry:  registry,
		transport: transport,
		cfg:       cfg,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("component", "monitor")),
		probes:    scope.Counter("probes"),
		failures:  scope.Counter("failures"),
		skipped:   scope.Counter("skipped"),
	}, nil
}

// ProbeOnce probes endpoint once and records the outcome.
func (m *Monitor) ProbeOnce(ctx context.Context, endpoint string) health.Probe {
	ep := m.registry.Endpoint(endpoint)
	probe := m.probe(ctx, ep)
	ep.Health().Append(probe)

	m.probes.Inc(1)
	switch {
	case probe.Skipped:
		m.skipped.Inc(1)
	case !probe.Success:
		m.failures.Inc(1)
		m.logger.Debug("probe failed",
			zap.String("endpoint", endpoint),
			zap.String("error", probe.Error),
		)
	}
	return probe
}

func (m *Monitor) probe(ctx context.Context, ep *Endpoint) health.Probe {
	call := m.cfg.Probe
	at := m.opts.Clock.Now()

	permit, reason, err := ep.Admit(ctx, call.Method)
	if err != nil {
		return health.Probe{At: at, Skipped: true, Error: err.Error()}
	}
	switch reason {
	case "":
	case rpc.RejectCircuitOpen, rpc.RejectTrialLimit, rpc.RejectExcluded:
		return health.Probe{At: at, Error: string(reason)}
	default:
		return health.Probe{At: at, Skipped: true, Error: string(reason)}
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
	start := time.Now()
	err = m.transport.Invoke(probeCtx, ep.ID(), call)
	latency := time.Since(start)
	cancel()

	permit.Done(err == nil)

	p := health.Probe{At: at, Latency: latency, Success: err == nil}
	if err != nil {
		rpcErr := rpc.Classify(err)
		p.Error = rpcErr.Error()
		if rpcErr.Kind == rpc.KindFatal {
			ep.Exclude(rpcErr)
		}
	}
	return p
}

// Start launches one probe loop per endpoint. Each loop probes immediately
// and then every Interval until Stop is called or ctx is done. Once the loops
// have exited the monitor can be started again.
func (m *Monitor) Start(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return errors.New("no endpoints to monitor")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return ErrMonitorRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := &monitorSession{cancel: cancel, done: make(chan struct{})}
	m.session = s

	var wg sync.WaitGroup
	for _, id := range endpoints {
		m.registry.Endpoint(id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.loop(loopCtx, id)
		}(id)
	}
	go m.finish(s, &wg)

	m.logger.Info("health monitor started",
		zap.Int("endpoints", len(endpoints)),
		zap.Duration("interval", m.cfg.Interval),
	)
	return nil
}

// finish clears s once its loops have exited, whether through Stop or the
// caller's context.
func (m *Monitor) finish(s *monitorSession, wg *sync.WaitGroup) {
	wg.Wait()
	s.cancel()

	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()

	m.logger.Info("health monitor stopped")
	close(s.done)
}

func (m *Monitor) loop(ctx context.Context, endpoint string) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.ProbeOnce(ctx, endpoint)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop stops every probe loop and waits for in-flight probes to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Running reports whether probe loops are active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Summary returns the health summary of endpoint, if it is known.
func (m *Monitor) Summary(endpoint string) (health.Summary, bool) {
	ep, ok := m.registry.Lookup(endpoint)
	if !ok {
		return health.Summary{}, false
	}
	return ep.HealthSummary(m.cfg.Probe.Method), true
}

// Summaries returns the health summary of every registry endpoint, sorted.
func (m *Monitor) Summaries() []EndpointHealth {
	eps := m.registry.Endpoints()
	out := make([]EndpointHealth, 0, len(eps))
	for _, ep := range eps {
		out = append(out, EndpointHealth{
			Endpoint: ep.ID(),
			Summary:  ep.HealthSummary(m.cfg.Probe.Method),
		})
	}
	return out
}

