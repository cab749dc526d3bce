package server

import (
	"io"
	"net/http"
	"time"

	prom "github.com/m3db/prometheus_client_golang/prometheus"
	"github.com/uber-go/tally"
	promreporter "github.com/uber-go/tally/prometheus"
	"go.uber.org/zap"
)

// Metrics is a root tally scope reported through Prometheus.
type Metrics struct {
	Scope   tally.Scope
	Handler http.Handler

	closer io.Closer
}

// NewMetrics creates a root scope with its own Prometheus registry. The
// scope is flushed every interval. Names are sanitized to the Prometheus
// character set, so dotted counter names are exported with underscores.
func NewMetrics(prefix string, interval time.Duration, logger *zap.Logger) *Metrics {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reporter := promreporter.NewReporter(promreporter.Options{
		Registerer: prom.NewRegistry(),
		OnRegisterError: func(err error) {
			logger.Warn("failed to register metric", zap.Error(err))
		},
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:          prefix,
		CachedReporter:  reporter,
		Separator:       promreporter.DefaultSeparator,
		SanitizeOptions: &promreporter.DefaultSanitizerOpts,
	}, interval)

	return &Metrics{
		Scope:   scope,
		Handler: reporter.HTTPHandler(),
		closer:  closer,
	}
}

// Close flushes and stops the scope.
func (m *Metrics) Close() error {
	return m.closer.Close()
}
