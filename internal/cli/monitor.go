package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/internal/config"
	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/output"
	"github.com/wesleyorama2/rpcbench/internal/rpc/jsonrpc"
	"github.com/wesleyorama2/rpcbench/internal/server"
)

type monitorOptions struct {
	configFile string
	listen     string
	duration   time.Duration
	interval   time.Duration
	format     string
}

func newMonitorCmd(g *globalOptions) *cobra.Command {
	o := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe endpoint health and serve the status API",
		Long: `Probe every configured endpoint on the health interval and serve
/healthz, /endpoints, /endpoints/{endpoint}/health and /metrics.

  rpcbench monitor --config bench.yaml --listen :9090 --duration 1h

The endpoint path segment is the URL-escaped endpoint URL. A health summary is
printed when the monitor stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.configFile == "" {
				return errors.New("--config is required")
			}
			cfg, err := config.LoadConfig(o.configFile)
			if err != nil {
				return err
			}
			if o.interval > 0 {
				cfg.Health.Interval = config.Duration(o.interval)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if o.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, o.duration)
				defer cancel()
			}

			summaries, err := runMonitor(ctx, cfg, o.listen, g.logger)
			if err != nil {
				return err
			}

			format, err := output.ParseFormat(o.format)
			if err != nil {
				return err
			}
			if format != output.FormatText {
				return output.Encode(cmd.OutOrStdout(), format, summaries)
			}
			output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: g.noColor}).PrintHealth(summaries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "Configuration file")
	cmd.Flags().StringVar(&o.listen, "listen", ":9090", "Status server address (empty to disable)")
	cmd.Flags().DurationVar(&o.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&o.interval, "interval", 0, "Probe interval (overrides the config)")
	cmd.Flags().StringVar(&o.format, "format", "text", "Summary format: text, json or yaml")
	return cmd
}

// runMonitor probes until ctx is done and returns the final summaries.
func runMonitor(ctx context.Context, cfg *config.Config, listen string, logger *zap.Logger) ([]engine.EndpointHealth, error) {
	metrics := server.NewMetrics("rpcbench", time.Second, logger)
	defer metrics.Close()

	opts := engine.Options{Logger: logger, Scope: metrics.Scope}
	registry, err := cfg.NewRegistry(opts)
	if err != nil {
		return nil, err
	}
	monitor, err := engine.NewMonitor(registry, jsonrpc.New(cfg.TransportOptions()...), cfg.ToMonitorConfig(), opts)
	if err != nil {
		return nil, err
	}

	if err := monitor.Start(ctx, cfg.URLs()); err != nil {
		return nil, err
	}
	defer monitor.Stop()

	if listen == "" {
		<-ctx.Done()
	} else {
		srv := server.New(registry, monitor, server.Options{Metrics: metrics.Handler, Logger: logger})
		if err := srv.ListenAndServe(ctx, listen); err != nil {
			return nil, fmt.Errorf("status server: %w", err)
		}
	}

	monitor.Stop()
	return monitor.Summaries(), nil
}
