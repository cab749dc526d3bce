package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rpcbench/bench"
	"github.com/wesleyorama2/rpcbench/internal/config"
	"github.com/wesleyorama2/rpcbench/internal/engine"
	"github.com/wesleyorama2/rpcbench/internal/output"
)

var errRegressionDetected = errors.New("performance regression detected")

type benchOptions struct {
	configFile string

	// quick mode
	urls        []string
	method      string
	params      string
	requests    int
	concurrency int
	timeout     time.Duration

	baselineFile     string
	failOnRegression bool

	format  string
	json    bool
	verbose bool
	output  string
}

func newBenchCmd(g *globalOptions) *cobra.Command {
	o := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark endpoints from a configuration file or flags",
		Long: `Issue a fixed number of calls to every endpoint and summarize latency,
success rate, admission decisions, regressions and the endpoint ranking.

Config file mode:
  rpcbench bench --config bench.yaml

Quick mode:
  rpcbench bench --url https://rpc-a.example.com --url https://rpc-b.example.com \
    --method eth_blockNumber --requests 200 --concurrency 16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := o.outputFormat()
			if err != nil {
				return err
			}
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runBenchmark(ctx, cfg, g.logger, tally.NoopScope)
			if err != nil {
				return err
			}

			if err := o.write(cmd, g, format, result); err != nil {
				return err
			}
			if o.failOnRegression && result.Regressed() {
				return errRegressionDetected
			}
			return nil
		},
	}

	o.addFlags(cmd)
	cmd.Flags().StringVar(&o.baselineFile, "baseline", "", "Baseline file to compare against (overrides the config)")
	cmd.Flags().BoolVar(&o.failOnRegression, "fail-on-regression", false, "Exit non-zero when a regression is detected")
	cmd.Flags().StringVar(&o.format, "format", "text", "Output format: text, json or yaml")
	cmd.Flags().BoolVar(&o.json, "json", false, "Output results as JSON (same as --format json)")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Show per-method detail")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Write results to a file instead of stdout")
	return cmd
}

// addFlags registers the flags shared with the baseline command.
func (o *benchOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "Configuration file")
	cmd.Flags().StringArrayVar(&o.urls, "url", nil, "Endpoint URL (repeatable, alternative to --config)")
	cmd.Flags().StringVar(&o.method, "method", "eth_blockNumber", "Method to call in quick mode")
	cmd.Flags().StringVar(&o.params, "params", "", "JSON array of params for --method")
	cmd.Flags().IntVarP(&o.requests, "requests", "n", 100, "Calls per endpoint")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 10, "Concurrent workers")
	cmd.Flags().DurationVarP(&o.timeout, "timeout", "t", 10*time.Second, "Per-attempt timeout")
}

// load reads the config file or builds one from the quick-mode flags.
// Explicit load flags override the file.
func (o *benchOptions) load(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case o.configFile != "":
		loaded, err := config.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case len(o.urls) > 0:
		quick, err := o.quickConfig()
		if err != nil {
			return nil, err
		}
		cfg = quick
	default:
		return nil, errors.New("either --config or --url is required")
	}

	flags := cmd.Flags()
	if flags.Changed("requests") {
		cfg.Load.Requests = o.requests
	}
	if flags.Changed("concurrency") {
		cfg.Load.Concurrency = o.concurrency
	}
	if flags.Changed("timeout") {
		cfg.Load.Timeout = config.Duration(o.timeout)
	}
	if o.baselineFile != "" {
		cfg.Regression.BaselineFile = o.baselineFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *benchOptions) quickConfig() (*config.Config, error) {
	call := config.CallConfig{Method: o.method}
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &call.Params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON array: %w", err)
		}
	}

	cfg := &config.Config{
		Calls: []config.CallConfig{call},
		Load: config.WorkloadConfig{
			Requests:    o.requests,
			Concurrency: o.concurrency,
			Timeout:     config.Duration(o.timeout),
		},
	}
	for _, u := range o.urls {
		cfg.Endpoints = append(cfg.Endpoints, config.EndpointConfig{URL: u})
	}
	config.ApplyDefaults(cfg)
	return cfg, nil
}

func (o *benchOptions) outputFormat() (output.OutputFormat, error) {
	if o.json {
		return output.FormatJSON, nil
	}
	return output.ParseFormat(o.format)
}

func (o *benchOptions) write(cmd *cobra.Command, g *globalOptions, format output.OutputFormat, result *engine.RunResult) error {
	w := cmd.OutOrStdout()
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return writeRun(w, format, o.verbose, g.noColor, result)
}

func writeRun(w io.Writer, format output.OutputFormat, verbose, noColor bool, result *engine.RunResult) error {
	if format != output.FormatText {
		return output.Encode(w, format, result)
	}
	output.NewConsole(output.ConsoleConfig{Writer: w, Verbose: verbose, NoColor: noColor}).PrintRun(result)
	return nil
}

// runBenchmark runs one benchmark with the CLI's logger.
func runBenchmark(ctx context.Context, cfg *config.Config, logger *zap.Logger, scope tally.Scope) (*engine.RunResult, error) {
	return bench.Run(ctx, cfg, bench.WithLogger(logger), bench.WithScope(scope))
}
