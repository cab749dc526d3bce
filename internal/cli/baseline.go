package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally"

	"github.com/wesleyorama2/rpcbench/internal/regression"
)

type baselineOptions struct {
	bench  benchOptions
	out    string
	label  string
	append bool
}

func newBaselineCmd(g *globalOptions) *cobra.Command {
	o := &baselineOptions{}

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Run a benchmark and save its stats as baselines",
		Long: `Run a benchmark and store the per-method stats as baselines for later
regression comparison.

  rpcbench baseline --config bench.yaml --out baselines.yaml --label v1.4.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.out == "" {
				return errors.New("--out is required")
			}
			cfg, err := o.bench.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runBenchmark(ctx, cfg, g.logger, tally.NoopScope)
			if err != nil {
				return err
			}
			if result.Cancelled {
				return errors.New("run was cancelled; baselines not saved")
			}

			fresh := result.Baselines(o.label)
			baselines := fresh
			if o.append {
				existing, err := regression.LoadBaselines(o.out)
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				baselines = append(existing, fresh...)
			}
			if err := regression.SaveBaselines(o.out, baselines); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d baseline(s) to %s\n", len(fresh), o.out)
			return nil
		},
	}

	o.bench.addFlags(cmd)
	cmd.Flags().StringVar(&o.out, "out", "", "Baseline file to write (.yaml or .json)")
	cmd.Flags().StringVar(&o.label, "label", "", "Label stored with each baseline")
	cmd.Flags().BoolVar(&o.append, "append", false, "Append to an existing baseline file")
	return cmd
}
