package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rpcbench/internal/config"
	"github.com/wesleyorama2/rpcbench/internal/output"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				if len(args) == 0 {
					return errors.New("--config is required")
				}
				configFile = args[0]
			}

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid: %d endpoint(s), %d call(s), %d request(s) each\n",
				output.SuccessIcon(true), configFile, len(cfg.Endpoints), len(cfg.Calls), cfg.Load.Requests)
			return nil
		},
		Args: cobra.MaximumNArgs(1),
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	return cmd
}
