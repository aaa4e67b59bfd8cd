// Command engine runs the HAMon monitoring engine.
//
// # Usage
//
//	engine serve --config /etc/hamon/engine.yaml
//	engine healthcheck
//	engine analyze [installation-id...]
//	engine dispatch
//	engine flush
//	engine migrate up|status|rollback
//
// # Configuration
//
// The engine can be configured via:
// - A YAML config file (--config)
// - Environment variables (HAMON_*)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

type rootFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "engine",
		Short:         "Home Assistant installation monitoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("HAMON_CONFIG"), "Path to YAML config file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(flags),
		newHealthcheckCommand(flags),
		newAnalyzeCommand(flags),
		newDispatchCommand(flags),
		newFlushCommand(flags),
		newMigrateCommand(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "hamon-engine %s\n", version)
			},
		},
	)
	return root
}
