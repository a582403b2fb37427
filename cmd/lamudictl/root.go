package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/shared"
)

// cfg is loaded once before any subcommand runs.
var cfg shared.Config

func newRootCommand() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "lamudictl",
		Short:         "Operate the Lamudi listing ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = shared.Load()
			level := cfg.LogLevel
			if debug {
				level = "debug"
			}
			log.Logger = observability.NewLogger(cfg.AppEnv, level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newMigrateCommand(),
		newEnqueueCommand(),
		newQueueCommand(),
		newReconcileCommand(),
		newBackfillCommand(),
	)
	return root
}
