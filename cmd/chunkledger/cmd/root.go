package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chunkledger",
		Short:        "chunkledger merges raw sensor uploads into hourly chunks.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		processCmd(a),
		migrateCmd(a),
		enqueueCmd(a),
		backfillCmd(a),
		dedupeCmd(a),
		chunksCmd(a),
		lockCmd(a),
		surveyCmd(a),
	)
	return cmd
}
