package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"chunkledger/internal/core"
)

func migrateCmd(a *App) *cobra.Command {
	var to int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		Long: `Applies pending migrations, or stops at --to. The migration that adds the
unique chunk path index fails while duplicate paths exist; run "dedupe" first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				if to > 0 {
					if err := svc.Store().MigrateTo(cmd.Context(), to); err != nil {
						return err
					}
					_, err := fmt.Fprintf(a.Out, "migrated to version %d\n", to)
					return err
				}
				if err := svc.Store().Migrate(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.Out, "migrated to latest version")
				return err
			})
		},
	}
	cmd.Flags().IntVar(&to, "to", 0, "stop at this schema version")
	return cmd
}
