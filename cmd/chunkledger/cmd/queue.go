package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"chunkledger/internal/core"
)

func enqueueCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <raw-key>...",
		Short: "Queue raw uploads for the next pass",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				added, err := svc.EnqueueAll(cmd.Context(), args)
				if _, perr := fmt.Fprintf(a.Out, "queued %d of %d\n", added, len(args)); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func backfillCmd(a *App) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Queue raw objects found in the object store",
		Long:  `Lists raw uploads under --prefix (default: the raw prefix) and queues the ones not already queued.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				rep, err := svc.Backfill(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				return a.print(map[string]int{"listed": rep.Listed, "added": rep.Added, "skipped": rep.Skipped})
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix to list")
	return cmd
}

func dedupeCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Collapse duplicate chunk paths in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				rep, err := svc.DedupeChunks(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(map[string]int{
					"paths":    rep.Paths,
					"deleted":  rep.Deleted,
					"purged":   rep.Purged,
					"requeued": rep.Requeued,
				})
			})
		},
	}
}
