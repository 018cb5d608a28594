package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chunkledger/internal/core"
)

func lockCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the run lock",
	}
	cmd.AddCommand(lockStatusCmd(a), lockReleaseCmd(a))
	return cmd
}

type lockView struct {
	Held       bool       `json:"held"`
	Holder     string     `json:"holder,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func lockStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run lock lease",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				info, held, err := svc.LockStatus(cmd.Context())
				if err != nil {
					return err
				}
				v := lockView{Held: held}
				if held {
					v.Holder = info.Holder
					v.AcquiredAt = &info.AcquiredAt
					v.ExpiresAt = &info.ExpiresAt
				}
				return a.print(v)
			})
		},
	}
}

func lockReleaseCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Force-release the run lock",
		Long:  `Drops the lease regardless of its holder. Only use it when the holding pass is known to be dead.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				released, err := svc.ForceReleaseLock(cmd.Context())
				if err != nil {
					return err
				}
				msg := "no lock held"
				if released {
					msg = "lock released"
				}
				_, err = fmt.Fprintln(a.Out, msg)
				return err
			})
		},
	}
}
