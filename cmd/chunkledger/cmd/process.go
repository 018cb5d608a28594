package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chunkledger/internal/core"
	"chunkledger/internal/logging"
	"chunkledger/internal/pipeline"
)

type processOutput struct {
	Holder          string  `json:"holder"`
	Participants    int     `json:"participants"`
	Files           int     `json:"files"`
	Removed         int     `json:"removed"`
	BadFiles        int     `json:"bad_files"`
	Retryable       int     `json:"retryable"`
	ChunksCreated   int     `json:"chunks_created"`
	ChunksUpdated   int     `json:"chunks_updated"`
	ChunksUnchanged int     `json:"chunks_unchanged"`
	Registered      int     `json:"registered"`
	RowsDropped     int     `json:"rows_dropped"`
	Seconds         float64 `json:"seconds"`
	Errors          int     `json:"errors"`
}

func processCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one pass over the work queue",
		Long: `Takes the run lock, merges every queued raw upload into its hourly chunks and
removes the merged items from the queue. Exits with status 2 when another pass
holds the run lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				rep, runErr := svc.Process(cmd.Context())
				if err := svc.Metrics().WriteTextfile(a.Config.Metrics.Textfile); err != nil {
					logging.Warn().Err(err).Msg("metrics not written")
				}
				out := processOutput{
					Holder:          rep.Holder,
					Participants:    rep.Participants,
					Files:           rep.Files,
					Removed:         rep.Removed,
					BadFiles:        rep.BadFiles,
					Retryable:       rep.Retryable,
					ChunksCreated:   rep.ChunksCreated,
					ChunksUpdated:   rep.ChunksUpdated,
					ChunksUnchanged: rep.ChunksUnchanged,
					Registered:      rep.Registered,
					RowsDropped:     rep.RowsDropped,
					Seconds:         rep.Duration.Seconds(),
				}
				var passErr *pipeline.PassError
				if errors.As(runErr, &passErr) {
					out.Errors = len(passErr.Errors.Errors)
				}
				if runErr != nil && passErr == nil {
					return runErr
				}
				if err := a.print(out); err != nil {
					return err
				}
				return runErr
			})
		},
	}
}
