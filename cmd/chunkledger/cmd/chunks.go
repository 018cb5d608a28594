package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chunkledger/internal/chunk"
	"chunkledger/internal/core"
	"chunkledger/internal/datatype"
	"chunkledger/pkg/ledger"
)

type chunkView struct {
	Path          string    `json:"chunk_path"`
	Hash          string    `json:"chunk_hash"`
	FileSize      int64     `json:"file_size"`
	Chunkable     bool      `json:"is_chunkable"`
	DataType      string    `json:"data_type"`
	TimeBin       time.Time `json:"time_bin"`
	StudyID       string    `json:"study_id"`
	ParticipantID string    `json:"participant_id"`
	Survey        string    `json:"survey_id,omitempty"`
	URL           string    `json:"url,omitempty"`
}

func chunksCmd(a *App) *cobra.Command {
	var (
		study        string
		participants []string
		types        []string
		start, end   string
		limit        int
		presign      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "List registered chunks",
		Long: `Lists ledger rows ordered by time bin. --start and --end take RFC 3339 times
and select whole hourly bins. --presign adds a download URL valid for the given duration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := ledger.ChunkFilter{StudyID: study, ParticipantIDs: participants, Limit: limit}
			for _, name := range types {
				t, err := datatype.Parse(name)
				if err != nil {
					return err
				}
				f.DataTypes = append(f.DataTypes, t)
			}
			var err error
			if f.TimeStart, err = parseTime(start); err != nil {
				return errors.Wrap(err, "--start")
			}
			if f.TimeEnd, err = parseTime(end); err != nil {
				return errors.Wrap(err, "--end")
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				chunks, err := svc.Chunks(cmd.Context(), f)
				if err != nil {
					return err
				}
				views := make([]chunkView, 0, len(chunks))
				for _, c := range chunks {
					v := chunkView{
						Path:          c.Path,
						Hash:          c.Hash,
						FileSize:      c.FileSize,
						Chunkable:     c.Chunkable,
						DataType:      string(c.DataType),
						TimeBin:       chunk.BucketStart(c.TimeBin),
						StudyID:       c.StudyID,
						ParticipantID: c.ParticipantID,
						Survey:        c.SurveyObjectID,
					}
					if presign > 0 {
						if v.URL, err = svc.ChunkURL(cmd.Context(), c.Path, presign); err != nil {
							return err
						}
					}
					views = append(views, v)
				}
				return a.print(views)
			})
		},
	}
	cmd.Flags().StringVar(&study, "study", "", "study id")
	cmd.Flags().StringSliceVar(&participants, "participant", nil, "participant ids")
	cmd.Flags().StringSliceVar(&types, "type", nil, "data types, e.g. gps,accelerometer")
	cmd.Flags().StringVar(&start, "start", "", "first time bin (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "last time bin (RFC 3339)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().DurationVar(&presign, "presign", 0, "add download URLs valid for this long")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
