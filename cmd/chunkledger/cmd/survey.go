package cmd

import (
	"github.com/spf13/cobra"

	"chunkledger/internal/core"
	"chunkledger/pkg/ledger"
)

func surveyCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "survey",
		Short: "Manage the surveys chunks refer to",
	}
	cmd.AddCommand(surveyRegisterCmd(a))
	return cmd
}

func surveyRegisterCmd(a *App) *cobra.Command {
	var study, surveyType string
	cmd := &cobra.Command{
		Use:   "register <survey-object-id>",
		Short: "Create or update a survey record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				sv, err := svc.RegisterSurvey(cmd.Context(), ledger.Survey{ObjectID: args[0], StudyID: study, SurveyType: surveyType})
				if err != nil {
					return err
				}
				return a.print(map[string]any{
					"id":          sv.ID,
					"object_id":   sv.ObjectID,
					"study_id":    sv.StudyID,
					"survey_type": sv.SurveyType,
				})
			})
		},
	}
	cmd.Flags().StringVar(&study, "study", "", "study id")
	cmd.Flags().StringVar(&surveyType, "type", "", "survey type, e.g. tracking_survey")
	return cmd
}
