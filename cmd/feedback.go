package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/model"
)

var feedbackVerdict string

var feedbackCmd = &cobra.Command{
	Use:   "feedback <submission-id>",
	Short: "Record end-user field feedback for a merged submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		verdict := model.FieldVerdict(feedbackVerdict)
		if verdict != model.VerdictGood && verdict != model.VerdictBad {
			return eris.Errorf("verdict must be %q or %q", model.VerdictGood, model.VerdictBad)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.RecordFieldFeedback(ctx, args[0], verdict); err != nil {
			return err
		}

		zap.L().Info("field feedback recorded", zap.String("submission_id", args[0]))
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackVerdict, "verdict", "", "good or bad (required)")
	_ = feedbackCmd.MarkFlagRequired("verdict")
	rootCmd.AddCommand(feedbackCmd)
}
