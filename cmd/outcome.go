package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-geo/roadmerge/internal/model"
)

var (
	outcomeAction   string
	outcomeOverride string
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome <submission-id>",
	Short: "Record an analyst's confirm or override for a decided submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		action := model.AnalystAction(outcomeAction)
		if action != model.ActionConfirm && action != model.ActionOverride {
			return eris.Errorf("action must be %q or %q", model.ActionConfirm, model.ActionOverride)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Service.RecordAnalystOutcome(ctx, args[0], action, model.Recommendation(outcomeOverride))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomeAction, "action", "confirm", "confirm or override")
	outcomeCmd.Flags().StringVar(&outcomeOverride, "recommendation", "", "final recommendation when overriding (APPROVE or REJECT)")
	rootCmd.AddCommand(outcomeCmd)
}
