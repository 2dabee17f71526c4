package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeVendor string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.geojson>",
	Short: "Run one vendor submission through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read submission file")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Service.Run(ctx, analyzeVendor, raw)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("submission_id", sub.ID),
			zap.String("recommendation", string(sub.Decision.Recommendation)),
			zap.Float64("confidence_score", sub.Decision.ConfidenceScore),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeVendor, "vendor", "", "vendor ID (required)")
	_ = analyzeCmd.MarkFlagRequired("vendor")
	rootCmd.AddCommand(analyzeCmd)
}
