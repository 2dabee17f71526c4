package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-geo/roadmerge/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "roadmerge",
	Short: "Vendor road-network submission pipeline",
	Long:  "Extracts road features from vendor GeoJSON, cross-checks them against reference map sources, weighs regional news context, and produces merge decisions backed by vendor trust scores.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
