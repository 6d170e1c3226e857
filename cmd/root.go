package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miljoportal/tilstand/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tilstand",
	Short: "Contaminant load and river impact assessment",
	Long:  "Computes contaminant mass flux from screened sites to their nearest river segments, dilutes it in segment flow, and flags exceedances of regulatory thresholds.",
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
