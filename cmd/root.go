package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fim-prep",
	Short: "Acquire and preprocess hydrographic inputs for flood inundation mapping",
	Long:  "Downloads WBD and NHDPlus HR datasets, reprojects and clips them to the NWM domain, builds the included HUC lists, and trims per-HUC output directories.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
