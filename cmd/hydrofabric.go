package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var hydrofabricCmd = &cobra.Command{
	Use:   "hydrofabric",
	Short: "Reproject the NWM hydrofabric layers",
	Long:  "Reads each configured NWM layer from the source dataset, reprojects it to the working projection and writes <layer>_proj.gpkg under the hydrofabric directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		source, _ := cmd.Flags().GetString("source")
		if source == "" {
			source = cfg.Hydrofabric.Source
		}
		if source == "" {
			return eris.New("hydrofabric: --source or hydrofabric.source is required")
		}

		tools, err := buildTools(cfg)
		if err != nil {
			return err
		}

		outputs, err := newHydrofabric(cfg, tools, source).Run(ctx)
		if err != nil {
			return err
		}
		for _, path := range outputs {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		return nil
	},
}

func init() {
	hydrofabricCmd.Flags().String("source", "", "hydrofabric dataset (default hydrofabric.source)")

	rootCmd.AddCommand(hydrofabricCmd)
}
