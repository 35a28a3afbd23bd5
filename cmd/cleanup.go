package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fim-prep/internal/cleanup"
	"github.com/sells-group/fim-prep/internal/model"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <huc> <output-dir>",
	Short: "Remove intermediate files from a HUC output directory",
	Long: `Deletes every file in <output-dir> that the selected mode does not need.
--production keeps the files required for inundation mapping, including the
bathymetry and elevation tables. --viz keeps the shared mapping files and the
rasters and points used for visualization, and drops the bathymetry and
elevation tables. --viz wins when both are given. Without either flag nothing
is removed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		huc, err := model.ParseHUC(args[0])
		if err != nil {
			return err
		}
		dir := args[1]
		if info, err := os.Stat(dir); err != nil {
			return eris.Wrapf(err, "cleanup: %s", dir)
		} else if !info.IsDir() {
			return eris.Errorf("cleanup: %s is not a directory", dir)
		}

		production, _ := cmd.Flags().GetBool("production")
		viz, _ := cmd.Flags().GetBool("viz")
		extra, _ := cmd.Flags().GetStringSlice("whitelist")
		mode := cleanup.ModeFromFlags(production, viz)

		removed, err := cleanup.Cleanup(dir, mode, extra)
		if err != nil {
			return eris.Wrapf(err, "cleanup %s", huc)
		}
		for _, name := range removed {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dir, name))
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolP("production", "p", false, "keep only the production file set")
	cleanupCmd.Flags().BoolP("viz", "v", false, "keep the shared mapping files and visualization outputs, without bathymetry or elevation tables")
	cleanupCmd.Flags().StringSliceP("whitelist", "w", nil, "additional file names to keep")

	rootCmd.AddCommand(cleanupCmd)
}
