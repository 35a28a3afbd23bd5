package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/model"
	"github.com/sells-group/fim-prep/internal/observability"
	"github.com/sells-group/fim-prep/internal/prep"
	"github.com/sells-group/fim-prep/internal/runlog"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Download and preprocess NHDPlus HR and WBD inputs",
	Long: `Acquires the NHDPlus HR elevation raster and vector layers for every HU4
covered by --hucs, builds the clipped WBD container, and writes the
included HUC lists. --hucs takes codes separated by commas, or the path
of a file listing one code per line.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		raw, _ := cmd.Flags().GetStringSlice("hucs")
		codes, err := prep.ParseHUCs(raw)
		if err != nil {
			return err
		}

		tools, err := buildTools(cfg)
		if err != nil {
			return err
		}

		opts := prep.Options{Workers: cfg.Workers}
		opts.OverwriteDEM, _ = cmd.Flags().GetBool("overwrite-nhd-dem")
		opts.OverwriteGDB, _ = cmd.Flags().GetBool("overwrite-nhd-gdb")
		opts.OverwriteWBD, _ = cmd.Flags().GetBool("overwrite-wbd")
		if cmd.Flags().Changed("workers") {
			opts.Workers, _ = cmd.Flags().GetInt("workers")
		}

		wbdPrep := newWBDPreparer(cfg, tools)
		m := &prep.Manager{
			NHD:        newNHDPreparer(cfg, tools),
			WBD:        wbdPrep,
			Lists:      newListBuilder(cfg, wbdPrep),
			Dirs:       []string{cfg.DataDir, cfg.RastersDir(), cfg.VectorsDir()},
			ReportPath: filepath.Join(cfg.DataDir, prep.ReportName),
			Metrics:    observability.NewMetrics(),
		}

		if !cfg.RunLog.Disabled {
			rl, err := openRunLog(ctx)
			if err != nil {
				return err
			}
			defer rl.Close() //nolint:errcheck
			m.RunLog = rl
		}

		report, runErr := m.Run(ctx, codes, opts)

		if path := cfg.Metrics.TextfilePath; path != "" {
			if err := m.Metrics.WriteTextfile(path); err != nil {
				zap.L().Warn("acquire: write metrics textfile failed", zap.Error(err))
			}
		}
		if report != nil {
			formatReport(os.Stdout, report)
		}
		return runErr
	},
}

func openRunLog(ctx context.Context) (*runlog.Log, error) {
	rl, err := runlog.NewSQLite(cfg.RunLogPath())
	if err != nil {
		return nil, err
	}
	if err := rl.Migrate(ctx); err != nil {
		_ = rl.Close()
		return nil, eris.Wrap(err, "acquire: migrate run log")
	}
	return rl, nil
}

// formatReport writes the per-HU4 results of a batch to out.
func formatReport(out io.Writer, r *model.BatchReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "HUC\tSTATUS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------\t--------\t-----")
	for _, res := range r.Results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			res.HUC,
			res.Status,
			res.Duration.Round(time.Second),
			truncate(res.Error, 60),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nRun %s: %s (%d ok, %d not found, %d failed)\n",
		truncateID(r.RunID), r.Status,
		r.Count(model.ResultOK), r.Count(model.ResultNotFound), r.Count(model.ResultFailed))
	if r.Error != "" {
		_, _ = fmt.Fprintf(out, "Error: %s\n", r.Error)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	acquireCmd.Flags().StringSliceP("hucs", "u", nil, "HUC codes (comma separated) or a file listing them")
	acquireCmd.Flags().Bool("overwrite-nhd-dem", false, "re-download the NHDPlus HR elevation rasters")
	acquireCmd.Flags().Bool("overwrite-nhd-gdb", false, "re-download the NHDPlus HR vector layers")
	acquireCmd.Flags().Bool("overwrite-wbd", false, "rebuild the WBD container")
	acquireCmd.Flags().IntP("workers", "j", 1, "HU4s prepared concurrently (overrides config workers)")
	_ = acquireCmd.MarkFlagRequired("hucs")

	rootCmd.AddCommand(acquireCmd)
}
