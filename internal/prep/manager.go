// Package prep drives an acquisition batch: NHD inputs per HU4, then the
// WBD container, then the included HUC lists.
package prep

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fim-prep/internal/fetcher"
	"github.com/sells-group/fim-prep/internal/huclist"
	"github.com/sells-group/fim-prep/internal/model"
	"github.com/sells-group/fim-prep/internal/nhd"
	"github.com/sells-group/fim-prep/internal/observability"
)

// NHDPreparer prepares the NHD inputs of one HU4.
type NHDPreparer interface {
	Prepare(ctx context.Context, huc model.HUC, opts nhd.Options) (nhd.Outcome, error)
}

// WBDPreparer builds the WBD container. Check verifies its local inputs and
// runs before any download of the batch.
type WBDPreparer interface {
	Check() error
	Prepare(ctx context.Context, overwrite bool) (bool, error)
}

// ListBuilder writes the included HUC lists.
type ListBuilder interface {
	Build(ctx context.Context) (*huclist.Lists, error)
}

// RunRecorder persists batch state.
type RunRecorder interface {
	Start(ctx context.Context, codes []model.HUC, at time.Time) (string, error)
	Finish(ctx context.Context, report *model.BatchReport) error
}

// Options controls one batch.
type Options struct {
	OverwriteDEM bool
	OverwriteGDB bool
	OverwriteWBD bool
	Workers      int
}

// Manager runs acquisition batches. NHD, WBD and Lists are required; the
// rest are optional.
type Manager struct {
	NHD   NHDPreparer
	WBD   WBDPreparer
	Lists ListBuilder

	Dirs       []string // created before the batch starts
	ReportPath string   // YAML report, skipped when empty
	RunLog     RunRecorder
	Metrics    *observability.Metrics
	Clock      clockwork.Clock
}

func (m *Manager) clock() clockwork.Clock {
	if m.Clock == nil {
		return clockwork.NewRealClock()
	}
	return m.Clock
}

// Run prepares every HU4 covered by codes, then the WBD container, then the
// HUC lists. A HU4 whose remote archives do not exist is recorded as
// not_found and the batch continues; any other error aborts the batch. The
// report is returned in both cases.
func (m *Manager) Run(ctx context.Context, codes []model.HUC, opts Options) (*model.BatchReport, error) {
	clock := m.clock()
	hu4s := CoarseHUCs(codes)
	log := zap.L().With(zap.String("component", "prep.run"))

	report := &model.BatchReport{Status: model.RunStatusRunning, StartedAt: clock.Now()}
	if m.RunLog != nil {
		id, err := m.RunLog.Start(ctx, hu4s, report.StartedAt)
		if err != nil {
			return nil, eris.Wrap(err, "prep: record run start")
		}
		report.RunID = id
	} else {
		report.RunID = uuid.New().String()
	}
	log = log.With(zap.String("run_id", report.RunID))
	log.Info("acquisition started", zap.Strings("hu4", hucStrings(hu4s)), zap.Int("workers", opts.Workers))

	err := m.run(ctx, hu4s, opts, report)
	m.finish(ctx, report, err)

	if err != nil {
		log.Error("acquisition failed", zap.Error(err))
		return report, err
	}
	log.Info("acquisition finished",
		zap.String("status", string(report.Status)),
		zap.Int("ok", report.Count(model.ResultOK)),
		zap.Int("not_found", report.Count(model.ResultNotFound)),
	)
	return report, nil
}

func (m *Manager) run(ctx context.Context, hu4s []model.HUC, opts Options, report *model.BatchReport) error {
	if err := m.WBD.Check(); err != nil {
		return eris.Wrap(err, "prep: wbd preflight")
	}
	for _, dir := range m.Dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "prep: create %s", dir)
		}
	}

	results, err := m.prepareNHD(ctx, hu4s, opts)
	for _, r := range results {
		report.Add(r)
	}
	if err != nil {
		return err
	}

	if err := m.step("wbd", func() error {
		_, err := m.WBD.Prepare(ctx, opts.OverwriteWBD)
		return err
	}); err != nil {
		return eris.Wrap(err, "prep: wbd")
	}

	return eris.Wrap(m.step("huclist", func() error {
		lists, err := m.Lists.Build(ctx)
		if err == nil && m.Metrics != nil {
			m.Metrics.ListedHUCs.WithLabelValues("4").Set(float64(len(lists.HU4)))
			m.Metrics.ListedHUCs.WithLabelValues("6").Set(float64(len(lists.HU6)))
			m.Metrics.ListedHUCs.WithLabelValues("8").Set(float64(len(lists.HU8)))
		}
		return err
	}), "prep: huc lists")
}

// prepareNHD runs the NHD preparer over hu4s with at most opts.Workers in
// flight. Results keep input order and only cover HU4s that finished.
func (m *Manager) prepareNHD(ctx context.Context, hu4s []model.HUC, opts Options) ([]model.Result, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	clock := m.clock()
	nhdOpts := nhd.Options{OverwriteDEM: opts.OverwriteDEM, OverwriteGDB: opts.OverwriteGDB}

	var mu sync.Mutex
	results := make([]*model.Result, len(hu4s))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	stepStart := clock.Now()

	for i, huc := range hu4s {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			start := clock.Now()
			_, err := m.NHD.Prepare(gctx, huc, nhdOpts)
			r := model.Result{HUC: huc, Status: model.ResultOK, Duration: clock.Since(start)}

			switch {
			case err == nil:
			case errors.Is(err, fetcher.ErrNotFound):
				zap.L().Warn("no remote data for HUC4, skipping",
					zap.String("huc", huc.String()), zap.Error(err))
				r.Status, r.Error = model.ResultNotFound, err.Error()
			case gctx.Err() != nil && errors.Is(err, gctx.Err()):
				return nil //nolint:nilerr // cancelled by a sibling failure; its error is reported
			default:
				r.Status, r.Error = model.ResultFailed, err.Error()
			}

			mu.Lock()
			results[i] = &r
			mu.Unlock()
			m.observe(r)

			if r.Status == model.ResultFailed {
				return eris.Wrapf(err, "prep: nhd %s", huc)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if m.Metrics != nil {
		m.Metrics.StepDuration.WithLabelValues("nhd").Observe(clock.Since(stepStart).Seconds())
	}

	out := make([]model.Result, 0, len(hu4s))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, eris.Wrap(err, "prep: nhd batch")
}

func (m *Manager) step(name string, fn func() error) error {
	start := m.clock().Now()
	err := fn()
	if m.Metrics != nil {
		m.Metrics.StepDuration.WithLabelValues(name).Observe(m.clock().Since(start).Seconds())
	}
	return err
}

func (m *Manager) observe(r model.Result) {
	if m.Metrics == nil {
		return
	}
	m.Metrics.HUCsProcessed.WithLabelValues(string(r.Status)).Inc()
	m.Metrics.HUCDuration.Observe(r.Duration.Seconds())
}

// finish stamps the report and persists it. Persistence failures are logged
// so they never mask the batch outcome.
func (m *Manager) finish(ctx context.Context, report *model.BatchReport, runErr error) {
	clock := m.clock()
	report.Finish(clock.Now(), runErr)
	log := zap.L().With(zap.String("component", "prep.finish"), zap.String("run_id", report.RunID))

	if m.Metrics != nil {
		m.Metrics.BatchDuration.Set(report.CompletedAt.Sub(report.StartedAt).Seconds())
		m.Metrics.LastRunTimestamp.Set(float64(report.CompletedAt.Unix()))
		success := 1.0
		if report.Status == model.RunStatusFailed {
			success = 0
		}
		m.Metrics.LastRunSuccess.Set(success)
	}
	if m.ReportPath != "" {
		if err := WriteReport(m.ReportPath, report); err != nil {
			log.Warn("write batch report", zap.Error(err))
		}
	}
	if m.RunLog != nil {
		// The batch context may already be cancelled.
		if err := m.RunLog.Finish(context.WithoutCancel(ctx), report); err != nil {
			log.Warn("record run finish", zap.Error(err))
		}
	}
}

func hucStrings(codes []model.HUC) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.String()
	}
	return out
}
