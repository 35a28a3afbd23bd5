// Package runlog records acquisition batches in a SQLite database so past
// runs can be listed with their per-HUC outcomes.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fim-prep/internal/model"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = eris.New("runlog: run not found")

// Entry is one recorded batch.
type Entry struct {
	ID          string
	HUCs        []model.HUC
	Status      model.RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	OK          int
	NotFound    int
	Failed      int
	Error       string
	Report      *model.BatchReport
}

// Log implements run recording on modernc.org/sqlite.
type Log struct {
	db *sql.DB
}

// NewSQLite opens the run log at path, creating its directory, and
// configures WAL mode.
func NewSQLite(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "runlog: create dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &Log{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS acquire_runs (
	id           TEXT PRIMARY KEY,
	hucs         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	ok           INTEGER NOT NULL DEFAULT 0,
	not_found    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	report       TEXT
);

CREATE INDEX IF NOT EXISTS idx_acquire_runs_started_at ON acquire_runs(started_at);
`

// Migrate creates the schema if needed.
func (l *Log) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records a running batch for the given codes and returns its ID.
func (l *Log) Start(ctx context.Context, codes []model.HUC, at time.Time) (string, error) {
	id := uuid.New().String()
	hucsJSON, err := json.Marshal(codes)
	if err != nil {
		return "", eris.Wrap(err, "runlog: marshal hucs")
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO acquire_runs (id, hucs, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(hucsJSON), string(model.RunStatusRunning), at.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "runlog: insert run")
	}
	return id, nil
}

// Finish stores the final state of a batch under report.RunID.
func (l *Log) Finish(ctx context.Context, report *model.BatchReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal report")
	}
	var completed any
	if report.CompletedAt != nil {
		completed = report.CompletedAt.UTC()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE acquire_runs
		 SET status = ?, completed_at = ?, ok = ?, not_found = ?, failed = ?, error = ?, report = ?
		 WHERE id = ?`,
		string(report.Status), completed,
		report.Count(model.ResultOK), report.Count(model.ResultNotFound), report.Count(model.ResultFailed),
		nullString(report.Error), string(reportJSON), report.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", report.RunID)
	}
	return checkRowsAffected(res, report.RunID)
}

// Get returns one run including its full report.
func (l *Log) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "%s", id)
	}
	return e, err
}

// List returns the most recent runs first. limit <= 0 returns all.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectRuns + ` ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

const selectRuns = `SELECT id, hucs, status, started_at, completed_at, ok, not_found, failed, error, report FROM acquire_runs`

// helpers

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "%s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var hucsJSON string
	var completed sql.NullTime
	var errMsg, reportJSON sql.NullString

	err := row.Scan(&e.ID, &hucsJSON, &e.Status, &e.StartedAt, &completed,
		&e.OK, &e.NotFound, &e.Failed, &errMsg, &reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}

	if err := json.Unmarshal([]byte(hucsJSON), &e.HUCs); err != nil {
		return nil, eris.Wrap(err, "runlog: unmarshal hucs")
	}
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	e.Error = errMsg.String
	if reportJSON.Valid {
		e.Report = &model.BatchReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), e.Report); err != nil {
			return nil, eris.Wrap(err, "runlog: unmarshal report")
		}
	}
	return &e, nil
}
