package model

import "time"

// RunStatus represents the state of an acquisition run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial" // finished, but some HUCs had no remote data
	RunStatusFailed   RunStatus = "failed"
)

// ResultStatus is the outcome of preparing a single HUC.
type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultNotFound ResultStatus = "not_found"
	ResultFailed   ResultStatus = "failed"
)

// Result records what happened to one HUC4 during a batch.
type Result struct {
	HUC      HUC           `json:"huc" yaml:"huc"`
	Status   ResultStatus  `json:"status" yaml:"status"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// BatchReport aggregates per-HUC results for an acquisition run.
type BatchReport struct {
	RunID       string     `json:"run_id" yaml:"run_id"`
	Status      RunStatus  `json:"status" yaml:"status"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Results     []Result   `json:"results" yaml:"results"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Add appends a result.
func (b *BatchReport) Add(r Result) {
	b.Results = append(b.Results, r)
}

// Count returns how many results have the given status.
func (b *BatchReport) Count(status ResultStatus) int {
	n := 0
	for _, r := range b.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Succeeded returns the HUCs that were prepared successfully.
func (b *BatchReport) Succeeded() []HUC {
	var out []HUC
	for _, r := range b.Results {
		if r.Status == ResultOK {
			out = append(out, r.HUC)
		}
	}
	return out
}

// Finish stamps the completion time and derives the final status from the
// results. A non-nil err marks the run failed.
func (b *BatchReport) Finish(at time.Time, err error) {
	b.CompletedAt = &at
	switch {
	case err != nil:
		b.Status = RunStatusFailed
		b.Error = err.Error()
	case b.Count(ResultNotFound) > 0 || b.Count(ResultFailed) > 0:
		b.Status = RunStatusPartial
	default:
		b.Status = RunStatusComplete
	}
}
