package prep

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fim-prep/internal/model"
)

// ReportName is the batch report written under the data directory.
const ReportName = "acquire_report.yaml"

// WriteReport writes report as YAML, replacing path atomically.
func WriteReport(path string, report *model.BatchReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "prep: marshal report")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "prep: create report dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "prep: write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "prep: move %s into place", path)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*model.BatchReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prep: read %s", path)
	}
	var report model.BatchReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, eris.Wrapf(err, "prep: parse %s", path)
	}
	return &report, nil
}
