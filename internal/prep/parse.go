package prep

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fim-prep/internal/model"
)

// ParseHUCs turns CLI arguments into codes. A single argument naming an
// existing file is read as newline/comma-delimited codes; anything else is
// taken literally, each argument possibly holding comma-separated codes.
func ParseHUCs(args []string) ([]model.HUC, error) {
	if len(args) == 1 {
		if info, err := os.Stat(args[0]); err == nil && !info.IsDir() {
			return readHUCFile(args[0])
		}
	}

	var out []model.HUC
	for _, arg := range args {
		for _, raw := range strings.Split(arg, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			h, err := model.ParseHUC(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("prep: no HUC codes given")
	}
	return out, nil
}

func readHUCFile(path string) ([]model.HUC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prep: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	var out []model.HUC
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "prep: read %s", path)
		}
		for _, raw := range rec {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			h, err := model.ParseHUC(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "prep: %s", path)
			}
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("prep: no HUC codes in %s", path)
	}
	return out, nil
}

// CoarseHUCs truncates codes to their HU4 and removes duplicates. The result
// is sorted.
func CoarseHUCs(codes []model.HUC) []model.HUC {
	return model.UniqueHU4s(codes)
}
