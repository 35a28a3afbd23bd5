package vector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fim-prep/internal/runner"
)

// OGR converts datasets with the ogr2ogr command-line tool. A non-empty
// TargetSRS reprojects on conversion and MakeValid repairs invalid
// geometries.
type OGR struct {
	Path      string
	Runner    runner.Runner
	TargetSRS string
	MakeValid bool
}

// NewOGR returns an OGR converter; an empty path means "ogr2ogr" on PATH.
func NewOGR(path string, r runner.Runner) *OGR {
	if path == "" {
		path = "ogr2ogr"
	}
	if r == nil {
		r = runner.Exec{}
	}
	return &OGR{Path: path, Runner: r}
}

func (o *OGR) args(src, dst string, layers []string) []string {
	args := []string{"-f", "GPKG", "-overwrite"}
	if o.TargetSRS != "" {
		args = append(args, "-t_srs", o.TargetSRS)
	}
	if o.MakeValid {
		args = append(args, "-makevalid")
	}
	args = append(args, dst, src)
	return append(args, layers...)
}

// Convert implements Converter.
func (o *OGR) Convert(ctx context.Context, src, dst string, layers ...string) error {
	if _, err := o.Runner.Run(ctx, o.Path, o.args(src, dst, layers)...); err != nil {
		return eris.Wrapf(err, "vector: ogr2ogr %s", src)
	}
	return nil
}
