package prep

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/vector"
)

// Hydrofabric projects NWM hydrofabric layers out of a pre-inputs dataset.
type Hydrofabric struct {
	Source    string   // pre-inputs container, e.g. nwm_v21.gdb
	OutDir    string   // nwm_hydrofabric directory
	Layers    []string // nwm_flows, nwm_lakes, nwm_catchments
	SRID      int
	Workers   int
	Converter vector.Converter
}

// OutputPath returns the projected container of a layer.
func (h *Hydrofabric) OutputPath(layer string) string {
	return filepath.Join(h.OutDir, layer+"_proj.gpkg")
}

// Run writes {layer}_proj.gpkg for every layer, at most Workers at a time.
// Existing outputs are overwritten.
func (h *Hydrofabric) Run(ctx context.Context) ([]string, error) {
	if len(h.Layers) == 0 {
		return nil, eris.New("prep: no hydrofabric layers configured")
	}
	workers := h.Workers
	if workers < 1 {
		workers = 1
	}

	outputs := make([]string, len(h.Layers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, layer := range h.Layers {
		g.Go(func() error {
			if err := h.project(gctx, layer); err != nil {
				return err
			}
			outputs[i] = h.OutputPath(layer)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (h *Hydrofabric) project(ctx context.Context, layer string) error {
	log := zap.L().With(zap.String("component", "prep.hydrofabric"), zap.String("layer", layer))

	l, err := vector.ReadLayer(ctx, h.Source, h.Converter, layer)
	if err != nil {
		return eris.Wrapf(err, "prep: read hydrofabric layer %s", layer)
	}
	if l, err = vector.Project(ctx, h.Source, h.Converter, l, h.SRID); err != nil {
		return eris.Wrapf(err, "prep: reproject %s", layer)
	}
	l.Name = layer
	if err := gpkg.Write(ctx, h.OutputPath(layer), l); err != nil {
		return eris.Wrapf(err, "prep: write %s", layer)
	}
	log.Info("hydrofabric layer projected", zap.Int("features", l.Len()))
	return nil
}
