package prep

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/model"
)

func writePreInputs(t *testing.T, path string) {
	t.Helper()
	pt := func(x, y float64) geom.T { return geom.NewPointFlat(geom.XY, []float64{x, y}).SetSRID(geo.SRIDWGS84) }
	require.NoError(t, gpkg.Write(context.Background(), path,
		&geo.Layer{
			Name: "nwm_flows", SRID: geo.SRIDNAD83, GeometryType: "LINESTRING",
			Features: []geo.Feature{{
				Geometry: geom.NewLineStringFlat(geom.XY, []float64{-96, 30, -95.9, 30.1}).SetSRID(geo.SRIDNAD83),
			}},
		},
		&geo.Layer{
			Name: "nwm_lakes", SRID: geo.SRIDWGS84, GeometryType: "POINT",
			Features: []geo.Feature{{Geometry: pt(-96, 23)}, {Geometry: pt(-90, 35)}},
		},
	))
}

func TestHydrofabric_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "pre_inputs.gpkg")
	writePreInputs(t, src)

	h := &Hydrofabric{
		Source:  src,
		OutDir:  filepath.Join(dir, "nwm_hydrofabric"),
		Layers:  []string{"nwm_flows", "nwm_lakes"},
		SRID:    geo.SRIDConusAlbers,
		Workers: 2,
	}
	outputs, err := h.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{h.OutputPath("nwm_flows"), h.OutputPath("nwm_lakes")}, outputs)
	assert.Equal(t, "nwm_lakes_proj.gpkg", filepath.Base(outputs[1]))

	lakes, err := gpkg.ReadLayer(ctx, outputs[1], "nwm_lakes")
	require.NoError(t, err)
	assert.Equal(t, geo.SRIDConusAlbers, lakes.SRID)
	require.Equal(t, 2, lakes.Len())
	// The projection origin maps to (0, 0).
	origin := lakes.Features[0].Geometry.FlatCoords()
	assert.InDelta(t, 0, origin[0], 1e-6)
	assert.InDelta(t, 0, origin[1], 1e-6)
}

// albersConverter stands in for ogr2ogr -t_srs: it writes the requested
// layers in CONUS Albers.
type albersConverter struct {
	calls [][]string
}

func (c *albersConverter) Convert(ctx context.Context, _, dst string, layers ...string) error {
	c.calls = append(c.calls, layers)
	out := make([]*geo.Layer, 0, len(layers))
	for _, name := range layers {
		out = append(out, &geo.Layer{
			Name: name, SRID: geo.SRIDConusAlbers, GeometryType: "POLYGON",
			Features: []geo.Feature{{
				Geometry: geom.NewPolygonFlat(geom.XY, []float64{0, 0, 10, 0, 10, 10, 0, 0}, []int{8}),
			}},
		})
	}
	return gpkg.Write(ctx, dst, out...)
}

func TestHydrofabric_LambertSourceUsesConverter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "pre_inputs.gpkg")
	require.NoError(t, gpkg.Write(ctx, src, &geo.Layer{
		Name: "nwm_catchments", SRID: geo.SRIDConusAlbers, GeometryType: "POLYGON",
		Features: []geo.Feature{{
			Geometry: geom.NewPolygonFlat(geom.XY, []float64{0, 0, 500, 0, 500, 500, 0, 0}, []int{8}),
		}},
	}))
	db, err := sql.Open("sqlite", src)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
		VALUES ('lcc', 100000, 'ESRI', 102004, 'PROJCS["USA_Contiguous_Lambert_Conformal_Conic",PROJECTION["Lambert_Conformal_Conic"]]')`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE gpkg_geometry_columns SET srs_id = 100000`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	conv := &albersConverter{}
	h := &Hydrofabric{
		Source:    src,
		OutDir:    filepath.Join(dir, "nwm_hydrofabric"),
		Layers:    []string{"nwm_catchments"},
		SRID:      geo.SRIDConusAlbers,
		Converter: conv,
	}
	outputs, err := h.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"nwm_catchments"}}, conv.calls)

	l, err := gpkg.ReadLayer(ctx, outputs[0], "nwm_catchments")
	require.NoError(t, err)
	assert.Equal(t, geo.SRIDConusAlbers, l.SRID)
	assert.Equal(t, 1, l.Len())
}

func TestHydrofabric_MissingLayer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pre_inputs.gpkg")
	writePreInputs(t, src)

	h := &Hydrofabric{Source: src, OutDir: dir, Layers: []string{"nwm_catchments"}, SRID: geo.SRIDConusAlbers}
	_, err := h.Run(context.Background())
	assert.Error(t, err)
}

func TestHydrofabric_NoLayers(t *testing.T) {
	_, err := (&Hydrofabric{}).Run(context.Background())
	assert.Error(t, err)
}

func TestWriteReport_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", ReportName)
	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	report := &model.BatchReport{RunID: "abc", StartedAt: start}
	report.Add(model.Result{HUC: "1209", Status: model.ResultOK, Duration: 90 * time.Second})
	report.Add(model.Result{HUC: "0101", Status: model.ResultNotFound, Error: "not found"})
	report.Finish(start.Add(time.Hour), nil)

	require.NoError(t, WriteReport(path, report))
	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, got.Status)
	assert.Equal(t, 90*time.Second, got.Results[0].Duration)
	assert.Equal(t, "not found", got.Results[1].Error)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, start.Add(time.Hour).Equal(*got.CompletedAt))
}
