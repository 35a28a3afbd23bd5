package huclist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/model"
	"github.com/sells-group/fim-prep/internal/nhd"
)

const albers = geo.SRIDConusAlbers

func square(x, y, size float64) geom.T {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10}).SetSRID(albers)
}

type fixture struct {
	b *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{b: &Builder{
		RastersDir: filepath.Join(root, "nhdplus_rasters"),
		VectorsDir: filepath.Join(root, "nhdplus_vectors"),
		WBDPath:    filepath.Join(root, "wbd", "WBD_National.gpkg"),
		OutDir:     filepath.Join(root, "huc_lists"),
	}}
}

func (f *fixture) raster(t *testing.T, hu4 string) {
	t.Helper()
	dir := nhd.RasterDir(f.b.RastersDir, model.HUC(hu4))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, nhd.ElevationMember), nil, 0o644))
}

func (f *fixture) burnLines(t *testing.T, hu4 string, lines ...[]float64) {
	t.Helper()
	huc := model.HUC(hu4)
	l := &geo.Layer{
		Name: nhd.LayerFileName(nhd.BurnLineLayer, huc), SRID: albers, GeometryType: "LINESTRING",
	}
	for _, flat := range lines {
		l.Features = append(l.Features, geo.Feature{Geometry: geom.NewLineStringFlat(geom.XY, flat).SetSRID(albers)})
	}
	require.NoError(t, gpkg.Write(context.Background(), nhd.VectorPath(f.b.VectorsDir, huc, nhd.BurnLineLayer), l))
}

func (f *fixture) wbd(t *testing.T, units map[string]geom.T) {
	t.Helper()
	l := &geo.Layer{
		Name: "WBDHU8", SRID: albers, GeometryType: "POLYGON",
		Fields: []geo.Field{{Name: "HUC8", Type: geo.FieldText}, {Name: "fimid", Type: geo.FieldText}},
	}
	for code, g := range units {
		l.Features = append(l.Features, geo.Feature{Geometry: g, Attrs: map[string]any{"HUC8": code, "fimid": "1000"}})
	}
	require.NoError(t, gpkg.Write(context.Background(), f.b.WBDPath, l))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	f.raster(t, "1209")
	f.raster(t, "1210")
	// 1210 has a raster but no vectors; 0101 has vectors but no raster.
	f.burnLines(t, "1209", []float64{5, 5, 6, 6}, []float64{25, 5, 26, 6})
	f.burnLines(t, "0101", []float64{105, 5, 106, 6})
	f.wbd(t, map[string]geom.T{
		"12090301": square(0, 0, 10),   // crossed by a burn line
		"12090302": square(20, 0, 10),  // crossed by a burn line
		"12090401": square(50, 50, 10), // no burn line inside
		"12100001": square(0, 0, 10),   // no vectors for 1210
		"01010001": square(100, 0, 10), // no raster for 0101
	})

	lists, err := f.b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.HUC{"1209", "1210"}, lists.HU4)
	assert.Equal(t, []model.HUC{"12090301", "12090302"}, lists.HU8)
	assert.Equal(t, []model.HUC{"120903"}, lists.HU6)

	assert.Equal(t, "1209\n1210\n", readFile(t, filepath.Join(f.b.OutDir, "included_huc4.lst")))
	assert.Equal(t, "120903\n", readFile(t, filepath.Join(f.b.OutDir, "included_huc6.lst")))
	assert.Equal(t, "12090301\n12090302\n", readFile(t, filepath.Join(f.b.OutDir, "included_huc8.lst")))
}

func TestBuild_MissingWBD(t *testing.T) {
	f := newFixture(t)
	f.raster(t, "1209")
	_, err := f.b.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild_EmptyBurnLines(t *testing.T) {
	f := newFixture(t)
	f.raster(t, "1209")
	f.burnLines(t, "1209")
	f.wbd(t, map[string]geom.T{"12090301": square(0, 0, 10)})

	lists, err := f.b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lists.HU8)
	assert.Equal(t, "", readFile(t, filepath.Join(f.b.OutDir, "included_huc8.lst")))
}

func TestRasterHU4s(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"HRNHDPlusRasters1210", "HRNHDPlusRasters0101", "scratch"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NHDPLUS_H_0202_HU4_RASTER.7z"), nil, 0o644))

	codes, err := RasterHU4s(dir)
	require.NoError(t, err)
	assert.Equal(t, []model.HUC{"0101", "1210"}, codes)

	codes, err = RasterHU4s(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestWriteReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lists", "included_huc4.lst")
	require.NoError(t, WriteList(path, []model.HUC{"0101", "1209"}))

	codes, err := ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []model.HUC{"0101", "1209"}, codes)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestListName(t *testing.T) {
	assert.Equal(t, "included_huc6.lst", ListName(6))
}
