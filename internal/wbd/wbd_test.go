package wbd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
)

func box(minX, minY, maxX, maxY float64) geom.T {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY,
	}, []int{10}).SetSRID(geo.SRIDNAD83)
}

func hucLayer(level int, codes []string, boxes []geom.T) *geo.Layer {
	field := "huc" + string(rune('0'+level))
	l := &geo.Layer{
		Name: LayerName(level), SRID: geo.SRIDNAD83, GeometryType: "POLYGON",
		Fields: []geo.Field{{Name: field, Type: geo.FieldText}, {Name: "name", Type: geo.FieldText}},
	}
	for i, c := range codes {
		l.Features = append(l.Features, geo.Feature{
			Geometry: boxes[i],
			Attrs:    map[string]any{field: c, "name": "unit " + c},
		})
	}
	return l
}

// writeSource writes a national-style dataset with one out-of-domain unit per
// level.
func writeSource(t *testing.T, path string) {
	t.Helper()
	inA, inB, out := box(-96.5, 30, -96.2, 30.3), box(-96.1, 30, -95.8, 30.3), box(-80, 40, -79, 41)
	require.NoError(t, gpkg.Write(context.Background(), path,
		hucLayer(8, []string{"12090302", "02050001", "12090301"}, []geom.T{inB, out, inA}),
		hucLayer(4, []string{"1209", "0205"}, []geom.T{inA, out}),
		hucLayer(6, []string{"120903", "020500"}, []geom.T{inA, out}),
	))
}

func writeDomain(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, gpkg.Write(context.Background(), path, &geo.Layer{
		Name: "nwm_flows", SRID: geo.SRIDNAD83, GeometryType: "LINESTRING",
		Features: []geo.Feature{{
			Geometry: geom.NewLineStringFlat(geom.XY, []float64{-97, 30.1, -95, 30.1}).SetSRID(geo.SRIDNAD83),
		}},
	}))
}

type stubFetcher struct {
	calls int
	err   error
	body  func(path string) error
}

func (s *stubFetcher) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func (s *stubFetcher) DownloadToFile(_ context.Context, _ string, path string) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if s.body != nil {
		return 1, s.body(path)
	}
	return 1, os.WriteFile(path, []byte("zip"), 0o644)
}

// stubExtractor writes the national dataset as a GeoPackage on extraction.
type stubExtractor struct {
	t     *testing.T
	calls int
}

func (s *stubExtractor) ExtractAll(_ context.Context, _, destDir string) error {
	s.calls++
	writeSource(s.t, filepath.Join(destDir, "WBD_National_GDB.gpkg"))
	return nil
}

func (s *stubExtractor) ExtractMember(context.Context, string, string, string) (string, error) {
	return "", errors.New("not used")
}

func newPreparer(t *testing.T) (*Preparer, *stubFetcher, *stubExtractor) {
	t.Helper()
	root := t.TempDir()
	domain := filepath.Join(root, "nwm_hydrofabric", "nwm_flows.gpkg")
	require.NoError(t, os.MkdirAll(filepath.Dir(domain), 0o755))
	writeDomain(t, domain)

	f := &stubFetcher{}
	x := &stubExtractor{t: t}
	return &Preparer{
		Dir:        filepath.Join(root, "wbd"),
		URL:        "https://example.com/WBD_National_GDB.zip",
		DomainPath: domain,
		SRID:       geo.SRIDConusAlbers,
		Fetcher:    f,
		Extractor:  x,
	}, f, x
}

func readList(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPrepare_BuildsContainer(t *testing.T) {
	ctx := context.Background()
	p, f, x := newPreparer(t)

	built, err := p.Prepare(ctx, false)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 1, x.calls)

	hu8, err := gpkg.ReadLayer(ctx, p.ContainerPath(), "WBDHU8")
	require.NoError(t, err)
	assert.Equal(t, geo.SRIDConusAlbers, hu8.SRID)
	codes, err := hu8.StringValues("HUC8")
	require.NoError(t, err)
	assert.Equal(t, []string{"12090301", "12090302"}, codes)

	// Identifiers are assigned over the full sorted set before clipping.
	ids, err := hu8.StringValues(FIMIDField)
	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "1002"}, ids)

	hu4, err := gpkg.ReadLayer(ctx, p.ContainerPath(), "WBDHU4")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hu4.FieldIndex("HUC4"), 0)
	assert.Equal(t, "HUC4", hu4.Fields[hu4.FieldIndex("HUC4")].Name)
	assert.Equal(t, 1, hu4.Len())

	assert.Equal(t, "12090301\n12090302\n", readList(t, filepath.Join(p.Dir, "nwm_wbd8.csv")))
	assert.Equal(t, "1209\n", readList(t, filepath.Join(p.Dir, "nwm_wbd4.csv")))
	assert.Equal(t, "120903\n", readList(t, filepath.Join(p.Dir, "nwm_wbd6.csv")))
}

func TestPrepare_SkipsExistingContainer(t *testing.T) {
	ctx := context.Background()
	p, f, _ := newPreparer(t)
	require.NoError(t, os.MkdirAll(p.Dir, 0o755))
	require.NoError(t, os.WriteFile(p.ContainerPath(), []byte("existing"), 0o644))

	built, err := p.Prepare(ctx, false)
	require.NoError(t, err)
	assert.False(t, built)
	assert.Zero(t, f.calls)

	data, err := os.ReadFile(p.ContainerPath())
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestPrepare_OverwriteReusesExtractedSource(t *testing.T) {
	ctx := context.Background()
	p, f, x := newPreparer(t)

	_, err := p.Prepare(ctx, false)
	require.NoError(t, err)

	built, err := p.Prepare(ctx, true)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, 1, f.calls, "extracted dataset is reused")
	assert.Equal(t, 1, x.calls)
}

func TestPrepare_DomainMissingBeforeDownload(t *testing.T) {
	p, f, _ := newPreparer(t)
	require.NoError(t, os.Remove(p.DomainPath))

	_, err := p.Prepare(context.Background(), true)
	require.ErrorIs(t, err, ErrDomainMissing)
	assert.Zero(t, f.calls)
	_, statErr := os.Stat(p.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCheck(t *testing.T) {
	p, f, _ := newPreparer(t)
	require.NoError(t, p.Check())

	require.NoError(t, os.Remove(p.DomainPath))
	assert.ErrorIs(t, p.Check(), ErrDomainMissing)
	assert.Zero(t, f.calls)
}

func TestPrepare_FetchFailure(t *testing.T) {
	p, f, x := newPreparer(t)
	f.err = errors.New("connection reset")

	_, err := p.Prepare(context.Background(), false)
	require.Error(t, err)
	assert.Zero(t, x.calls)
	_, statErr := os.Stat(p.ContainerPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrepare_EmptyDomain(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newPreparer(t)
	require.NoError(t, gpkg.Write(ctx, p.DomainPath, &geo.Layer{
		Name: "nwm_flows", SRID: geo.SRIDNAD83, GeometryType: "LINESTRING",
	}))

	_, err := p.Prepare(ctx, false)
	assert.ErrorIs(t, err, geo.ErrEmptyDomain)
}

func TestAssignFIMIDs(t *testing.T) {
	l := hucLayer(8, []string{"a", "b", "c"}, []geom.T{nil, nil, nil})
	require.NoError(t, AssignFIMIDs(l))
	ids, err := l.StringValues(FIMIDField)
	require.NoError(t, err)
	assert.Equal(t, []string{"1000", "1001", "1002"}, ids)
}

func TestFindSource(t *testing.T) {
	dir := t.TempDir()
	_, ok := findSource(dir)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ContainerName), nil, 0o644))
	_, ok = findSource(dir)
	assert.False(t, ok, "the output container is never a source")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.gpkg"), nil, 0o644))
	path, ok := findSource(dir)
	require.True(t, ok)
	assert.Equal(t, "other.gpkg", filepath.Base(path))

	require.NoError(t, os.Mkdir(filepath.Join(dir, GDBName), 0o755))
	path, ok = findSource(dir)
	require.True(t, ok)
	assert.Equal(t, GDBName, filepath.Base(path))
}
