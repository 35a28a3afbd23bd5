package gpkg

import (
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/fim-prep/internal/geo"
)

func testPolygon() *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {10, 0}, {10, 5}, {0, 5}, {0, 0},
	}})
}

func hucLayer() *geo.Layer {
	return &geo.Layer{
		Name: "WBDHU8", SRID: geo.SRIDConusAlbers, GeometryType: "POLYGON",
		Fields: []geo.Field{
			{Name: "HUC8", Type: geo.FieldText},
			{Name: "areasqkm", Type: geo.FieldReal},
			{Name: "states", Type: geo.FieldText},
		},
		Features: []geo.Feature{
			{Geometry: testPolygon(), Attrs: map[string]any{"HUC8": "12090301", "areasqkm": 12.5, "states": "TX"}},
			{Geometry: nil, Attrs: map[string]any{"HUC8": "12090302", "areasqkm": nil, "states": "TX"}},
		},
	}
}

func TestEncodeGeometry_Header(t *testing.T) {
	b, err := EncodeGeometry(testPolygon(), 5070)
	require.NoError(t, err)

	assert.Equal(t, []byte{'G', 'P', 0}, b[:3])
	assert.Equal(t, byte(flagLittleEndian|flagEnvelopeXY), b[3])
	assert.Equal(t, uint32(5070), binary.LittleEndian.Uint32(b[4:8]))
	// WKB body starts after the 32-byte XY envelope with the NDR marker.
	assert.Equal(t, byte(1), b[40])
}

func TestEncodeGeometry_Nil(t *testing.T) {
	b, err := EncodeGeometry(nil, 5070)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestDecodeGeometry_RoundTrip(t *testing.T) {
	ls := geom.NewLineStringFlat(geom.XYZ, []float64{1, 2, 3, 4, 5, 6})
	b, err := EncodeGeometry(ls, 4269)
	require.NoError(t, err)

	g, err := DecodeGeometry(b)
	require.NoError(t, err)
	assert.Equal(t, 4269, g.SRID())
	assert.Equal(t, geom.XYZ, g.Layout())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, g.FlatCoords())
}

func TestDecodeGeometry_Errors(t *testing.T) {
	_, err := DecodeGeometry([]byte("nope-nope"))
	assert.Error(t, err)

	_, err = DecodeGeometry([]byte{'G', 'P', 1, 1, 0, 0, 0, 0})
	assert.Error(t, err)

	// Envelope indicator 7 is reserved.
	_, err = DecodeGeometry([]byte{'G', 'P', 0, 0x0f, 0, 0, 0, 0})
	assert.Error(t, err)

	// Indicator 1 promises 32 bytes that are not there.
	_, err = DecodeGeometry([]byte{'G', 'P', 0, 0x03, 0, 0, 0, 0, 1, 2})
	assert.Error(t, err)

	g, err := DecodeGeometry(nil)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestWriteRead_FeatureLayer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wbd", "WBD_National.gpkg")

	require.NoError(t, Write(ctx, path, hucLayer()))
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".tmp")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	layers, err := f.Layers(ctx)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerInfo{Name: "WBDHU8", DataType: "features", SRID: 5070}, layers[0])
	assert.True(t, layers[0].IsFeatures())

	l, err := f.ReadLayer(ctx, "wbdhu8")
	require.NoError(t, err)
	assert.Equal(t, "WBDHU8", l.Name)
	assert.Equal(t, 5070, l.SRID)
	assert.Equal(t, "POLYGON", l.GeometryType)
	require.Len(t, l.Fields, 3)
	assert.Equal(t, geo.Field{Name: "areasqkm", Type: geo.FieldReal}, l.Fields[1])

	require.Len(t, l.Features, 2)
	assert.Equal(t, "12090301", l.Features[0].String("HUC8"))
	assert.Equal(t, 12.5, l.Features[0].Attrs["areasqkm"])
	require.NotNil(t, l.Features[0].Geometry)
	assert.Equal(t, testPolygon().FlatCoords(), l.Features[0].Geometry.FlatCoords())
	assert.Equal(t, 5070, l.Features[0].Geometry.SRID())
	assert.Nil(t, l.Features[1].Geometry)
	assert.Nil(t, l.Features[1].Attrs["areasqkm"])
}

func TestWrite_Metadata(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, Write(ctx, path, hucLayer()))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	var appID, version int
	require.NoError(t, db.QueryRow("PRAGMA application_id").Scan(&appID))
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, applicationID, appID)
	assert.Equal(t, userVersion, version)

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM gpkg_spatial_ref_sys WHERE srs_id IN (-1, 0, 4326, 5070)`).Scan(&n))
	assert.Equal(t, 4, n)

	var minX, maxY float64
	require.NoError(t, db.QueryRow(
		`SELECT min_x, max_y FROM gpkg_contents WHERE table_name = 'WBDHU8'`).Scan(&minX, &maxY))
	assert.Equal(t, 0.0, minX)
	assert.Equal(t, 5.0, maxY)
}

func TestReadLayer_MapsFileLocalSRS(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		org  string
		code int
		def  string
		want int
	}{
		{"esri albers", "ESRI", 102039, "undefined", geo.SRIDConusAlbers},
		{"albers by definition", "NONE", 100000, wktConusAlbers, geo.SRIDConusAlbers},
		{"nad83 by definition", "NONE", 100000, wktNAD83, geo.SRIDNAD83},
		{"unknown stays local", "NONE", 100000, "undefined", 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hydrofabric.gpkg")
			require.NoError(t, Write(ctx, path, hucLayer()))

			db, err := sql.Open("sqlite", path)
			require.NoError(t, err)
			_, err = db.Exec(`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition)
				VALUES ('local', 100000, ?, ?, ?)`, tt.org, tt.code, tt.def)
			require.NoError(t, err)
			_, err = db.Exec(`UPDATE gpkg_geometry_columns SET srs_id = 100000`)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			l, err := ReadLayer(ctx, path, "WBDHU8")
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.SRID)
			assert.Equal(t, tt.want, l.Features[0].Geometry.SRID())
		})
	}
}

func TestWriteRead_AttributeLayer(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vaa.gpkg")
	vaa := &geo.Layer{
		Name:   "NHDPlusFlowLineVAA",
		Fields: []geo.Field{{Name: "NHDPlusID", Type: geo.FieldReal}, {Name: "StreamOrde", Type: geo.FieldInteger}},
		Features: []geo.Feature{
			{Attrs: map[string]any{"NHDPlusID": 5.5e13, "StreamOrde": int64(3)}},
		},
	}
	require.NoError(t, Write(ctx, path, vaa))

	l, err := ReadLayer(ctx, path, "NHDPlusFlowLineVAA")
	require.NoError(t, err)
	assert.False(t, l.HasGeometry())
	require.Len(t, l.Features, 1)
	assert.Equal(t, int64(3), l.Features[0].Attrs["StreamOrde"])
}

func TestWrite_MultipleLayersAndZFlag(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "multi.gpkg")
	flows := &geo.Layer{
		Name: "NHDFlowline", SRID: geo.SRIDConusAlbers, GeometryType: "MULTILINESTRING",
		Features: []geo.Feature{{
			Geometry: geom.NewMultiLineString(geom.XYZM).MustSetCoords([][]geom.Coord{{{0, 0, 1, 2}, {1, 1, 3, 4}}}),
		}},
	}
	require.NoError(t, Write(ctx, path, hucLayer(), flows))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	var z, m int
	require.NoError(t, db.QueryRow(
		`SELECT z, m FROM gpkg_geometry_columns WHERE table_name = 'NHDFlowline'`).Scan(&z, &m))
	assert.Equal(t, 1, z)
	assert.Equal(t, 1, m)

	l, err := ReadLayer(ctx, path, "NHDFlowline")
	require.NoError(t, err)
	assert.Equal(t, geom.XYZM, l.Features[0].Geometry.Layout())
}

func TestWrite_Overwrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, Write(ctx, path, hucLayer()))
	l, err := ReadLayer(ctx, path, "WBDHU8")
	require.NoError(t, err)
	assert.Len(t, l.Features, 2)
}

func TestWrite_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	assert.Error(t, Write(ctx, filepath.Join(dir, "a.gpkg")))

	dup := hucLayer()
	assert.Error(t, Write(ctx, filepath.Join(dir, "b.gpkg"), dup, hucLayer()))

	unknown := hucLayer()
	unknown.SRID = 3857
	assert.Error(t, Write(ctx, filepath.Join(dir, "c.gpkg"), unknown))
	assert.NoFileExists(t, filepath.Join(dir, "c.gpkg"))
	assert.NoFileExists(t, filepath.Join(dir, "c.gpkg.tmp"))

	reserved := hucLayer()
	reserved.Fields = append(reserved.Fields, geo.Field{Name: "fid", Type: geo.FieldInteger})
	assert.Error(t, Write(ctx, filepath.Join(dir, "d.gpkg"), reserved))
}

func TestReadLayer_Missing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, Write(ctx, path, hucLayer()))

	_, err := ReadLayer(ctx, path, "WBDHU4")
	assert.ErrorIs(t, err, ErrLayerNotFound)

	_, err = Open(filepath.Join(t.TempDir(), "missing.gpkg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
