package vector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/geo"
)

// shapefileSource exposes a single .shp as a one-layer source named after
// the file.
type shapefileSource struct {
	path string
	name string
}

func openShapefile(path string) (*shapefileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &shapefileSource{path: path, name: name}, nil
}

func (s *shapefileSource) Layers(context.Context) ([]string, error) {
	return []string{s.name}, nil
}

func (s *shapefileSource) Close() error { return nil }

func (s *shapefileSource) ReadLayer(_ context.Context, name string) (*geo.Layer, error) {
	if !strings.EqualFold(name, s.name) {
		return nil, eris.Wrapf(ErrLayerNotFound, "%s in %s", name, s.path)
	}
	return ReadShapefile(s.path)
}

// ReadShapefile loads a shapefile into a layer. The spatial reference comes
// from the sidecar .prj; without one the layer SRID is undefined.
func ReadShapefile(path string) (*geo.Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	srid, err := prjSRID(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return nil, err
	}

	layer := &geo.Layer{
		Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		SRID:         srid,
		GeometryType: shapeTypeName(reader.GeometryType),
	}

	fields := reader.Fields()
	for _, f := range fields {
		layer.Fields = append(layer.Fields, geo.Field{
			Name: strings.TrimRight(f.String(), "\x00"),
			Type: dbfFieldType(f),
		})
	}

	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		attrs := make(map[string]any, len(fields))
		for i, fld := range layer.Fields {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[fld.Name] = dbfValue(val, fld.Type)
		}

		g := shapeToGeom(shape, srid)
		if g == nil && shape != nil && shape.BBox() != (shp.Box{}) {
			skipped++
		}
		layer.Features = append(layer.Features, geo.Feature{Geometry: g, Attrs: attrs})
	}

	if skipped > 0 {
		zap.L().Debug("vector: shapefile records without usable geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return layer, nil
}

func dbfFieldType(f shp.Field) geo.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return geo.FieldInteger
		}
		return geo.FieldReal
	case 'F':
		return geo.FieldReal
	default:
		return geo.FieldText
	}
}

func dbfValue(val string, t geo.FieldType) any {
	if val == "" {
		return nil
	}
	switch t {
	case geo.FieldInteger:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	case geo.FieldReal:
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return n
		}
	}
	return val
}

func shapeTypeName(t shp.ShapeType) string {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return "POINT"
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "MULTIPOINT"
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "MULTILINESTRING"
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "MULTIPOLYGON"
	}
	return "GEOMETRY"
}

// shapeToGeom converts a go-shp shape to 2D go-geom geometry.
// Returns nil for null or unsupported shapes.
func shapeToGeom(shape shp.Shape, srid int) geom.T {
	var g geom.T
	switch s := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		g = partsToMultiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		g = partsToMultiLineString(s.Parts, s.Points)
	case *shp.PolyLineM:
		g = partsToMultiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		g = partsToMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		g = partsToMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonM:
		g = partsToMultiPolygon(s.Parts, s.Points)
	}
	if g == nil {
		return nil
	}
	return geo.WithSRID(g, srid)
}

// partRange returns the point index span of part i.
func partRange(parts []int32, n, i int) (int, int) {
	start := int(parts[i])
	end := n
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	return start, end
}

func flatPart(points []shp.Point, start, end int) []float64 {
	flat := make([]float64, 0, (end-start)*2)
	for _, p := range points[start:end] {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func partsToMultiLineString(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	var flat []float64
	var ends []int
	for i := range parts {
		start, end := partRange(parts, len(points), i)
		if start < 0 || end > len(points) || end-start < 2 {
			continue
		}
		flat = append(flat, flatPart(points, start, end)...)
		ends = append(ends, len(flat))
	}
	if len(ends) == 0 {
		return nil
	}
	return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
}

// partsToMultiPolygon groups shapefile rings into polygons. Outer rings are
// clockwise in a shapefile; each counter-clockwise ring is a hole of the
// preceding outer ring.
func partsToMultiPolygon(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	var flat []float64
	var endss [][]int
	for i := range parts {
		start, end := partRange(parts, len(points), i)
		if start < 0 || end > len(points) || end-start < 4 {
			continue
		}
		ring := flatPart(points, start, end)
		hole := ringArea(ring) > 0
		if hole && len(endss) > 0 {
			flat = append(flat, ring...)
			last := len(endss) - 1
			endss[last] = append(endss[last], len(flat))
			continue
		}
		flat = append(flat, ring...)
		endss = append(endss, []int{len(flat)})
	}
	if len(endss) == 0 {
		return nil
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

// ringArea is twice the signed area of a closed XY ring; negative when
// clockwise.
func ringArea(flat []float64) float64 {
	var a float64
	for i := 0; i+3 < len(flat); i += 2 {
		a += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return a
}

// prjSRID identifies the handful of reference systems the pipeline meets in
// .prj files. A missing .prj gives SRIDUndefined.
func prjSRID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return geo.SRIDUndefined, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "vector: read %s", path)
	}
	return geo.SRIDFromWKT(string(data)), nil
}
