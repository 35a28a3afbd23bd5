package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Spatial reference identifiers understood by the pipeline.
const (
	SRIDUndefined   = 0
	SRIDWGS84       = 4326
	SRIDNAD83       = 4269
	SRIDConusAlbers = 5070
)

// ErrUnsupportedSRS is returned for a reference system with no transform.
var ErrUnsupportedSRS = eris.New("geo: unsupported spatial reference")

// ParseSRS turns "EPSG:5070", "epsg:4269" or a bare code into an SRID.
// ESRI:102039 shares the CONUS Albers parameters and maps to 5070.
func ParseSRS(s string) (int, error) {
	s = strings.TrimSpace(s)
	auth, code, found := strings.Cut(s, ":")
	if !found {
		code, auth = auth, "EPSG"
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil || n <= 0 {
		return 0, eris.Errorf("geo: invalid spatial reference %q", s)
	}
	switch strings.ToUpper(strings.TrimSpace(auth)) {
	case "EPSG":
		return n, nil
	case "ESRI":
		if n == 102039 {
			return SRIDConusAlbers, nil
		}
	}
	return 0, eris.Wrapf(ErrUnsupportedSRS, "parse %q", s)
}

// SRIDFromWKT recognises NAD83, WGS84 and CONUS Albers in ESRI, OGC or
// WKT2 text. Anything else gives SRIDUndefined.
func SRIDFromWKT(wkt string) int {
	w := strings.ToUpper(strings.ReplaceAll(wkt, " ", ""))
	switch {
	case strings.HasPrefix(w, "PROJCS"), strings.HasPrefix(w, "PROJCRS"):
		if strings.Contains(w, "ALBERS") &&
			hasParam(w, `"STANDARD_PARALLEL_1",29.5`, `"LATITUDEOF1STSTANDARDPARALLEL",29.5`) &&
			hasParam(w, `"STANDARD_PARALLEL_2",45.5`, `"LATITUDEOF2NDSTANDARDPARALLEL",45.5`) &&
			strings.Contains(w, `-96`) {
			return SRIDConusAlbers
		}
	case strings.HasPrefix(w, "GEOGCS"), strings.HasPrefix(w, "GEOGCRS"):
		switch {
		case strings.Contains(w, "NORTH_AMERICAN_DATUM_1983"), strings.Contains(w, "NORTH_AMERICAN_1983"),
			strings.Contains(w, "NORTHAMERICANDATUM1983"), strings.Contains(w, "NAD83"):
			return SRIDNAD83
		case strings.Contains(w, "WGS_1984"), strings.Contains(w, "WGS84"), strings.Contains(w, "WORLDGEODETICSYSTEM1984"):
			return SRIDWGS84
		}
	}
	return SRIDUndefined
}

func hasParam(w string, forms ...string) bool {
	for _, f := range forms {
		if strings.Contains(w, f) {
			return true
		}
	}
	return false
}

// geographic reports whether srid is a lon/lat system. NAD83 and WGS84 are
// treated as coincident.
func geographic(srid int) bool {
	return srid == SRIDWGS84 || srid == SRIDNAD83
}

// CoordFunc maps one planar coordinate pair.
type CoordFunc func(x, y float64) (float64, float64)

// Transform returns the coordinate mapping from one SRID to another.
func Transform(from, to int) (CoordFunc, error) {
	switch {
	case from == to, geographic(from) && geographic(to):
		return func(x, y float64) (float64, float64) { return x, y }, nil
	case geographic(from) && to == SRIDConusAlbers:
		return conusAlbers.Forward, nil
	case from == SRIDConusAlbers && geographic(to):
		return conusAlbers.Inverse, nil
	case from == SRIDUndefined:
		return nil, eris.Wrap(ErrUnsupportedSRS, "geo: source has no spatial reference")
	}
	return nil, eris.Wrapf(ErrUnsupportedSRS, "geo: transform %d -> %d", from, to)
}

// Albers is an ellipsoidal Albers equal-area conic projection.
type Albers struct {
	a, e2, e   float64
	lon0       float64
	fe, fn     float64
	n, c, rho0 float64
}

// NewAlbers prepares the projection constants. Angles are in degrees.
func NewAlbers(a, invF, lat0, lon0, lat1, lat2, fe, fn float64) *Albers {
	f := 1 / invF
	e2 := 2*f - f*f
	p := &Albers{a: a, e2: e2, e: math.Sqrt(e2), lon0: rad(lon0), fe: fe, fn: fn}

	m1, m2 := p.m(rad(lat1)), p.m(rad(lat2))
	q0, q1, q2 := p.q(rad(lat0)), p.q(rad(lat1)), p.q(rad(lat2))
	if lat1 == lat2 {
		p.n = math.Sin(rad(lat1))
	} else {
		p.n = (m1*m1 - m2*m2) / (q2 - q1)
	}
	p.c = m1*m1 + p.n*q1
	p.rho0 = a * math.Sqrt(p.c-p.n*q0) / p.n
	return p
}

// conusAlbers is EPSG:5070, NAD83 / Conus Albers.
var conusAlbers = NewAlbers(6378137, 298.257222101, 23, -96, 29.5, 45.5, 0, 0)

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func (p *Albers) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.e2*s*s)
}

func (p *Albers) q(phi float64) float64 {
	s := math.Sin(phi)
	return (1 - p.e2) * (s/(1-p.e2*s*s) - math.Log((1-p.e*s)/(1+p.e*s))/(2*p.e))
}

// Forward projects lon/lat degrees to easting/northing metres.
func (p *Albers) Forward(lon, lat float64) (float64, float64) {
	rho := p.a * math.Sqrt(p.c-p.n*p.q(rad(lat))) / p.n
	theta := p.n * (rad(lon) - p.lon0)
	return p.fe + rho*math.Sin(theta), p.fn + p.rho0 - rho*math.Cos(theta)
}

// Inverse maps easting/northing metres back to lon/lat degrees.
func (p *Albers) Inverse(x, y float64) (float64, float64) {
	dx, dy := x-p.fe, p.rho0-(y-p.fn)
	rho := math.Hypot(dx, dy)
	if p.n < 0 {
		rho, dx, dy = -rho, -dx, -dy
	}
	theta := math.Atan2(dx, dy)
	q := (p.c - rho*rho*p.n*p.n/(p.a*p.a)) / p.n

	phi := math.Asin(math.Max(-1, math.Min(1, q/2)))
	for range 15 {
		s := math.Sin(phi)
		es2 := 1 - p.e2*s*s
		d := es2 * es2 / (2 * math.Cos(phi)) *
			(q/(1-p.e2) - s/es2 + math.Log((1-p.e*s)/(1+p.e*s))/(2*p.e))
		phi += d
		if math.Abs(d) < 1e-12 {
			break
		}
	}
	return deg(p.lon0 + theta/p.n), deg(phi)
}

// TransformGeom returns a copy of g with every vertex mapped by fn and its
// SRID set to srid. Z and M ordinates are carried unchanged.
func TransformGeom(g geom.T, fn CoordFunc, srid int) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		out := geom.NewGeometryCollection()
		for i := range gc.NumGeoms() {
			child, err := TransformGeom(gc.Geom(i), fn, srid)
			if err != nil {
				return nil, err
			}
			if err := out.Push(child); err != nil {
				return nil, eris.Wrap(err, "geo: rebuild collection")
			}
		}
		return out.SetSRID(srid), nil
	}

	c, err := cloneGeom(g)
	if err != nil {
		return nil, err
	}
	flat, stride := c.FlatCoords(), c.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = fn(flat[i], flat[i+1])
	}
	return WithSRID(c, srid), nil
}

// Reproject returns a copy of l in the target SRID. Attribute-only layers are
// returned as a copy unchanged.
func Reproject(l *Layer, to int) (*Layer, error) {
	out := *l
	out.Fields = append([]Field(nil), l.Fields...)
	out.Features = make([]Feature, len(l.Features))
	if !l.HasGeometry() {
		copy(out.Features, l.Features)
		return &out, nil
	}

	fn, err := Transform(l.SRID, to)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: reproject layer %s", l.Name)
	}
	for i, f := range l.Features {
		g, err := TransformGeom(f.Geometry, fn, to)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: reproject feature %d of %s", i, l.Name)
		}
		out.Features[i] = Feature{Geometry: g, Attrs: f.Attrs}
	}
	out.SRID = to
	return &out, nil
}

func cloneGeom(g geom.T) (geom.T, error) {
	switch t := g.(type) {
	case *geom.Point:
		return t.Clone(), nil
	case *geom.LineString:
		return t.Clone(), nil
	case *geom.LinearRing:
		return t.Clone(), nil
	case *geom.Polygon:
		return t.Clone(), nil
	case *geom.MultiPoint:
		return t.Clone(), nil
	case *geom.MultiLineString:
		return t.Clone(), nil
	case *geom.MultiPolygon:
		return t.Clone(), nil
	}
	return nil, eris.Errorf("geo: unsupported geometry type %T", g)
}

// WithSRID sets the SRID on any concrete go-geom geometry.
func WithSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.LinearRing:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	case *geom.GeometryCollection:
		return t.SetSRID(srid)
	}
	return g
}
