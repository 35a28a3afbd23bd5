package geo

import (
	"cmp"
	"slices"

	"github.com/peterstace/simplefeatures/rtree"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersection"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
)

// Repair normalises a geometry so downstream consumers see valid rings.
// Consecutive duplicate vertices are dropped and rings are closed. A ring
// that crosses or touches itself is cut at those points into simple loops
// and loops without area are removed. Loops nest by even-odd containment:
// shells are wound counter-clockwise and holes clockwise, and a polygon that
// yields several shells becomes a multipolygon. Holes outside every shell
// are dropped. nil is returned when nothing survives.
func Repair(g geom.T) geom.T {
	switch t := g.(type) {
	case *geom.Polygon:
		polys := repairPolygon(t)
		switch len(polys) {
		case 0:
			return nil
		case 1:
			flat, ends := polys[0].flatten()
			return geom.NewPolygonFlat(t.Layout(), flat, ends).SetSRID(t.SRID())
		}
		return multiPolygon(t.Layout(), t.SRID(), polys)
	case *geom.MultiPolygon:
		var polys []ringSet
		for i := range t.NumPolygons() {
			polys = append(polys, repairPolygon(t.Polygon(i))...)
		}
		if len(polys) == 0 {
			return nil
		}
		return multiPolygon(t.Layout(), t.SRID(), polys)
	case *geom.LineString:
		flat := dedupe(t.FlatCoords(), t.Stride())
		if len(flat) < 2*t.Stride() {
			return nil
		}
		return geom.NewLineStringFlat(t.Layout(), flat).SetSRID(t.SRID())
	case *geom.MultiLineString:
		var flat []float64
		var ends []int
		for i := range t.NumLineStrings() {
			ls := t.LineString(i)
			run := dedupe(ls.FlatCoords(), ls.Stride())
			if len(run) < 2*ls.Stride() {
				continue
			}
			flat = append(flat, run...)
			ends = append(ends, len(flat))
		}
		if len(ends) == 0 {
			return nil
		}
		return geom.NewMultiLineStringFlat(t.Layout(), flat, ends).SetSRID(t.SRID())
	}
	return g
}

// RepairLayer applies Repair to every feature. A feature whose geometry does
// not survive is dropped only when its envelope has no area; otherwise the
// original geometry is kept. It returns the number dropped.
func RepairLayer(l *Layer) int {
	if !l.HasGeometry() {
		return 0
	}
	kept := l.Features[:0]
	dropped := 0
	for i, f := range l.Features {
		if f.Geometry == nil {
			kept = append(kept, f)
			continue
		}
		g := Repair(f.Geometry)
		if g == nil {
			if env, ok := EnvelopeOf(f.Geometry); ok && env.MaxX > env.MinX && env.MaxY > env.MinY {
				zap.L().Warn("geo: keeping geometry that could not be repaired",
					zap.String("layer", l.Name),
					zap.Int("feature", i),
				)
				kept = append(kept, f)
				continue
			}
			dropped++
			continue
		}
		f.Geometry = g
		kept = append(kept, f)
	}
	clear(l.Features[len(kept):])
	l.Features = kept
	return dropped
}

// ringSet is one polygon: the shell followed by its holes.
type ringSet [][]float64

func (rs ringSet) flatten() ([]float64, []int) {
	var flat []float64
	ends := make([]int, 0, len(rs))
	for _, r := range rs {
		flat = append(flat, r...)
		ends = append(ends, len(flat))
	}
	return flat, ends
}

func multiPolygon(layout geom.Layout, srid int, polys []ringSet) *geom.MultiPolygon {
	var flat []float64
	endss := make([][]int, 0, len(polys))
	for _, p := range polys {
		pf, pe := p.flatten()
		for j := range pe {
			pe[j] += len(flat)
		}
		flat = append(flat, pf...)
		endss = append(endss, pe)
	}
	return geom.NewMultiPolygonFlat(layout, flat, endss).SetSRID(srid)
}

type loop struct {
	flat  []float64
	area  float64
	depth int
	holes [][]float64
}

// repairPolygon splits every ring of p into simple loops and nests them.
// Loops of the outer ring alternate shell and hole by containment depth.
// Loops of the inner rings become holes of the innermost shell containing
// them.
func repairPolygon(p *geom.Polygon) []ringSet {
	if p.NumLinearRings() == 0 {
		return nil
	}
	layout, stride := p.Layout(), p.Stride()

	var placed []*loop
	for _, l := range bySize(splitRing(p.LinearRing(0).FlatCoords(), stride), stride) {
		parent := innermost(layout, placed, l.flat)
		if parent != nil {
			l.depth = parent.depth + 1
			if l.depth%2 == 1 {
				parent.holes = append(parent.holes, l.flat)
			}
		}
		placed = append(placed, l)
	}

	for i := 1; i < p.NumLinearRings(); i++ {
		for _, h := range bySize(splitRing(p.LinearRing(i).FlatCoords(), stride), stride) {
			parent := innermost(layout, placed, h.flat)
			if parent == nil || parent.depth%2 == 1 {
				continue
			}
			parent.holes = append(parent.holes, h.flat)
		}
	}

	var out []ringSet
	for _, l := range placed {
		if l.depth%2 == 1 {
			continue
		}
		rs := ringSet{orient(l.flat, stride, true)}
		for _, h := range l.holes {
			rs = append(rs, orient(h, stride, false))
		}
		out = append(out, rs)
	}
	return out
}

// bySize wraps loops largest first, so a loop is always placed after any
// loop that can contain it.
func bySize(flats [][]float64, stride int) []*loop {
	out := make([]*loop, len(flats))
	for i, f := range flats {
		a := signedArea(f, stride)
		out[i] = &loop{flat: f, area: max(a, -a)}
	}
	slices.SortStableFunc(out, func(a, b *loop) int { return cmp.Compare(b.area, a.area) })
	return out
}

// innermost returns the smallest placed loop that contains ring.
func innermost(layout geom.Layout, placed []*loop, ring []float64) *loop {
	for i := len(placed) - 1; i >= 0; i-- {
		if contains(layout, placed[i].flat, ring) {
			return placed[i]
		}
	}
	return nil
}

// contains tests the first segment midpoint of inner that is not on the
// boundary of outer. Loops that share every segment are not nested.
func contains(layout geom.Layout, outer, inner []float64) bool {
	stride := layout.Stride()
	mid := make(geom.Coord, stride)
	for i := 0; i+2*stride <= len(inner); i += stride {
		for k := range stride {
			mid[k] = (inner[i+k] + inner[i+stride+k]) / 2
		}
		switch xy.LocatePointInRing(layout, mid, outer) {
		case location.Interior:
			return true
		case location.Exterior:
			return false
		}
	}
	return false
}

func orient(ring []float64, stride int, ccw bool) []float64 {
	if (signedArea(ring, stride) > 0) != ccw {
		reverse(ring, stride)
	}
	return ring
}

// splitRing closes and nodes a ring and cuts it into simple loops with
// non-zero area.
func splitRing(flat []float64, stride int) [][]float64 {
	ring := closeRing(dedupe(flat, stride), stride)
	if len(ring) < 4*stride {
		return nil
	}
	var out [][]float64
	for _, l := range loopsOf(node(ring, stride), stride) {
		if len(l) >= 4*stride && signedArea(l, stride) != 0 {
			out = append(out, l)
		}
	}
	return out
}

func closeRing(flat []float64, stride int) []float64 {
	n := len(flat) / stride
	if n == 0 {
		return nil
	}
	last := (n - 1) * stride
	if flat[0] != flat[last] || flat[1] != flat[last+1] {
		flat = append(flat, flat[:stride]...)
	}
	return flat
}

// node inserts every point where two segments of a closed ring meet, other
// than the vertex shared by neighbours, into both segments. Both copies of a
// point carry identical x and y.
func node(ring []float64, stride int) []float64 {
	n := len(ring)/stride - 1
	seg := func(i int) (geom.Coord, geom.Coord) {
		return geom.Coord(ring[i*stride : i*stride+2]), geom.Coord(ring[(i+1)*stride : (i+1)*stride+2])
	}

	items := make([]rtree.BulkItem, n)
	for i := range n {
		a, b := seg(i)
		items[i] = rtree.BulkItem{
			Box:      rtree.Box{MinX: min(a[0], b[0]), MinY: min(a[1], b[1]), MaxX: max(a[0], b[0]), MaxY: max(a[1], b[1])},
			RecordID: i,
		}
	}
	tree := rtree.BulkLoad(items)

	cuts := make([][]geom.Coord, n)
	for i := range n {
		a, b := seg(i)
		_ = tree.RangeSearch(items[i].Box, func(j int) error {
			if j <= i {
				return nil
			}
			c, d := seg(j)
			res := lineintersector.LineIntersectsLine(lineintersector.RobustLineIntersector{}, a, b, c, d)
			switch res.Type() {
			case lineintersection.PointIntersection:
				if j == i+1 || (i == 0 && j == n-1) {
					return nil
				}
			case lineintersection.CollinearIntersection:
			default:
				return nil
			}
			for _, p := range res.Intersection() {
				q := geom.Coord{p[0], p[1]}
				cuts[i] = append(cuts[i], q)
				cuts[j] = append(cuts[j], q)
			}
			return nil
		})
	}

	out := make([]float64, 0, len(ring))
	for i := range n {
		start, end := ring[i*stride:(i+1)*stride], ring[(i+1)*stride:(i+2)*stride]
		out = append(out, start...)
		pts := cuts[i]
		slices.SortFunc(pts, func(p, q geom.Coord) int {
			return cmp.Compare(along(start, end, p), along(start, end, q))
		})
		for _, p := range pts {
			out = append(out, lerp(start, end, p, stride)...)
		}
	}
	out = append(out, ring[n*stride:]...)
	return dedupe(out, stride)
}

// along is the position of p projected onto a->b, 0 at a and 1 at b.
func along(a, b []float64, p geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := dx*dx + dy*dy
	if l == 0 {
		return 0
	}
	return ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l
}

// lerp builds a vertex at p, interpolating ordinates beyond x and y.
func lerp(a, b []float64, p geom.Coord, stride int) []float64 {
	v := make([]float64, stride)
	v[0], v[1] = p[0], p[1]
	t := along(a, b, p)
	for k := 2; k < stride; k++ {
		v[k] = a[k] + t*(b[k]-a[k])
	}
	return v
}

// loopsOf cuts a closed ring into loops at every repeated vertex.
func loopsOf(ring []float64, stride int) [][]float64 {
	type key [2]float64
	at := make(map[key]int)
	var stack []float64
	var loops [][]float64
	for i := 0; i+stride <= len(ring); i += stride {
		v := ring[i : i+stride]
		k := key{v[0], v[1]}
		j, seen := at[k]
		if !seen {
			at[k] = len(stack) / stride
			stack = append(stack, v...)
			continue
		}
		loops = append(loops, append(slices.Clone(stack[j*stride:]), v...))
		for m := j + 1; m < len(stack)/stride; m++ {
			delete(at, key{stack[m*stride], stack[m*stride+1]})
		}
		stack = stack[:(j+1)*stride]
	}
	return loops
}

// dedupe copies flat, skipping vertices equal in x and y to their predecessor.
func dedupe(flat []float64, stride int) []float64 {
	out := make([]float64, 0, len(flat))
	for i := 0; i+stride <= len(flat); i += stride {
		if n := len(out); n >= stride && out[n-stride] == flat[i] && out[n-stride+1] == flat[i+1] {
			continue
		}
		out = append(out, flat[i:i+stride]...)
	}
	return out
}

// signedArea is twice the shoelace area; positive for counter-clockwise.
func signedArea(flat []float64, stride int) float64 {
	var a float64
	for i := 0; i+2*stride <= len(flat); i += stride {
		a += flat[i]*flat[i+stride+1] - flat[i+stride]*flat[i+1]
	}
	return a
}

func reverse(flat []float64, stride int) {
	n := len(flat) / stride
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		for k := range stride {
			flat[i*stride+k], flat[j*stride+k] = flat[j*stride+k], flat[i*stride+k]
		}
	}
}
