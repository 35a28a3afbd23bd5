package geo

import (
	"github.com/peterstace/simplefeatures/rtree"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ErrEmptyDomain is returned when subsetting against a domain reference that
// holds no geometry. Subsetting against nothing would silently drop every
// feature.
var ErrEmptyDomain = eris.New("geo: domain reference has no geometry")

// Index answers "does anything here intersect g" over a fixed set of
// geometries. It is read-only after construction and safe for concurrent
// queries.
type Index struct {
	items  []shape
	tree   *rtree.RTree
	extent Envelope
}

// NewIndex indexes every non-empty geometry of the given layer.
func NewIndex(l *Layer) (*Index, error) {
	ix := &Index{}
	var boxes []rtree.BulkItem
	for _, f := range l.Features {
		s, ok := toShape(f.Geometry)
		if !ok {
			continue
		}
		if len(ix.items) == 0 {
			ix.extent = s.env
		} else {
			ix.extent = ix.extent.Extend(s.env)
		}
		boxes = append(boxes, rtree.BulkItem{Box: box(s.env), RecordID: len(ix.items)})
		ix.items = append(ix.items, s)
	}
	if len(ix.items) == 0 {
		return nil, eris.Wrapf(ErrEmptyDomain, "index layer %s", l.Name)
	}
	ix.tree = rtree.BulkLoad(boxes)
	return ix, nil
}

func box(e Envelope) rtree.Box {
	return rtree.Box{MinX: e.MinX, MinY: e.MinY, MaxX: e.MaxX, MaxY: e.MaxY}
}

// Len returns the number of indexed geometries.
func (ix *Index) Len() int { return len(ix.items) }

// AnyIntersects reports whether g intersects at least one indexed geometry.
func (ix *Index) AnyIntersects(g geom.T) bool {
	q, ok := toShape(g)
	if !ok || !q.env.Intersects(ix.extent) {
		return false
	}

	found := false
	_ = ix.tree.RangeSearch(box(q.env), func(id int) error {
		if q.intersects(ix.items[id]) {
			found = true
			return rtree.Stop
		}
		return nil
	})
	return found
}

// SubsetToDomain keeps the features of l that intersect the domain reference.
// Both layers must share an SRID. Feature order is preserved.
func SubsetToDomain(l, domain *Layer) (*Layer, error) {
	if l.SRID != domain.SRID {
		return nil, eris.Errorf("geo: subset %s (srid %d) against domain %s (srid %d)",
			l.Name, l.SRID, domain.Name, domain.SRID)
	}
	ix, err := NewIndex(domain)
	if err != nil {
		return nil, err
	}
	return SubsetWithIndex(l, ix), nil
}

// SubsetWithIndex keeps the features of l that intersect the index.
func SubsetWithIndex(l *Layer, ix *Index) *Layer {
	return l.Filter(func(f Feature) bool { return ix.AnyIntersects(f.Geometry) })
}
