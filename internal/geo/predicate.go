package geo

import (
	sfgeom "github.com/peterstace/simplefeatures/geom"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
)

// shape is a geometry prepared for predicates: its envelope plus the
// simplefeatures form. When the conversion fails exact is false and only the
// envelope is compared.
type shape struct {
	env   Envelope
	sf    sfgeom.Geometry
	exact bool
}

func toShape(g geom.T) (shape, bool) {
	if g == nil {
		return shape{}, false
	}
	env, ok := EnvelopeOf(g)
	if !ok {
		return shape{}, false
	}
	s := shape{env: env}

	b, err := wkb.Marshal(g, wkb.NDR)
	if err == nil {
		s.sf, err = sfgeom.UnmarshalWKB(b)
	}
	if err != nil {
		zap.L().Debug("geo: envelope-only predicate", zap.Error(err))
		return s, true
	}
	s.exact = true
	return s, true
}

func (s shape) intersects(o shape) bool {
	if !s.env.Intersects(o.env) {
		return false
	}
	if !s.exact || !o.exact {
		return true
	}
	return sfgeom.Intersects(s.sf, o.sf)
}

// Intersects reports whether a and b share at least one point. nil and empty
// geometries intersect nothing.
func Intersects(a, b geom.T) bool {
	sa, ok := toShape(a)
	if !ok {
		return false
	}
	sb, ok := toShape(b)
	if !ok {
		return false
	}
	return sa.intersects(sb)
}
