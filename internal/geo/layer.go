// Package geo holds the in-memory feature model and the geometric
// operations applied during preprocessing: reprojection, intersection tests,
// domain subsetting and ring repair.
package geo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// FieldType is the storage class of an attribute column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldReal
	FieldBlob
)

// Field describes one attribute column.
type Field struct {
	Name string
	Type FieldType
}

// Feature is one row: an optional geometry plus attributes keyed by field name.
type Feature struct {
	Geometry geom.T
	Attrs    map[string]any
}

// Layer is an ordered collection of features sharing a schema and spatial
// reference. A layer without GeometryType carries attributes only.
type Layer struct {
	Name         string
	SRID         int
	GeometryType string
	Fields       []Field
	Features     []Feature
}

// HasGeometry reports whether the layer is a feature layer.
func (l *Layer) HasGeometry() bool { return l.GeometryType != "" }

// Len returns the number of features.
func (l *Layer) Len() int { return len(l.Features) }

// FieldIndex returns the position of the named field, matching
// case-insensitively, or -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	for i, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// RenameField renames a column in the schema and in every feature.
func (l *Layer) RenameField(from, to string) error {
	idx := l.FieldIndex(from)
	if idx < 0 {
		return eris.Errorf("geo: layer %s has no field %q", l.Name, from)
	}
	old := l.Fields[idx].Name
	if old == to {
		return nil
	}
	l.Fields[idx].Name = to
	for i := range l.Features {
		attrs := l.Features[i].Attrs
		if v, ok := attrs[old]; ok {
			delete(attrs, old)
			attrs[to] = v
		}
	}
	return nil
}

// SetField adds the field to the schema if missing and assigns values
// row by row. len(values) must equal Len().
func (l *Layer) SetField(f Field, values []any) error {
	if len(values) != len(l.Features) {
		return eris.Errorf("geo: %d values for %d features", len(values), len(l.Features))
	}
	if idx := l.FieldIndex(f.Name); idx >= 0 {
		l.Fields[idx] = f
	} else {
		l.Fields = append(l.Fields, f)
	}
	for i := range l.Features {
		if l.Features[i].Attrs == nil {
			l.Features[i].Attrs = make(map[string]any)
		}
		l.Features[i].Attrs[f.Name] = values[i]
	}
	return nil
}

// String returns the attribute as text; nil and missing give "".
func (f Feature) String(name string) string {
	v, ok := f.Attrs[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// SortByField orders features ascending by the text value of a field.
func (l *Layer) SortByField(name string) error {
	idx := l.FieldIndex(name)
	if idx < 0 {
		return eris.Errorf("geo: layer %s has no field %q", l.Name, name)
	}
	key := l.Fields[idx].Name
	sort.SliceStable(l.Features, func(i, j int) bool {
		return l.Features[i].String(key) < l.Features[j].String(key)
	})
	return nil
}

// StringValues returns the text value of a field for every feature in order.
func (l *Layer) StringValues(name string) ([]string, error) {
	idx := l.FieldIndex(name)
	if idx < 0 {
		return nil, eris.Errorf("geo: layer %s has no field %q", l.Name, name)
	}
	key := l.Fields[idx].Name
	out := make([]string, len(l.Features))
	for i, f := range l.Features {
		out[i] = f.String(key)
	}
	return out, nil
}

// Filter returns a shallow copy of the layer holding only features for
// which keep returns true.
func (l *Layer) Filter(keep func(Feature) bool) *Layer {
	out := *l
	out.Fields = append([]Field(nil), l.Fields...)
	out.Features = make([]Feature, 0, len(l.Features))
	for _, f := range l.Features {
		if keep(f) {
			out.Features = append(out.Features, f)
		}
	}
	return &out
}

// Envelope is an axis-aligned bounding box.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// EnvelopeOf returns the 2D bounding box of g. ok is false for nil or empty
// geometries.
func EnvelopeOf(g geom.T) (Envelope, bool) {
	if g == nil || len(g.FlatCoords()) == 0 {
		if gc, isGC := g.(*geom.GeometryCollection); isGC && !gc.Empty() {
			return boundsEnvelope(gc.Bounds())
		}
		return Envelope{}, false
	}
	return boundsEnvelope(g.Bounds())
}

func boundsEnvelope(b *geom.Bounds) (Envelope, bool) {
	e := Envelope{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
	if e.MinX > e.MaxX || e.MinY > e.MaxY {
		return Envelope{}, false
	}
	return e, true
}

// Intersects reports whether two envelopes share any point.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Extend grows e to cover o.
func (e Envelope) Extend(o Envelope) Envelope {
	return Envelope{
		MinX: min(e.MinX, o.MinX),
		MinY: min(e.MinY, o.MinY),
		MaxX: max(e.MaxX, o.MaxX),
		MaxY: max(e.MaxY, o.MaxY),
	}
}

// Extent returns the envelope of all features with geometry.
func (l *Layer) Extent() (Envelope, bool) {
	var out Envelope
	found := false
	for _, f := range l.Features {
		e, ok := EnvelopeOf(f.Geometry)
		if !ok {
			continue
		}
		if !found {
			out, found = e, true
			continue
		}
		out = out.Extend(e)
	}
	return out, found
}
