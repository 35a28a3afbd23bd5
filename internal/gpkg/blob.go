package gpkg

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/fim-prep/internal/geo"
)

// Geometry blob header flag bits.
const (
	flagLittleEndian = 0x01
	flagEnvelopeXY   = 0x01 << 1
	flagEmpty        = 0x01 << 4
)

// envelopeSizes maps the 3-bit envelope indicator to its byte length.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// EncodeGeometry serialises g as a GeoPackage geometry blob: the "GP" header
// with an XY envelope followed by little-endian ISO WKB.
func EncodeGeometry(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}

	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: encode wkb")
	}

	var buf bytes.Buffer
	buf.Grow(8 + 32 + len(body))
	buf.Write([]byte{'G', 'P', 0})

	env, ok := geo.EnvelopeOf(g)
	flags := byte(flagLittleEndian)
	if ok {
		flags |= flagEnvelopeXY
	} else {
		flags |= flagEmpty
	}
	buf.WriteByte(flags)

	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(int32(srid)))
	buf.Write(tmp[:4])
	if ok {
		for _, v := range []float64{env.MinX, env.MaxX, env.MinY, env.MaxY} {
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
			buf.Write(tmp[:])
		}
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeGeometry parses a GeoPackage geometry blob. The returned geometry
// carries the SRID from the header.
func DecodeGeometry(b []byte) (geom.T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("gpkg: not a geometry blob")
	}
	if b[2] != 0 {
		return nil, eris.Errorf("gpkg: unsupported blob version %d", b[2])
	}

	flags := b[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srid := int(int32(order.Uint32(b[4:8])))

	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, eris.Errorf("gpkg: invalid envelope indicator in flags 0x%02x", flags)
	}
	start := 8 + envSize
	if len(b) < start {
		return nil, eris.New("gpkg: truncated geometry blob")
	}

	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: decode wkb")
	}
	return geo.WithSRID(g, srid), nil
}
