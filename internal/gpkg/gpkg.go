// Package gpkg reads and writes OGC GeoPackage files on top of
// modernc.org/sqlite. Only what the pipeline needs is covered: feature and
// attribute tables with the standard geometry blob, without spatial indexes.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fim-prep/internal/geo"
)

const (
	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10300

	geometryColumn = "geom"
	fidColumn      = "fid"
)

// ErrLayerNotFound is returned when a named table is not listed in
// gpkg_contents.
var ErrLayerNotFound = eris.New("gpkg: layer not found")

// LayerInfo is one row of gpkg_contents.
type LayerInfo struct {
	Name     string
	DataType string
	SRID     int
}

// IsFeatures reports whether the table carries geometry.
func (i LayerInfo) IsFeatures() bool { return i.DataType == "features" }

const schema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
`

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func sqlType(t geo.FieldType) string {
	switch t {
	case geo.FieldInteger:
		return "INTEGER"
	case geo.FieldReal:
		return "DOUBLE"
	case geo.FieldBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func fieldType(decl string) geo.FieldType {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "INT"):
		return geo.FieldInteger
	case strings.Contains(d, "REAL"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "FLOA"), strings.Contains(d, "NUMERIC"):
		return geo.FieldReal
	case strings.Contains(d, "BLOB"):
		return geo.FieldBlob
	default:
		return geo.FieldText
	}
}

// File is an open GeoPackage.
type File struct {
	db   *sql.DB
	path string
}

// Open opens an existing GeoPackage for reading.
func Open(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	return &File{db: db, path: path}, nil
}

// Close releases the database handle.
func (f *File) Close() error {
	return f.db.Close()
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Layers lists the tables registered in gpkg_contents in name order.
func (f *File) Layers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := f.db.QueryContext(ctx,
		`SELECT table_name, data_type, COALESCE(srs_id, 0) FROM gpkg_contents ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: list layers in %s", f.path)
	}
	defer rows.Close() //nolint:errcheck

	var out []LayerInfo
	for rows.Next() {
		var li LayerInfo
		if err := rows.Scan(&li.Name, &li.DataType, &li.SRID); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan layer")
		}
		out = append(out, li)
	}
	return out, eris.Wrap(rows.Err(), "gpkg: iterate layers")
}

func (f *File) layerInfo(ctx context.Context, name string) (LayerInfo, error) {
	var li LayerInfo
	err := f.db.QueryRowContext(ctx,
		`SELECT table_name, data_type, COALESCE(srs_id, 0) FROM gpkg_contents WHERE table_name = ? COLLATE NOCASE`,
		name,
	).Scan(&li.Name, &li.DataType, &li.SRID)
	if errors.Is(err, sql.ErrNoRows) {
		return li, eris.Wrapf(ErrLayerNotFound, "%s in %s", name, f.path)
	}
	if err != nil {
		return li, eris.Wrapf(err, "gpkg: look up layer %s", name)
	}
	return li, nil
}

// ReadLayer loads every row of the named table.
func (f *File) ReadLayer(ctx context.Context, name string) (*geo.Layer, error) {
	li, err := f.layerInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	layer := &geo.Layer{Name: li.Name, SRID: li.SRID}
	geomCol := ""
	if li.IsFeatures() {
		err := f.db.QueryRowContext(ctx,
			`SELECT column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`,
			li.Name,
		).Scan(&geomCol, &layer.GeometryType, &layer.SRID)
		if err != nil {
			return nil, eris.Wrapf(err, "gpkg: geometry column of %s", li.Name)
		}
		if layer.SRID, err = f.epsgCode(ctx, layer.SRID); err != nil {
			return nil, err
		}
	}

	cols, err := f.columns(ctx, li.Name)
	if err != nil {
		return nil, err
	}
	selectCols := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		if strings.EqualFold(c.name, geomCol) || c.pk {
			continue
		}
		layer.Fields = append(layer.Fields, geo.Field{Name: c.name, Type: fieldType(c.decl)})
		selectCols = append(selectCols, quoteIdent(c.name))
	}
	if geomCol != "" {
		selectCols = append(selectCols, quoteIdent(geomCol))
	}
	if len(selectCols) == 0 {
		return layer, nil
	}

	rows, err := f.db.QueryContext(ctx,
		"SELECT "+strings.Join(selectCols, ", ")+" FROM "+quoteIdent(li.Name)+" ORDER BY rowid")
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: read layer %s", li.Name)
	}
	defer rows.Close() //nolint:errcheck

	nAttr := len(layer.Fields)
	vals := make([]any, len(selectCols))
	ptrs := make([]any, len(selectCols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "gpkg: scan row of %s", li.Name)
		}
		feat := geo.Feature{Attrs: make(map[string]any, nAttr)}
		for i, fld := range layer.Fields {
			feat.Attrs[fld.Name] = vals[i]
		}
		if geomCol != "" {
			if blob, ok := vals[nAttr].([]byte); ok {
				g, err := DecodeGeometry(blob)
				if err != nil {
					return nil, eris.Wrapf(err, "gpkg: row %d of %s", len(layer.Features)+1, li.Name)
				}
				if g != nil {
					feat.Geometry = geo.WithSRID(g, layer.SRID)
				}
			}
		}
		layer.Features = append(layer.Features, feat)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "gpkg: iterate %s", li.Name)
	}

	zap.L().Debug("gpkg: read layer",
		zap.String("path", f.path),
		zap.String("layer", li.Name),
		zap.Int("features", len(layer.Features)),
	)
	return layer, nil
}

// epsgCode maps a file-local srs_id to an SRID the geo package knows. Rows
// naming an EPSG code or ESRI:102039 are taken by code; other rows are
// matched on their WKT definition. Writers such as ogr2ogr allocate ids of
// 100000 and above for systems they could not match by code.
func (f *File) epsgCode(ctx context.Context, srsID int) (int, error) {
	var org, def sql.NullString
	var code sql.NullInt64
	err := f.db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID,
	).Scan(&org, &code, &def)
	if errors.Is(err, sql.ErrNoRows) {
		return srsID, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "gpkg: look up srs %d", srsID)
	}
	if code.Int64 > 0 {
		if srid, err := geo.ParseSRS(fmt.Sprintf("%s:%d", strings.TrimSpace(org.String), code.Int64)); err == nil {
			return srid, nil
		}
	}
	if srid := geo.SRIDFromWKT(def.String); srid != geo.SRIDUndefined {
		return srid, nil
	}
	return srsID, nil
}

type column struct {
	name string
	decl string
	pk   bool
}

func (f *File) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := f.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: table info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var out []column
	for rows.Next() {
		var (
			cid     int
			c       column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.name, &c.decl, &notNull, &dflt, &pk); err != nil {
			return nil, eris.Wrapf(err, "gpkg: scan table info %s", table)
		}
		c.pk = pk > 0 && strings.Contains(strings.ToUpper(c.decl), "INT")
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "gpkg: iterate table info")
}

// ReadLayer opens path, reads one layer and closes the file.
func ReadLayer(ctx context.Context, path, name string) (*geo.Layer, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return f.ReadLayer(ctx, name)
}
