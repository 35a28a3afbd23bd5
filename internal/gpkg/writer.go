package gpkg

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/geo"
)

// Write creates a GeoPackage at path holding the given layers, replacing any
// existing file. The package is built at path+".tmp" and renamed into place
// so readers never observe a partial file.
func Write(ctx context.Context, path string, layers ...*geo.Layer) error {
	if len(layers) == 0 {
		return eris.Errorf("gpkg: write %s: no layers", path)
	}
	seen := make(map[string]bool, len(layers))
	for _, l := range layers {
		key := strings.ToLower(l.Name)
		if l.Name == "" || seen[key] {
			return eris.Errorf("gpkg: write %s: empty or duplicate layer name %q", path, l.Name)
		}
		seen[key] = true
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "gpkg: create dir for %s", path)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := writeFile(ctx, tmp, layers); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "gpkg: move %s into place", path)
	}

	zap.L().Debug("gpkg: wrote file", zap.String("path", path), zap.Int("layers", len(layers)))
	return nil
}

func writeFile(ctx context.Context, path string, layers []*geo.Layer) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrapf(err, "gpkg: create %s", path)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "gpkg: close %s", path)
		}
	}()
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA application_id=%d", applicationID),
		fmt.Sprintf("PRAGMA user_version=%d", userVersion),
		"PRAGMA journal_mode=OFF",
		"PRAGMA synchronous=OFF",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "gpkg: exec %s", pragma)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "gpkg: create metadata tables")
	}

	srids := map[int]bool{}
	for _, d := range requiredSRS {
		srids[d.ID] = true
		if err := insertSRS(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, l := range layers {
		if !l.HasGeometry() || srids[l.SRID] {
			continue
		}
		d, ok := lookupSRS(l.SRID)
		if !ok {
			return eris.Errorf("gpkg: layer %s: no definition for srs %d", l.Name, l.SRID)
		}
		srids[l.SRID] = true
		if err := insertSRS(ctx, tx, d); err != nil {
			return err
		}
	}

	for _, l := range layers {
		if err := writeLayer(ctx, tx, l); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "gpkg: commit")
}

func insertSRS(ctx context.Context, tx *sql.Tx, d srsDef) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.Name, d.ID, d.Organization, d.OrgCoordsys, d.Definition, d.Description,
	)
	return eris.Wrapf(err, "gpkg: insert srs %d", d.ID)
}

// zmFlags derives the z and m flags from the first non-nil geometry.
func zmFlags(l *geo.Layer) (int, int) {
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		switch f.Geometry.Layout() {
		case geom.XYZ:
			return 1, 0
		case geom.XYM:
			return 0, 1
		case geom.XYZM:
			return 1, 1
		}
		return 0, 0
	}
	return 0, 0
}

func writeLayer(ctx context.Context, tx *sql.Tx, l *geo.Layer) error {
	cols := []string{quoteIdent(fidColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"}
	if l.HasGeometry() {
		cols = append(cols, quoteIdent(geometryColumn)+" "+strings.ToUpper(l.GeometryType))
	}
	for _, f := range l.Fields {
		if strings.EqualFold(f.Name, fidColumn) || (l.HasGeometry() && strings.EqualFold(f.Name, geometryColumn)) {
			return eris.Errorf("gpkg: layer %s: field %q is reserved", l.Name, f.Name)
		}
		cols = append(cols, quoteIdent(f.Name)+" "+sqlType(f.Type))
	}
	ddl := "CREATE TABLE " + quoteIdent(l.Name) + " (" + strings.Join(cols, ", ") + ")"
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return eris.Wrapf(err, "gpkg: create table %s", l.Name)
	}

	if l.HasGeometry() {
		var minX, minY, maxX, maxY any
		if e, ok := l.Extent(); ok {
			minX, minY, maxX, maxY = e.MinX, e.MinY, e.MaxX, e.MaxY
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
			 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
			l.Name, l.Name, minX, minY, maxX, maxY, l.SRID,
		); err != nil {
			return eris.Wrapf(err, "gpkg: register %s", l.Name)
		}
		z, m := zmFlags(l)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			l.Name, geometryColumn, strings.ToUpper(l.GeometryType), l.SRID, z, m,
		); err != nil {
			return eris.Wrapf(err, "gpkg: register geometry column of %s", l.Name)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_contents (table_name, data_type, identifier) VALUES (?, 'attributes', ?)`,
			l.Name, l.Name,
		); err != nil {
			return eris.Wrapf(err, "gpkg: register %s", l.Name)
		}
	}

	insertCols := make([]string, 0, len(l.Fields)+1)
	marks := make([]string, 0, len(l.Fields)+1)
	if l.HasGeometry() {
		insertCols = append(insertCols, quoteIdent(geometryColumn))
		marks = append(marks, "?")
	}
	for _, f := range l.Fields {
		insertCols = append(insertCols, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	if len(insertCols) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+quoteIdent(l.Name)+" ("+strings.Join(insertCols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return eris.Wrapf(err, "gpkg: prepare insert into %s", l.Name)
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, len(insertCols))
	for i, feat := range l.Features {
		args = args[:0]
		if l.HasGeometry() {
			blob, err := EncodeGeometry(feat.Geometry, l.SRID)
			if err != nil {
				return eris.Wrapf(err, "gpkg: feature %d of %s", i, l.Name)
			}
			if blob == nil {
				args = append(args, nil)
			} else {
				args = append(args, blob)
			}
		}
		for _, f := range l.Fields {
			args = append(args, feat.Attrs[f.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert feature %d into %s", i, l.Name)
		}
	}
	return nil
}
