// Package huclist derives the HU4, HU6 and HU8 codes that have prepared
// inputs on disk and writes them as list files.
package huclist

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/model"
	"github.com/sells-group/fim-prep/internal/nhd"
	"github.com/sells-group/fim-prep/internal/wbd"
)

// ListName returns the list file name for a level, e.g. included_huc8.lst.
func ListName(level int) string {
	return "included_huc" + string(rune('0'+level)) + ".lst"
}

// Lists holds the derived codes, each sorted ascending.
type Lists struct {
	HU4 []model.HUC
	HU6 []model.HUC
	HU8 []model.HUC
}

// Builder computes and writes the lists.
type Builder struct {
	RastersDir string
	VectorsDir string
	WBDPath    string // the WBD container
	OutDir     string
}

// Build derives the lists from the data tree and writes them to OutDir.
func (b *Builder) Build(ctx context.Context) (*Lists, error) {
	log := zap.L().With(zap.String("component", "huclist.build"))

	if _, err := os.Stat(b.WBDPath); err != nil {
		return nil, eris.Wrapf(err, "huclist: wbd container %s", b.WBDPath)
	}

	hu4, err := RasterHU4s(b.RastersDir)
	if err != nil {
		return nil, err
	}
	hu8, err := b.coveredHU8s(ctx, hu4)
	if err != nil {
		return nil, err
	}
	lists := &Lists{HU4: hu4, HU6: model.UniqueHU6s(hu8), HU8: hu8}

	for level, codes := range map[int][]model.HUC{4: lists.HU4, 6: lists.HU6, 8: lists.HU8} {
		if err := WriteList(filepath.Join(b.OutDir, ListName(level)), codes); err != nil {
			return nil, err
		}
	}

	log.Info("huc lists written",
		zap.Int("hu4", len(lists.HU4)),
		zap.Int("hu6", len(lists.HU6)),
		zap.Int("hu8", len(lists.HU8)),
	)
	return lists, nil
}

// RasterHU4s returns the HU4 suffix of every raster directory, sorted. A
// missing rasters directory yields no codes.
func RasterHU4s(rastersDir string) ([]model.HUC, error) {
	entries, err := os.ReadDir(rastersDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "huclist: list %s", rastersDir)
	}
	var out []model.HUC
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, nhd.RasterDirPrefix) || len(name) < len(nhd.RasterDirPrefix)+4 {
			continue
		}
		out = append(out, model.HUC(name[len(name)-4:]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// coveredHU8s keeps each WBD HU8 whose HU4 is prepared and whose polygon
// touches at least one burn line of that HU4.
func (b *Builder) coveredHU8s(ctx context.Context, hu4 []model.HUC) ([]model.HUC, error) {
	prepared := make(map[model.HUC]bool, len(hu4))
	for _, h := range hu4 {
		prepared[h] = true
	}

	units, err := gpkg.ReadLayer(ctx, b.WBDPath, wbd.LayerName(8))
	if err != nil {
		return nil, eris.Wrap(err, "huclist: read hu8 layer")
	}
	codeField := wbd.CodeField(8)
	if units.FieldIndex(codeField) < 0 {
		return nil, eris.Errorf("huclist: %s has no %s column", wbd.LayerName(8), codeField)
	}

	cache := &burnLines{dir: b.VectorsDir, srid: units.SRID, indexes: map[model.HUC]*geo.Index{}}
	var out []model.HUC
	for i, f := range units.Features {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "huclist: cancelled")
			}
		}
		code := model.HUC(f.String(codeField))
		if code.Level() < 4 || !prepared[code.HU4()] || f.Geometry == nil {
			continue
		}
		ix, err := cache.get(ctx, code.HU4())
		if err != nil {
			return nil, err
		}
		if ix != nil && ix.AnyIntersects(f.Geometry) {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// burnLines caches one spatial index per HU4 for the duration of a build.
// A nil index means the HU4 has no burn lines on disk.
type burnLines struct {
	dir     string
	srid    int
	indexes map[model.HUC]*geo.Index
}

func (c *burnLines) get(ctx context.Context, hu4 model.HUC) (*geo.Index, error) {
	if ix, ok := c.indexes[hu4]; ok {
		return ix, nil
	}
	ix, err := c.load(ctx, hu4)
	if err != nil {
		return nil, err
	}
	c.indexes[hu4] = ix
	return ix, nil
}

func (c *burnLines) load(ctx context.Context, hu4 model.HUC) (*geo.Index, error) {
	path := nhd.VectorPath(c.dir, hu4, nhd.BurnLineLayer)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	l, err := gpkg.ReadLayer(ctx, path, nhd.LayerFileName(nhd.BurnLineLayer, hu4))
	if err != nil {
		return nil, eris.Wrapf(err, "huclist: read burn lines of %s", hu4)
	}
	if l.SRID != c.srid {
		if l, err = geo.Reproject(l, c.srid); err != nil {
			return nil, err
		}
	}
	ix, err := geo.NewIndex(l)
	if errors.Is(err, geo.ErrEmptyDomain) {
		return nil, nil
	}
	return ix, err
}

// WriteList writes one code per line, replacing path atomically.
func WriteList(path string, codes []model.HUC) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "huclist: create dir for %s", path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "huclist: create %s", path)
	}
	w := bufio.NewWriter(f)
	for _, c := range codes {
		_, _ = w.WriteString(c.String())
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close() //nolint:errcheck
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "huclist: write %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "huclist: close %s", path)
	}
	return eris.Wrapf(os.Rename(tmp, path), "huclist: move %s into place", path)
}

// ReadList reads a list file written by WriteList, skipping blank lines.
func ReadList(path string) ([]model.HUC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "huclist: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var out []model.HUC
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, model.HUC(line))
		}
	}
	return out, eris.Wrapf(sc.Err(), "huclist: read %s", path)
}
