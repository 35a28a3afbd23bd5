// Package wbd builds the national Watershed Boundary Dataset container: the
// HU8, HU4 and HU6 layers reprojected, clipped to the modeled domain and
// written to one multi-layer GeoPackage, plus a code list per level.
package wbd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/archive"
	"github.com/sells-group/fim-prep/internal/fetcher"
	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/vector"
)

// File names inside the WBD directory.
const (
	ArchiveName   = "WBD_National_GDB.zip"
	GDBName       = "WBD_National_GDB.gdb"
	ContainerName = "WBD_National.gpkg"

	// FIMIDField holds the synthetic HU8 identifier.
	FIMIDField = "fimid"
	// FIMIDStart is the identifier of the lowest HU8 code.
	FIMIDStart = 1000
)

// Levels lists the layers in the order they are processed and written.
var Levels = []int{8, 4, 6}

// ErrDomainMissing is returned when the domain reference file is absent. It
// is raised before anything is downloaded.
var ErrDomainMissing = eris.New("wbd: domain reference file not found")

// LayerName returns the container layer for a HUC level, e.g. WBDHU8.
func LayerName(level int) string { return fmt.Sprintf("WBDHU%d", level) }

// CodeField returns the canonical code column for a level, e.g. HUC8.
func CodeField(level int) string { return fmt.Sprintf("HUC%d", level) }

// ListName returns the code list file for a level, e.g. nwm_wbd8.csv.
func ListName(level int) string { return fmt.Sprintf("nwm_wbd%d.csv", level) }

// Preparer builds the WBD container.
type Preparer struct {
	Dir         string // WBD directory
	URL         string // national archive URL
	DomainPath  string
	DomainLayer string // empty means the first layer of DomainPath
	SRID        int    // target spatial reference

	Fetcher   fetcher.Fetcher
	Extractor archive.Extractor
	Converter vector.Converter
}

// ContainerPath returns the output GeoPackage path.
func (p *Preparer) ContainerPath() string { return filepath.Join(p.Dir, ContainerName) }

// Check reports ErrDomainMissing when the domain reference is absent.
func (p *Preparer) Check() error {
	if _, err := os.Stat(p.DomainPath); err != nil {
		if os.IsNotExist(err) {
			return eris.Wrapf(ErrDomainMissing, "%s", p.DomainPath)
		}
		return eris.Wrapf(err, "wbd: stat domain %s", p.DomainPath)
	}
	return nil
}

// Prepare builds the container unless it already exists and overwrite is
// false. It reports whether the container was (re)built.
func (p *Preparer) Prepare(ctx context.Context, overwrite bool) (bool, error) {
	log := zap.L().With(zap.String("component", "wbd.prepare"))

	if err := p.Check(); err != nil {
		return false, err
	}

	container := p.ContainerPath()
	if _, err := os.Stat(container); err == nil && !overwrite {
		log.Info("container exists, skipping", zap.String("path", container))
		return false, nil
	}

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return false, eris.Wrap(err, "wbd: create dir")
	}

	source, err := p.ensureSource(ctx)
	if err != nil {
		return false, err
	}

	domain, err := p.domainIndex(ctx)
	if err != nil {
		return false, err
	}

	src, err := vector.Open(ctx, source, p.Converter, levelLayers()...)
	if err != nil {
		return false, eris.Wrap(err, "wbd: open source")
	}
	defer src.Close() //nolint:errcheck

	layers := make([]*geo.Layer, 0, len(Levels))
	for _, level := range Levels {
		if err := ctx.Err(); err != nil {
			return false, eris.Wrap(err, "wbd: cancelled")
		}
		l, err := p.prepareLevel(ctx, src, domain, level)
		if err != nil {
			return false, err
		}
		layers = append(layers, l)
	}

	if err := os.Remove(container); err != nil && !os.IsNotExist(err) {
		return false, eris.Wrap(err, "wbd: remove old container")
	}
	if err := gpkg.Write(ctx, container, layers...); err != nil {
		return false, eris.Wrap(err, "wbd: write container")
	}

	for i, level := range Levels {
		codes, err := layers[i].StringValues(CodeField(level))
		if err != nil {
			return false, err
		}
		if err := writeCodeList(filepath.Join(p.Dir, ListName(level)), codes); err != nil {
			return false, err
		}
	}

	log.Info("container built",
		zap.String("path", container),
		zap.Int("hu8", layers[0].Len()),
		zap.Int("hu4", layers[1].Len()),
		zap.Int("hu6", layers[2].Len()),
	)
	return true, nil
}

func levelLayers() []string {
	out := make([]string, len(Levels))
	for i, level := range Levels {
		out[i] = LayerName(level)
	}
	return out
}

// ensureSource downloads and unpacks the national archive when no extracted
// dataset is present, and returns the dataset path.
func (p *Preparer) ensureSource(ctx context.Context) (string, error) {
	if path, ok := findSource(p.Dir); ok {
		return path, nil
	}

	archivePath := filepath.Join(p.Dir, ArchiveName)
	if _, err := fetcher.Fetch(ctx, p.Fetcher, p.URL, archivePath); err != nil {
		return "", eris.Wrap(err, "wbd: fetch national archive")
	}
	if err := p.Extractor.ExtractAll(ctx, archivePath, p.Dir); err != nil {
		return "", eris.Wrap(err, "wbd: extract national archive")
	}

	path, ok := findSource(p.Dir)
	if !ok {
		return "", eris.Errorf("wbd: no dataset found in %s after extraction", p.Dir)
	}
	return path, nil
}

// findSource prefers the national FileGDB, then any other .gdb directory,
// then any GeoPackage that is not the output container.
func findSource(dir string) (string, bool) {
	if info, err := os.Stat(filepath.Join(dir, GDBName)); err == nil && info.IsDir() {
		return filepath.Join(dir, GDBName), true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var gpkgPath string
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case e.IsDir() && ext == ".gdb":
			return filepath.Join(dir, name), true
		case !e.IsDir() && ext == ".gpkg" && name != ContainerName && gpkgPath == "":
			gpkgPath = filepath.Join(dir, name)
		}
	}
	return gpkgPath, gpkgPath != ""
}

func (p *Preparer) domainIndex(ctx context.Context) (*geo.Index, error) {
	src, err := vector.Open(ctx, p.DomainPath, p.Converter)
	if err != nil {
		return nil, eris.Wrap(err, "wbd: open domain reference")
	}
	defer src.Close() //nolint:errcheck

	name := p.DomainLayer
	if name == "" {
		names, err := src.Layers(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, eris.Wrapf(geo.ErrEmptyDomain, "no layers in %s", p.DomainPath)
		}
		name = names[0]
	}

	domain, err := src.ReadLayer(ctx, name)
	if err != nil {
		return nil, eris.Wrap(err, "wbd: read domain reference")
	}
	if domain, err = vector.Project(ctx, p.DomainPath, p.Converter, domain, p.SRID); err != nil {
		return nil, eris.Wrap(err, "wbd: reproject domain reference")
	}
	ix, err := geo.NewIndex(domain)
	if err != nil {
		return nil, eris.Wrapf(err, "wbd: domain %s", p.DomainPath)
	}
	return ix, nil
}

func (p *Preparer) prepareLevel(ctx context.Context, src vector.Source, domain *geo.Index, level int) (*geo.Layer, error) {
	log := zap.L().With(zap.String("component", "wbd.level"), zap.String("layer", LayerName(level)))

	l, err := src.ReadLayer(ctx, LayerName(level))
	if err != nil {
		return nil, eris.Wrapf(err, "wbd: read %s", LayerName(level))
	}
	code := CodeField(level)
	if err := l.RenameField(code, code); err != nil {
		return nil, err
	}
	if err := l.SortByField(code); err != nil {
		return nil, err
	}
	if level == 8 {
		if err := AssignFIMIDs(l); err != nil {
			return nil, err
		}
	}

	total := l.Len()
	if l, err = geo.Reproject(l, p.SRID); err != nil {
		return nil, err
	}
	l = geo.SubsetWithIndex(l, domain)
	dropped := geo.RepairLayer(l)
	l.Name = LayerName(level)

	log.Info("layer prepared",
		zap.Int("read", total),
		zap.Int("in_domain", l.Len()),
		zap.Int("degenerate", dropped),
	)
	return l, nil
}

// AssignFIMIDs sets fimid on every feature in current order: 1000, 1001, ...
// as zero-padded four-digit strings.
func AssignFIMIDs(l *geo.Layer) error {
	ids := make([]any, l.Len())
	for i := range ids {
		ids[i] = fmt.Sprintf("%04d", FIMIDStart+i)
	}
	return l.SetField(geo.Field{Name: FIMIDField, Type: geo.FieldText}, ids)
}

// writeCodeList writes one code per row without a header.
func writeCodeList(path string, codes []string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "wbd: create %s", path)
	}
	w := csv.NewWriter(f)
	for _, c := range codes {
		if err := w.Write([]string{c}); err != nil {
			f.Close() //nolint:errcheck
			return eris.Wrapf(err, "wbd: write %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "wbd: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "wbd: close %s", path)
	}
	return eris.Wrapf(os.Rename(tmp, path), "wbd: move %s into place", path)
}
