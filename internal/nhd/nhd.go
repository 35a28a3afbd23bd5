// Package nhd downloads and prepares the NHDPlus HR inputs of one HU4: the
// elevation raster and the burn-line, flowline and value-added-attribute
// vector layers.
package nhd

import (
	"context"
	"errors"
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
	"github.com/sells-group/fim-prep/internal/model"
	"github.com/sells-group/fim-prep/internal/vector"
)

const (
	// RasterDirPrefix prefixes each per-HU4 raster directory.
	RasterDirPrefix = "HRNHDPlusRasters"
	// ElevationMember is the only raster kept from the archive.
	ElevationMember = "elev_cm.tif"

	BurnLineLayer = "NHDPlusBurnLineEvent"
	FlowlineLayer = "NHDFlowline"
	VAALayer      = "NHDPlusFlowLineVAA"
)

// VectorLayers lists the layers pulled from each HU4 geodatabase.
var VectorLayers = []string{BurnLineLayer, FlowlineLayer, VAALayer}

// reprojected reports whether a layer is moved to the target SRS. The VAA
// table has no geometry.
func reprojected(layer string) bool { return layer != VAALayer }

// RasterArchiveName returns the raster archive file name for a HU4.
func RasterArchiveName(huc model.HUC) string {
	return fmt.Sprintf("NHDPLUS_H_%s_HU4_RASTER.7z", huc)
}

// VectorArchiveName returns the vector archive file name for a HU4.
func VectorArchiveName(huc model.HUC) string {
	return fmt.Sprintf("NHDPLUS_H_%s_HU4_GDB.zip", huc)
}

// RasterDir returns the per-HU4 raster directory.
func RasterDir(rastersDir string, huc model.HUC) string {
	return filepath.Join(rastersDir, RasterDirPrefix+huc.String())
}

// ElevationPath returns the elevation raster path of a HU4.
func ElevationPath(rastersDir string, huc model.HUC) string {
	return filepath.Join(RasterDir(rastersDir, huc), ElevationMember)
}

// VectorDir returns the per-HU4 vector directory.
func VectorDir(vectorsDir string, huc model.HUC) string {
	return filepath.Join(vectorsDir, huc.String())
}

// LayerFileName returns the output container name of a layer, which is also
// the layer name inside it, e.g. NHDFlowline1209.
func LayerFileName(layer string, huc model.HUC) string { return layer + huc.String() }

// VectorPath returns the output container of one layer of a HU4.
func VectorPath(vectorsDir string, huc model.HUC, layer string) string {
	return filepath.Join(VectorDir(vectorsDir, huc), LayerFileName(layer, huc)+".gpkg")
}

// Options controls re-execution of the two pipelines.
type Options struct {
	OverwriteDEM bool
	OverwriteGDB bool
}

// Outcome reports which pipelines did work.
type Outcome struct {
	RasterPrepared bool
	VectorPrepared bool
}

// Preparer runs the raster and vector pipelines of a HU4.
type Preparer struct {
	RastersDir        string
	VectorsDir        string
	RasterURLTemplate string // HU4 substituted for %s
	VectorURLTemplate string
	SRID              int

	Fetcher   fetcher.Fetcher
	Extractor archive.Extractor
	Converter vector.Converter
}

// Prepare runs the raster pipeline, then the vector pipeline. A missing
// remote archive surfaces as an error wrapping fetcher.ErrNotFound.
func (p *Preparer) Prepare(ctx context.Context, huc model.HUC, opts Options) (Outcome, error) {
	var out Outcome
	if huc.Level() != 4 {
		return out, eris.Errorf("nhd: %s is not a HU4 code", huc)
	}

	var err error
	if out.RasterPrepared, err = p.PrepareRaster(ctx, huc, opts.OverwriteDEM); err != nil {
		return out, err
	}
	if out.VectorPrepared, err = p.PrepareVector(ctx, huc, opts.OverwriteGDB); err != nil {
		return out, err
	}
	return out, nil
}

// PrepareRaster leaves elev_cm.tif as the only file in the HU4 raster
// directory. It is skipped when the raster exists and overwrite is false.
func (p *Preparer) PrepareRaster(ctx context.Context, huc model.HUC, overwrite bool) (done bool, err error) {
	log := zap.L().With(zap.String("component", "nhd.raster"), zap.String("huc", huc.String()))

	dir := RasterDir(p.RastersDir, huc)
	if _, err := os.Stat(ElevationPath(p.RastersDir, huc)); err == nil && !overwrite {
		log.Debug("elevation raster exists, skipping")
		return false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, eris.Wrap(err, "nhd: create raster dir")
	}
	// An empty directory would otherwise count as a prepared HU4.
	defer func() {
		if err != nil {
			removeIfEmpty(dir)
		}
	}()

	archivePath := filepath.Join(p.RastersDir, RasterArchiveName(huc))
	if _, err := fetcher.Fetch(ctx, p.Fetcher, fmt.Sprintf(p.RasterURLTemplate, huc), archivePath); err != nil {
		return false, eris.Wrapf(err, "nhd: fetch raster for %s", huc)
	}
	if overwrite {
		_ = os.Remove(ElevationPath(p.RastersDir, huc))
	}
	if _, err := p.Extractor.ExtractMember(ctx, archivePath, ElevationMember, dir); err != nil {
		return false, eris.Wrapf(err, "nhd: extract raster for %s", huc)
	}
	if err := pruneRasterDir(dir); err != nil {
		return false, err
	}
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return false, eris.Wrap(err, "nhd: remove raster archive")
	}

	log.Info("elevation raster prepared")
	return true, nil
}

// pruneRasterDir deletes every entry whose name does not mention elev_cm.
func pruneRasterDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "nhd: list %s", dir)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "elev_cm") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return eris.Wrapf(err, "nhd: remove %s", e.Name())
		}
	}
	return nil
}

func removeIfEmpty(dir string) {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}

// VectorComplete reports whether all three output containers of a HU4 exist.
func VectorComplete(vectorsDir string, huc model.HUC) bool {
	for _, layer := range VectorLayers {
		if _, err := os.Stat(VectorPath(vectorsDir, huc, layer)); err != nil {
			return false
		}
	}
	return true
}

// PrepareVector writes the three per-layer containers of a HU4. It is
// skipped when all three exist and overwrite is false. An already extracted
// dataset is reused unless overwrite is set. The preview image and the
// archive are removed after a download whether or not the run succeeded.
func (p *Preparer) PrepareVector(ctx context.Context, huc model.HUC, overwrite bool) (bool, error) {
	log := zap.L().With(zap.String("component", "nhd.vector"), zap.String("huc", huc.String()))

	if VectorComplete(p.VectorsDir, huc) && !overwrite {
		log.Debug("vector outputs exist, skipping")
		return false, nil
	}

	dir := VectorDir(p.VectorsDir, huc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, eris.Wrap(err, "nhd: create vector dir")
	}

	source, err := p.ensureDataset(ctx, dir, huc, overwrite)
	if err != nil {
		return false, err
	}
	src, err := vector.Open(ctx, source, p.Converter, VectorLayers...)
	if err != nil {
		return false, eris.Wrapf(err, "nhd: open dataset for %s", huc)
	}
	defer src.Close() //nolint:errcheck

	for _, layer := range VectorLayers {
		if err := p.writeLayer(ctx, src, huc, layer); err != nil {
			return false, err
		}
	}

	log.Info("vector layers prepared")
	return true, nil
}

// ensureDataset returns the extracted dataset of a HU4, downloading and
// unpacking the archive only when none is on disk or overwrite is set.
func (p *Preparer) ensureDataset(ctx context.Context, dir string, huc model.HUC, overwrite bool) (string, error) {
	log := zap.L().With(zap.String("component", "nhd.vector"), zap.String("huc", huc.String()))

	if !overwrite {
		if source, err := findDataset(dir, huc); err == nil {
			log.Info("reusing extracted dataset", zap.String("path", source))
			return source, nil
		}
	}

	archivePath := filepath.Join(dir, VectorArchiveName(huc))
	defer func() {
		for _, path := range []string{strings.TrimSuffix(archivePath, ".zip") + ".jpg", archivePath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn("remove transient file", zap.String("path", path), zap.Error(err))
			}
		}
	}()

	if _, err := fetcher.Fetch(ctx, p.Fetcher, fmt.Sprintf(p.VectorURLTemplate, huc), archivePath); err != nil {
		return "", eris.Wrapf(err, "nhd: fetch vectors for %s", huc)
	}
	if err := p.Extractor.ExtractAll(ctx, archivePath, dir); err != nil {
		return "", eris.Wrapf(err, "nhd: extract vectors for %s", huc)
	}
	return findDataset(dir, huc)
}

func (p *Preparer) writeLayer(ctx context.Context, src vector.Source, huc model.HUC, layer string) error {
	l, err := src.ReadLayer(ctx, layer)
	if err != nil {
		return eris.Wrapf(err, "nhd: read %s for %s", layer, huc)
	}
	if reprojected(layer) {
		if l, err = geo.Reproject(l, p.SRID); err != nil {
			return eris.Wrapf(err, "nhd: reproject %s for %s", layer, huc)
		}
	}
	l.Name = LayerFileName(layer, huc)

	if err := gpkg.Write(ctx, VectorPath(p.VectorsDir, huc, layer), l); err != nil {
		return eris.Wrapf(err, "nhd: write %s for %s", layer, huc)
	}
	zap.L().Debug("nhd: layer written",
		zap.String("huc", huc.String()),
		zap.String("layer", layer),
		zap.Int("features", l.Len()),
	)
	return nil
}

// findDataset locates the extracted geodatabase of a HU4, falling back to a
// GeoPackage of the same stem for mirrors that publish one.
func findDataset(dir string, huc model.HUC) (string, error) {
	stem := strings.TrimSuffix(VectorArchiveName(huc), ".zip")
	for _, name := range []string{stem + ".gdb", stem + ".gpkg"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "nhd: stat %s", path)
		}
	}
	return "", eris.Errorf("nhd: no extracted dataset for %s in %s", huc, dir)
}
