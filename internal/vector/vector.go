// Package vector opens the vector formats the pipeline reads (GeoPackage,
// ESRI shapefile and FileGDB) behind one layer-oriented interface.
package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/gpkg"
	"github.com/sells-group/fim-prep/internal/runner"
)

// ErrLayerNotFound is returned when a source has no layer of the given name.
var ErrLayerNotFound = eris.New("vector: layer not found")

// ErrUnsupportedFormat is returned for paths no reader handles.
var ErrUnsupportedFormat = eris.New("vector: unsupported format")

// Source is an opened vector dataset.
type Source interface {
	Layers(ctx context.Context) ([]string, error)
	ReadLayer(ctx context.Context, name string) (*geo.Layer, error)
	Close() error
}

// Converter turns a dataset no native reader handles into a GeoPackage.
type Converter interface {
	Convert(ctx context.Context, src, dst string, layers ...string) error
}

// Open returns a Source for path. FileGDB directories need conv; their
// layers are converted into a scratch GeoPackage next to the source that is
// removed on Close. Only the named layers are converted when given.
func Open(ctx context.Context, path string, conv Converter, layers ...string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".gpkg" && !info.IsDir():
		f, err := gpkg.Open(path)
		if err != nil {
			return nil, err
		}
		return &gpkgSource{file: f}, nil
	case ext == ".shp" && !info.IsDir():
		return openShapefile(path)
	case ext == ".gdb" && info.IsDir():
		if conv == nil {
			return nil, eris.Wrapf(ErrUnsupportedFormat, "%s needs a converter", path)
		}
		return openConverted(ctx, path, conv, layers)
	}
	return nil, eris.Wrapf(ErrUnsupportedFormat, "%s", path)
}

// ReadLayer opens path, reads one layer and closes the source.
func ReadLayer(ctx context.Context, path string, conv Converter, name string) (*geo.Layer, error) {
	src, err := Open(ctx, path, conv, name)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck
	return src.ReadLayer(ctx, name)
}

type gpkgSource struct {
	file  *gpkg.File
	scope *runner.Scope
}

func (s *gpkgSource) Layers(ctx context.Context) ([]string, error) {
	infos, err := s.file.Layers(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, li := range infos {
		names[i] = li.Name
	}
	return names, nil
}

func (s *gpkgSource) ReadLayer(ctx context.Context, name string) (*geo.Layer, error) {
	l, err := s.file.ReadLayer(ctx, name)
	if errors.Is(err, gpkg.ErrLayerNotFound) {
		return nil, eris.Wrapf(ErrLayerNotFound, "%s in %s", name, s.file.Path())
	}
	return l, err
}

func (s *gpkgSource) Close() error {
	err := s.file.Close()
	if cerr := s.scope.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Project reprojects l, read from path, to srid. When geo has no transform
// for the layer's reference system and conv is set, the layer is converted
// again through conv, which reprojects on conversion, and read from there.
func Project(ctx context.Context, path string, conv Converter, l *geo.Layer, srid int) (*geo.Layer, error) {
	out, err := geo.Reproject(l, srid)
	if err == nil || conv == nil || !errors.Is(err, geo.ErrUnsupportedSRS) || l.SRID == geo.SRIDUndefined {
		return out, err
	}

	zap.L().Info("vector: reprojecting through converter",
		zap.String("src", path),
		zap.String("layer", l.Name),
		zap.Int("from", l.SRID),
		zap.Int("to", srid),
	)
	src, err := openConverted(ctx, path, conv, []string{l.Name})
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	converted, err := src.ReadLayer(ctx, l.Name)
	if err != nil {
		return nil, err
	}
	return geo.Reproject(converted, srid)
}

func openConverted(ctx context.Context, path string, conv Converter, layers []string) (Source, error) {
	scope, err := runner.NewScope(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(scope.Dir(), "converted.gpkg")

	zap.L().Debug("vector: converting dataset",
		zap.String("src", path),
		zap.Strings("layers", layers),
	)
	if err := conv.Convert(ctx, path, dst, layers...); err != nil {
		_ = scope.Close()
		return nil, eris.Wrapf(err, "vector: convert %s", path)
	}

	f, err := gpkg.Open(dst)
	if err != nil {
		_ = scope.Close()
		return nil, err
	}
	return &gpkgSource{file: f, scope: scope}, nil
}
