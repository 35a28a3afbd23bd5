package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fim-prep/internal/archive"
	"github.com/sells-group/fim-prep/internal/config"
	"github.com/sells-group/fim-prep/internal/fetcher"
	"github.com/sells-group/fim-prep/internal/geo"
	"github.com/sells-group/fim-prep/internal/huclist"
	"github.com/sells-group/fim-prep/internal/nhd"
	"github.com/sells-group/fim-prep/internal/prep"
	"github.com/sells-group/fim-prep/internal/runner"
	"github.com/sells-group/fim-prep/internal/vector"
	"github.com/sells-group/fim-prep/internal/wbd"
)

// toolset holds the shared collaborators every data command wires from cfg.
type toolset struct {
	srid      int
	fetcher   fetcher.Fetcher
	extractor archive.Extractor
	converter vector.Converter
}

func buildTools(c *config.Config) (*toolset, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	srid, err := geo.ParseSRS(c.Projection)
	if err != nil {
		return nil, eris.Wrap(err, "projection")
	}
	timeout := time.Duration(c.Fetch.TimeoutSecs) * time.Second
	exec := runner.Exec{}
	ogr := vector.NewOGR(c.Tools.OGR2OGRPath, exec)
	ogr.TargetSRS = c.Projection
	ogr.MakeValid = c.Tools.OGRMakeValid
	return &toolset{
		srid: srid,
		fetcher: fetcher.NewRouter(
			fetcher.HTTPOptions{
				UserAgent:  c.Fetch.UserAgent,
				Timeout:    timeout,
				MaxRetries: c.Fetch.MaxRetries,
			},
			fetcher.FTPOptions{Timeout: timeout},
		),
		extractor: archive.New(c.Tools.SevenZipPath, c.Tools.NativeZip, exec),
		converter: ogr,
	}, nil
}

func newNHDPreparer(c *config.Config, t *toolset) *nhd.Preparer {
	return &nhd.Preparer{
		RastersDir:        c.RastersDir(),
		VectorsDir:        c.VectorsDir(),
		RasterURLTemplate: c.Sources.NHDRasterURLTemplate,
		VectorURLTemplate: c.Sources.NHDVectorURLTemplate,
		SRID:              t.srid,
		Fetcher:           t.fetcher,
		Extractor:         t.extractor,
		Converter:         t.converter,
	}
}

func newWBDPreparer(c *config.Config, t *toolset) *wbd.Preparer {
	return &wbd.Preparer{
		Dir:         c.WBDDir(),
		URL:         c.Sources.WBDNationalURL,
		DomainPath:  c.DomainPath(),
		DomainLayer: c.Domain.Layer,
		SRID:        t.srid,
		Fetcher:     t.fetcher,
		Extractor:   t.extractor,
		Converter:   t.converter,
	}
}

func newListBuilder(c *config.Config, w *wbd.Preparer) *huclist.Builder {
	return &huclist.Builder{
		RastersDir: c.RastersDir(),
		VectorsDir: c.VectorsDir(),
		WBDPath:    w.ContainerPath(),
		OutDir:     c.HUCListsDir(),
	}
}

func newHydrofabric(c *config.Config, t *toolset, source string) *prep.Hydrofabric {
	return &prep.Hydrofabric{
		Source:    source,
		OutDir:    c.HydrofabricDir(),
		Layers:    c.Hydrofabric.Layers,
		SRID:      t.srid,
		Workers:   c.Workers,
		Converter: t.converter,
	}
}
