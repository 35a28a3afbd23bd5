package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Router dispatches to an HTTP or FTP fetcher based on the URL scheme.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter builds a Router from the two concrete fetchers.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	return &Router{
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

func (r *Router) pick(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return r.HTTP, nil
	case "ftp":
		return r.FTP, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, rawURL)
}

// DownloadToFile implements Fetcher.
func (r *Router) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	f, err := r.pick(rawURL)
	if err != nil {
		return 0, err
	}
	return f.DownloadToFile(ctx, rawURL, path)
}

// Fetch downloads rawURL to dest unless dest already exists with content.
// The body is written to dest+".part" and renamed into place, so an
// interrupted transfer never satisfies a later existence check. It reports
// whether a download happened.
func Fetch(ctx context.Context, f Fetcher, rawURL, dest string) (bool, error) {
	log := zap.L().With(
		zap.String("component", "fetcher.fetch"),
		zap.String("url", rawURL),
		zap.String("dest", dest),
	)

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.Debug("destination exists, skipping download")
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, eris.Wrap(err, "fetcher: create destination dir")
	}

	part := dest + ".part"
	log.Info("downloading")
	n, err := f.DownloadToFile(ctx, rawURL, part)
	if err != nil {
		_ = os.Remove(part)
		return false, eris.Wrapf(err, "fetcher: fetch %s", rawURL)
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return false, eris.Wrap(err, "fetcher: move download into place")
	}

	log.Info("download complete", zap.Int64("bytes", n))
	return true, nil
}
