package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Zip extracts ZIP archives in-process.
type Zip struct{}

// ExtractAll implements Extractor.
func (Zip) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "zip: extraction cancelled")
		}
		if _, err := extractZIPEntry(f, destDir, f.Name); err != nil {
			return err
		}
	}
	return nil
}

// ExtractMember implements Extractor.
func (Zip) ExtractMember(_ context.Context, archivePath, member, destDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if path.Base(f.Name) == member {
			return extractZIPEntry(f, destDir, member)
		}
	}

	return "", eris.Wrapf(ErrMemberNotFound, "zip: %s not in %s", member, archivePath)
}

// extractZIPEntry writes f to destDir/name. Returns the extracted file path,
// or empty string for directories.
func extractZIPEntry(f *zip.File, destDir, name string) (string, error) {
	// Sanitize against zip slip
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
