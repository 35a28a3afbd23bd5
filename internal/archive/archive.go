// Package archive extracts downloaded dataset archives, either through the
// 7-Zip command line tool or in-process for plain ZIP files.
package archive

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fim-prep/internal/runner"
)

// ErrMemberNotFound is returned when a named member is absent from an archive.
var ErrMemberNotFound = eris.New("archive: member not found")

// Extractor unpacks archives into a directory.
type Extractor interface {
	// ExtractAll unpacks every entry of archivePath under destDir, keeping
	// the archive's internal paths.
	ExtractAll(ctx context.Context, archivePath, destDir string) error

	// ExtractMember finds the entry whose base name is member (at any depth)
	// and writes it directly into destDir. Returns the extracted path.
	ExtractMember(ctx context.Context, archivePath, member, destDir string) (string, error)
}

// Auto chooses an implementation per archive: ZIP files are handled
// in-process when PreferNative is set or 7-Zip is unavailable; everything
// else goes through 7-Zip.
type Auto struct {
	SevenZip     *SevenZip
	Zip          Zip
	PreferNative bool
}

// New builds the default Auto extractor.
func New(sevenZipPath string, preferNative bool, r runner.Runner) *Auto {
	return &Auto{
		SevenZip:     NewSevenZip(sevenZipPath, r),
		PreferNative: preferNative,
	}
}

func (a *Auto) pick(archivePath string) Extractor {
	if strings.EqualFold(filepath.Ext(archivePath), ".zip") &&
		(a.PreferNative || !runner.Available(a.SevenZip.Path)) {
		return a.Zip
	}
	return a.SevenZip
}

// ExtractAll implements Extractor.
func (a *Auto) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	return a.pick(archivePath).ExtractAll(ctx, archivePath, destDir)
}

// ExtractMember implements Extractor.
func (a *Auto) ExtractMember(ctx context.Context, archivePath, member, destDir string) (string, error) {
	return a.pick(archivePath).ExtractMember(ctx, archivePath, member, destDir)
}
