package archive

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fim-prep/internal/runner"
)

// SevenZip extracts archives with the 7za binary.
type SevenZip struct {
	Path   string
	Runner runner.Runner
}

// NewSevenZip creates a SevenZip extractor. An empty path means "7za" and a
// nil runner means runner.Exec.
func NewSevenZip(path string, r runner.Runner) *SevenZip {
	if path == "" {
		path = "7za"
	}
	if r == nil {
		r = runner.Exec{}
	}
	return &SevenZip{Path: path, Runner: r}
}

// extractAllArgs keeps directory structure ("x").
func extractAllArgs(archivePath, destDir string) []string {
	return []string{"x", archivePath, "-o" + destDir, "-y"}
}

// extractMemberArgs flattens paths ("e") and searches recursively for member.
func extractMemberArgs(archivePath, member, destDir string) []string {
	return []string{"e", archivePath, "-o" + destDir, member, "-r", "-y"}
}

// ExtractAll implements Extractor.
func (s *SevenZip) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return eris.Wrap(err, "7za: create destination")
	}
	zap.L().Info("7za: extracting archive",
		zap.String("archive", archivePath),
		zap.String("dest", destDir),
	)
	if _, err := s.Runner.Run(ctx, s.Path, extractAllArgs(archivePath, destDir)...); err != nil {
		return eris.Wrapf(err, "7za: extract %s", archivePath)
	}
	return nil
}

// ExtractMember implements Extractor.
func (s *SevenZip) ExtractMember(ctx context.Context, archivePath, member, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "7za: create destination")
	}
	zap.L().Info("7za: extracting member",
		zap.String("archive", archivePath),
		zap.String("member", member),
		zap.String("dest", destDir),
	)
	if _, err := s.Runner.Run(ctx, s.Path, extractMemberArgs(archivePath, member, destDir)...); err != nil {
		return "", eris.Wrapf(err, "7za: extract %s from %s", member, archivePath)
	}

	// 7za exits 0 when the wildcard matched nothing.
	out := filepath.Join(destDir, member)
	if _, err := os.Stat(out); err != nil {
		return "", eris.Wrapf(ErrMemberNotFound, "7za: %s not in %s", member, archivePath)
	}
	return out, nil
}
