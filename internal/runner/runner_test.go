package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRun_CapturesOutput(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), "sh", "-c", "printf out; printf err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRun_ArgumentsAreNotShellExpanded(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "pwned")

	// A file name containing shell syntax must arrive as one literal argument.
	arg := "x; touch " + marker
	res, err := Exec{}.Run(context.Background(), "printf", "%s", arg)
	require.NoError(t, err)
	assert.Equal(t, arg, res.Stdout)
	assert.NoFileExists(t, marker)
}

func TestExecRun_NonZeroExit(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecRun_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	res, err := Exec{Dir: dir}.Run(context.Background(), "pwd")
	require.NoError(t, err)

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	assert.Equal(t, want, got)
}

func TestExecRun_MissingProgram(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestAvailable(t *testing.T) {
	assert.True(t, Available("sh"))
	assert.False(t, Available("definitely-not-a-real-binary-xyz"))
}

func TestScope_RemovedOnClose(t *testing.T) {
	parent := t.TempDir()
	s, err := NewScope(parent, "work-*")
	require.NoError(t, err)
	require.DirExists(t, s.Dir())

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir(), "nested", "deep"), 0o755))

	require.NoError(t, s.Close())
	assert.NoDirExists(t, s.Dir())
}

func TestScope_CloseNil(t *testing.T) {
	var s *Scope
	assert.NoError(t, s.Close())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc \n", 10))
	assert.Equal(t, "...cde", tail("abcde", 3))
}
