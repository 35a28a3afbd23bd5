// Package runner executes external tools with an argument vector (never a
// shell string) and provides scratch directories that are always removed.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an external program.
type Runner interface {
	Run(ctx context.Context, program string, args ...string) (*Result, error)
}

// Exec implements Runner with os/exec.
type Exec struct {
	// Dir is the working directory; empty means the current one.
	Dir string
}

// Run executes program with args. A non-zero exit is returned as an error that
// includes the tail of stderr.
func (e Exec) Run(ctx context.Context, program string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	zap.L().Debug("runner: exec",
		zap.String("program", program),
		zap.Strings("args", args),
	)

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, eris.Wrapf(err, "runner: %s failed: %s", program, tail(res.Stderr, 512))
	}
	return res, nil
}

// Available reports whether program can be found on PATH (or at the given path).
func Available(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}

// Scope is a scratch directory tied to a unit of work. Close removes it no
// matter how the work ended.
type Scope struct {
	dir string
}

// NewScope creates a temporary directory under parent (os.TempDir when empty).
func NewScope(parent, pattern string) (*Scope, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, eris.Wrap(err, "runner: create scope parent")
		}
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, eris.Wrap(err, "runner: create scope dir")
	}
	return &Scope{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Scope) Dir() string { return s.dir }

// Close removes the scratch directory and everything in it.
func (s *Scope) Close() error {
	if s == nil || s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return eris.Wrapf(err, "runner: remove scope %s", s.dir)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
