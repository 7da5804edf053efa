package builder_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pipwright-dev/pipwright/internal/builder"
)

func TestBuildReturnsProducedWheel(t *testing.T) {
	dir := t.TempDir()

	var gotArgs []string

	b := builder.New(
		builder.WithPythonBin("python3"),
		builder.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args

			// Simulate pip wheel materializing its output file.
			return nil, os.WriteFile(filepath.Join(dir, "widget-1.0.0-py3-none-any.whl"), []byte("wheel"), 0o644)
		}),
	)

	path, err := b.Build(context.Background(), "/tmp/widget-1.0.0.tar.gz", dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if filepath.Base(path) != "widget-1.0.0-py3-none-any.whl" {
		t.Fatalf("unexpected wheel path: %s", path)
	}

	if len(gotArgs) == 0 || gotArgs[len(gotArgs)-1] != "/tmp/widget-1.0.0.tar.gz" {
		t.Fatalf("expected sdist path as final arg, got %v", gotArgs)
	}
}

func TestBuildErrorsWhenNoWheelProduced(t *testing.T) {
	dir := t.TempDir()

	b := builder.New(builder.WithCommandRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, nil
	}))

	if _, err := b.Build(context.Background(), "/tmp/widget-1.0.0.tar.gz", dir); err == nil {
		t.Fatal("expected an error when pip produces no wheel file")
	}
}
