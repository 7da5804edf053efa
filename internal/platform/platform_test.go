package platform_test

import (
	"testing"

	"github.com/pipwright-dev/pipwright/internal/platform"
	"github.com/pipwright-dev/pipwright/internal/python"
)

func TestBuildEnvironmentRanksNativeAboveUniversal(t *testing.T) {
	pyEnv := &python.Environment{PythonVersion: "312", PlatformTag: "linux-x86_64"}

	env := platform.BuildEnvironment(pyEnv)
	if len(env.Tags) == 0 {
		t.Fatal("expected at least one ranked tag")
	}

	first := env.Tags[0]
	if first.Tag.ABI != "cp312" {
		t.Fatalf("expected the native ABI tag to rank first, got %+v", first.Tag)
	}

	last := env.Tags[len(env.Tags)-1]
	if last.Tag.Platform != "any" {
		t.Fatalf("expected the universal tag to rank last, got %+v", last.Tag)
	}

	for i := 1; i < len(env.Tags); i++ {
		if env.Tags[i].Priority >= env.Tags[i-1].Priority {
			t.Fatalf("priorities must strictly decrease: %+v then %+v", env.Tags[i-1], env.Tags[i])
		}
	}
}

func TestMatchTagFindsExactMatch(t *testing.T) {
	pyEnv := &python.Environment{PythonVersion: "312", PlatformTag: "linux-x86_64"}
	env := platform.BuildEnvironment(pyEnv)

	_, _, ok := platform.MatchTag("pkg-1.0.0-cp312-cp312-linux_x86_64.whl", env)
	if !ok {
		t.Fatal("expected the native wheel tag to match")
	}
}

func TestMatchTagRejectsUnknownPlatform(t *testing.T) {
	pyEnv := &python.Environment{PythonVersion: "312", PlatformTag: "linux-x86_64"}
	env := platform.BuildEnvironment(pyEnv)

	_, _, ok := platform.MatchTag("pkg-1.0.0-cp312-cp312-win_amd64.whl", env)
	if ok {
		t.Fatal("expected win_amd64 not to match a linux environment")
	}
}
