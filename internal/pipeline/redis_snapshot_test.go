package pipeline_test

import (
	"context"
	"testing"

	"github.com/pipwright-dev/pipwright/internal/dist"
	"github.com/pipwright-dev/pipwright/internal/pipeline"
)

func TestRedisSnapshotDisabledIsNoOp(t *testing.T) {
	snap := pipeline.NewRedisSnapshot("")
	key := pipeline.BucketKey{Name: "widget", Version: "1.0.0"}

	if err := snap.Store(context.Background(), key, "fp", []byte("payload")); err != nil {
		t.Fatalf("Store on a disabled snapshot should be a no-op, got: %v", err)
	}

	if _, ok := snap.Load(context.Background(), key, "fp"); ok {
		t.Fatal("expected no hit from a disabled snapshot")
	}
}

func TestRedisSnapshotUnparseableURLDisables(t *testing.T) {
	snap := pipeline.NewRedisSnapshot("not a redis url")
	key := pipeline.BucketKey{Name: "widget", Version: "1.0.0"}

	if _, ok := snap.Load(context.Background(), key, "fp"); ok {
		t.Fatal("expected an unparseable url to disable the snapshot rather than panic")
	}
}

func TestTagFingerprintStableForSameTags(t *testing.T) {
	tags := []dist.RankedTag{
		{Tag: dist.Tag{Python: "cp312", ABI: "cp312", Platform: "linux_x86_64"}, Priority: 1},
		{Tag: dist.Tag{Python: "py3", ABI: "none", Platform: "any"}, Priority: 0},
	}

	a := pipeline.TagFingerprint(tags)
	b := pipeline.TagFingerprint(tags)

	if a != b {
		t.Fatalf("expected a stable fingerprint, got %q and %q", a, b)
	}

	other := pipeline.TagFingerprint(tags[:1])
	if a == other {
		t.Fatal("expected a different tag set to produce a different fingerprint")
	}
}
