package dist_test

import (
	"time"

	"github.com/pipwright-dev/pipwright/internal/dist"
)

// fakeArtifact is a minimal dist.Artifact for tests; only the fields a
// given test cares about need to be set.
type fakeArtifact struct {
	name       string
	kind       dist.Kind
	yanked     dist.Yanked
	isYanked   bool
	uploadedAt time.Time
	hasUpload  bool
	requiresPy string
	hasReqPy   bool
	tag        dist.Tag
	hasTag     bool
}

func (f fakeArtifact) Name() string { return f.name }
func (f fakeArtifact) Kind() dist.Kind { return f.kind }

func (f fakeArtifact) YankStatus() (dist.Yanked, bool) {
	return f.yanked, f.isYanked
}

func (f fakeArtifact) UploadedAt() (time.Time, bool) {
	return f.uploadedAt, f.hasUpload
}

func (f fakeArtifact) RequiresPythonSpecifier() (string, bool) {
	return f.requiresPy, f.hasReqPy
}

func (f fakeArtifact) WheelTag() (dist.Tag, bool) {
	return f.tag, f.hasTag
}

func wheel(name string) fakeArtifact { return fakeArtifact{name: name, kind: dist.KindWheel} }
func source(name string) fakeArtifact { return fakeArtifact{name: name, kind: dist.KindSource} }
