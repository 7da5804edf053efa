package pypi

import (
	"strings"
	"time"

	"github.com/pipwright-dev/pipwright/internal/dist"
)

// AsArtifact adapts a release URL into the dist.Artifact the prioritization
// core consumes. name is the normalized package name the no_binary/no_build
// policy keys on.
func (u URL) AsArtifact(name string) dist.Artifact {
	return artifact{url: u, name: name}
}

type artifact struct {
	url  URL
	name string
}

func (a artifact) Name() string { return a.name }

func (a artifact) Kind() dist.Kind {
	if a.url.PackageType == "bdist_wheel" {
		return dist.KindWheel
	}

	return dist.KindSource
}

func (a artifact) YankStatus() (dist.Yanked, bool) {
	if !a.url.Yanked {
		return dist.NoYank, false
	}

	if a.url.YankedReason == "" {
		return dist.Yanked{}, true
	}

	return dist.Yanked{Reason: a.url.YankedReason, HasReason: true}, true
}

func (a artifact) UploadedAt() (time.Time, bool) {
	if a.url.UploadTimeISO == "" {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339, a.url.UploadTimeISO)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

func (a artifact) RequiresPythonSpecifier() (string, bool) {
	if a.url.RequiresPython == "" {
		return "", false
	}

	return a.url.RequiresPython, true
}

func (a artifact) WheelTag() (dist.Tag, bool) {
	if a.Kind() != dist.KindWheel {
		return dist.Tag{}, false
	}

	return parseWheelTag(a.url.Filename)
}

// parseWheelTag extracts the trailing python-abi-platform triple from a
// wheel filename of the form {name}-{version}[-{build}]-{python}-{abi}-{platform}.whl.
func parseWheelTag(filename string) (dist.Tag, bool) {
	filename = strings.TrimSuffix(filename, ".whl")

	parts := strings.Split(filename, "-")
	if len(parts) < 5 {
		return dist.Tag{}, false
	}

	return dist.Tag{
		Python:   parts[len(parts)-3],
		ABI:      parts[len(parts)-2],
		Platform: parts[len(parts)-1],
	}, true
}

// Filename exposes the backing filename for callers (downloader, cache)
// that need it directly rather than through the dist.Artifact interface.
func (a artifact) Filename() string { return a.url.Filename }

// SourceURL returns the underlying pypi.URL an artifact was built from.
func (a artifact) SourceURL() URL { return a.url }

// HasSourceURL is implemented by every dist.Artifact this package hands
// out; callers holding a dist.Artifact (e.g. the pick a CompatibleDist
// projection returns) type-assert to this to recover the pypi.URL to
// download.
type HasSourceURL interface {
	SourceURL() URL
}

// Hash returns the strongest available content digest for a release URL,
// preferring sha256 over blake2b_256 over md5, the same order the
// downloader's preferredHash ranks digests in.
func (u URL) Hash() (dist.Hashes, bool) {
	switch {
	case u.Digests.SHA256 != "":
		return dist.Hashes{Algorithm: "sha256", Digest: u.Digests.SHA256}, true
	case u.Digests.Blake2b256 != "":
		return dist.Hashes{Algorithm: "blake2b_256", Digest: u.Digests.Blake2b256}, true
	case u.Digests.MD5 != "":
		return dist.Hashes{Algorithm: "md5", Digest: u.Digests.MD5}, true
	default:
		return dist.Hashes{}, false
	}
}
