// Package dist implements the distribution prioritization and selection
// core: given the set of candidate artifacts (wheels and source
// distributions) observed for one package version, it decides which
// artifact backs dependency resolution and which backs installation.
//
// The package is synchronous and holds no state of its own beyond the
// Bucket values callers construct; it performs no I/O and parses nothing.
// Concurrency, index access, and artifact downloading are the concern of
// internal/pipeline, internal/pypi, and internal/downloader respectively.
package dist

import "time"

// Kind distinguishes a wheel from a source distribution.
type Kind int

const (
	KindWheel Kind = iota
	KindSource
)

func (k Kind) String() string {
	if k == KindWheel {
		return "wheel"
	}

	return "source"
}

// Tag is a PEP 425 wheel compatibility tag triple.
type Tag struct {
	Python   string
	ABI      string
	Platform string
}

// TagPriority is a dense, totally ordered preference ranking for a matching
// wheel tag on the current platform. Higher is better.
type TagPriority int

// IncompatibleTag ranks how close a non-matching wheel tag came to
// matching. Higher is closer, i.e. more useful to report to the user.
type IncompatibleTag int

// RankedTag pairs a wheel tag the current environment accepts with the
// priority it should receive if a wheel declares it.
type RankedTag struct {
	Tag      Tag
	Priority TagPriority
}

// Yanked describes an index-level yank marker. A yank with a reason is
// strictly more informative than a bare yank.
type Yanked struct {
	Reason    string
	HasReason bool
}

// NoYank is the zero value representing "not yanked".
var NoYank = Yanked{}

// Policy captures a pip-style --no-binary/--no-build selector: off, applied
// to every package, or applied to a named subset.
type Policy struct {
	All      bool
	Packages map[string]bool
}

// Applies reports whether the policy restricts the named package.
func (p Policy) Applies(name string) bool {
	if p.All {
		return true
	}

	return p.Packages[name]
}

// PolicyOff is the zero-value policy: it restricts nothing.
var PolicyOff = Policy{}

// Environment is the immutable context the classifier evaluates artifacts
// against: the set of acceptable wheel tags (each with its priority), the
// running interpreter's version, an optional exclude-newer cutoff, whether
// yanked artifacts were explicitly requested, and the no-binary/no-build
// policy.
type Environment struct {
	Tags           []RankedTag
	PythonVersion  string
	ExcludeNewer   *time.Time
	IncludeYanked  bool
	NoBinary       Policy
	NoBuild        Policy
}

// Artifact is an opaque handle to a downloadable distribution. The core
// reads only the fields below; it never inspects artifact bytes.
type Artifact interface {
	// Name is the normalized package name, used to evaluate no_binary/no_build policy.
	Name() string
	// Kind reports whether this is a wheel or a source distribution.
	Kind() Kind
	// YankStatus reports the yank marker, if any, and whether it is set.
	YankStatus() (Yanked, bool)
	// UploadedAt reports the artifact's upload timestamp, if known.
	UploadedAt() (time.Time, bool)
	// RequiresPythonSpecifier reports the raw Requires-Python specifier string, if declared.
	RequiresPythonSpecifier() (string, bool)
	// WheelTag reports the artifact's PEP 425 tag triple. Only meaningful for wheels.
	WheelTag() (Tag, bool)
}

// Hashes is an accumulated, opaque content-digest record.
type Hashes struct {
	Algorithm string
	Digest    string
}
