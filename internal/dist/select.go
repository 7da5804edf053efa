package dist

// compatibleDistKind discriminates the CompatibleDist sum type.
type compatibleDistKind int

const (
	distSourceOnly compatibleDistKind = iota
	distCompatibleWheel
	distIncompatibleWheelWithSource
)

// CompatibleDist is the outcome of the selection projection: which
// artifact(s) to use for dependency resolution and which to use for
// installation. Construct it via Get; there is no public constructor,
// since every instance must come from a populated Bucket.
type CompatibleDist struct {
	kind compatibleDistKind

	source Artifact
	wheel  Artifact
	prio   TagPriority
}

// Get implements the three-way selection precedence: a compatible wheel
// always wins outright; absent that, a compatible source paired with an
// incompatible wheel yields a hybrid pick (the wheel's metadata, the
// source's installation); absent that, a bare compatible source; absent
// all three, Get reports false and the bucket holds no usable pick.
func Get(b Bucket) (CompatibleDist, bool) {
	if wheel, prio, ok := b.CompatibleWheel(); ok {
		return CompatibleDist{kind: distCompatibleWheel, wheel: wheel, prio: prio}, true
	}

	source, hasSource := b.CompatibleSource()
	if hasSource {
		if wheel, _, ok := b.IncompatibleWheel(); ok {
			return CompatibleDist{kind: distIncompatibleWheelWithSource, source: source, wheel: wheel}, true
		}

		return CompatibleDist{kind: distSourceOnly, source: source}, true
	}

	return CompatibleDist{}, false
}

// ForResolution returns the artifact the resolver should read metadata
// from: the wheel in the wheel-only and hybrid cases, the source otherwise.
func (d CompatibleDist) ForResolution() Artifact {
	switch d.kind {
	case distCompatibleWheel, distIncompatibleWheelWithSource:
		return d.wheel
	default:
		return d.source
	}
}

// ForInstallation returns the artifact the installer should materialize:
// the wheel when it is directly installable, the source when a build is
// required (either because no wheel matched, or the only wheel that
// matched this platform turned out incompatible).
func (d CompatibleDist) ForInstallation() Artifact {
	switch d.kind {
	case distCompatibleWheel:
		return d.wheel
	default:
		return d.source
	}
}

// Priority returns the installable wheel's tag priority. Only meaningful
// when the dist was selected from a compatible wheel.
func (d CompatibleDist) Priority() TagPriority { return d.prio }

// IsHybrid reports whether this pick reads metadata from an incompatible
// wheel while installing from source.
func (d CompatibleDist) IsHybrid() bool { return d.kind == distIncompatibleWheelWithSource }

// incompatibleDistKind discriminates IncompatibleDist.
type incompatibleDistKind int

const (
	incompatibleDistWheel incompatibleDistKind = iota
	incompatibleDistSource
	incompatibleDistUnavailable
)

// IncompatibleDist reports why Get found nothing selectable: either the
// single most informative wheel reason, the single most informative
// source reason, or neither candidate was ever observed at all.
type IncompatibleDist struct {
	kind   incompatibleDistKind
	wheel  IncompatibleWheel
	source IncompatibleSource
}

// Unavailable reports a bucket with no candidates whatsoever: neither a
// compatible nor an incompatible artifact of either kind was ever inserted.
func Unavailable() IncompatibleDist {
	return IncompatibleDist{kind: incompatibleDistUnavailable}
}

// Explain inspects a bucket for which Get returned false and reports the
// most informative reason available, preferring the wheel's reason since
// wheels are tried first during classification in practice.
func Explain(b Bucket) IncompatibleDist {
	if _, reason, ok := b.IncompatibleWheel(); ok {
		return IncompatibleDist{kind: incompatibleDistWheel, wheel: reason}
	}

	if _, reason, ok := b.IncompatibleSource(); ok {
		return IncompatibleDist{kind: incompatibleDistSource, source: reason}
	}

	return Unavailable()
}

func (d IncompatibleDist) String() string {
	switch d.kind {
	case incompatibleDistWheel:
		return d.wheel.String()
	case incompatibleDistSource:
		return d.source.String()
	default:
		return "no distribution found for this version"
	}
}
