package dist

import "time"

// incompatibleWheelKind discriminates the IncompatibleWheel sum type.
type incompatibleWheelKind int

const (
	wheelExcludeNewer incompatibleWheelKind = iota
	wheelTag
	wheelRequiresPython
	wheelYanked
	wheelNoBinary
)

// IncompatibleWheel explains why a wheel was rejected for the active
// environment. Construct one with the matching New* function; the zero
// value is not a valid IncompatibleWheel.
type IncompatibleWheel struct {
	kind incompatibleWheelKind

	excludeNewer *time.Time // nil means "upload time unknown"
	tag          IncompatibleTag
	requiresPy   string
	yanked       Yanked
}

func NewExcludeNewerWheel(uploadedAt *time.Time) IncompatibleWheel {
	return IncompatibleWheel{kind: wheelExcludeNewer, excludeNewer: uploadedAt}
}

func NewTagIncompatibility(closest IncompatibleTag) IncompatibleWheel {
	return IncompatibleWheel{kind: wheelTag, tag: closest}
}

func NewRequiresPythonWheel(specifier string) IncompatibleWheel {
	return IncompatibleWheel{kind: wheelRequiresPython, requiresPy: specifier}
}

func NewYankedWheel(y Yanked) IncompatibleWheel {
	return IncompatibleWheel{kind: wheelYanked, yanked: y}
}

// NoBinaryWheel is the singleton reason for "no_binary forbids this wheel".
var NoBinaryWheel = IncompatibleWheel{kind: wheelNoBinary}

// IsMoreInformative reports whether self should displace other as the
// bucket's recorded incompatible wheel: self is "more informative" if a
// user would rather see self's reason than other's. The relation is not
// total; RequiresPython-vs-RequiresPython always returns false in both
// directions, per spec.
func (self IncompatibleWheel) IsMoreInformative(other IncompatibleWheel) bool {
	switch self.kind {
	case wheelExcludeNewer:
		switch other.kind {
		case wheelExcludeNewer:
			// Smaller timestamps are closer to the cutoff, hence more informative.
			// A nil (unknown upload time) is conservatively the least informative.
			switch {
			case self.excludeNewer == nil:
				return false
			case other.excludeNewer == nil:
				return true
			default:
				return self.excludeNewer.Before(*other.excludeNewer)
			}
		default:
			return true
		}
	case wheelTag:
		switch other.kind {
		case wheelExcludeNewer:
			return false
		case wheelTag:
			// A higher rank is a closer near-miss, hence more informative.
			return self.tag > other.tag
		default:
			return true
		}
	case wheelRequiresPython:
		switch other.kind {
		case wheelExcludeNewer, wheelTag:
			return false
		case wheelRequiresPython:
			// Specifier sets are not reasonably comparable; first-seen wins.
			return false
		default:
			return true
		}
	case wheelYanked:
		switch other.kind {
		case wheelNoBinary:
			return true
		case wheelYanked:
			// A reason-bearing yank is more informative than a bare one.
			return self.yanked.HasReason && !other.yanked.HasReason
		default:
			return false
		}
	case wheelNoBinary:
		return false
	default:
		return false
	}
}

// Kind exposes the discriminant for diagnostics/formatting call sites.
func (self IncompatibleWheel) Kind() string {
	switch self.kind {
	case wheelExcludeNewer:
		return "exclude-newer"
	case wheelTag:
		return "tag"
	case wheelRequiresPython:
		return "requires-python"
	case wheelYanked:
		return "yanked"
	case wheelNoBinary:
		return "no-binary"
	default:
		return "unknown"
	}
}

func (self IncompatibleWheel) String() string {
	switch self.kind {
	case wheelExcludeNewer:
		if self.excludeNewer == nil {
			return "excluded: upload time unknown"
		}

		return "excluded: uploaded " + self.excludeNewer.String() + " after the exclude-newer cutoff"
	case wheelTag:
		return "no matching wheel tag"
	case wheelRequiresPython:
		return "requires-python " + self.requiresPy + " is not satisfied"
	case wheelYanked:
		if self.yanked.HasReason {
			return "yanked: " + self.yanked.Reason
		}

		return "yanked"
	case wheelNoBinary:
		return "no-binary forbids installing a wheel for this package"
	default:
		return "incompatible"
	}
}

// incompatibleSourceKind discriminates the IncompatibleSource sum type.
type incompatibleSourceKind int

const (
	sourceExcludeNewer incompatibleSourceKind = iota
	sourceRequiresPython
	sourceYanked
	sourceNoBuild
)

// IncompatibleSource explains why a source distribution was rejected.
type IncompatibleSource struct {
	kind incompatibleSourceKind

	excludeNewer *time.Time
	requiresPy   string
	yanked       Yanked
}

func NewExcludeNewerSource(uploadedAt *time.Time) IncompatibleSource {
	return IncompatibleSource{kind: sourceExcludeNewer, excludeNewer: uploadedAt}
}

func NewRequiresPythonSource(specifier string) IncompatibleSource {
	return IncompatibleSource{kind: sourceRequiresPython, requiresPy: specifier}
}

func NewYankedSource(y Yanked) IncompatibleSource {
	return IncompatibleSource{kind: sourceYanked, yanked: y}
}

// NoBuildSource is the singleton reason for "no_build forbids building this sdist".
var NoBuildSource = IncompatibleSource{kind: sourceNoBuild}

// IsMoreInformative mirrors IncompatibleWheel.IsMoreInformative for sources;
// sources have no Tag reason since they are not ranked against each other.
func (self IncompatibleSource) IsMoreInformative(other IncompatibleSource) bool {
	switch self.kind {
	case sourceExcludeNewer:
		switch other.kind {
		case sourceExcludeNewer:
			switch {
			case self.excludeNewer == nil:
				return false
			case other.excludeNewer == nil:
				return true
			default:
				return self.excludeNewer.Before(*other.excludeNewer)
			}
		default:
			return true
		}
	case sourceRequiresPython:
		switch other.kind {
		case sourceExcludeNewer:
			return false
		case sourceRequiresPython:
			return false
		default:
			return true
		}
	case sourceYanked:
		switch other.kind {
		case sourceNoBuild:
			return true
		case sourceYanked:
			// A reason-bearing yank is more informative than a bare one.
			return self.yanked.HasReason && !other.yanked.HasReason
		default:
			return false
		}
	case sourceNoBuild:
		return false
	default:
		return false
	}
}

func (self IncompatibleSource) Kind() string {
	switch self.kind {
	case sourceExcludeNewer:
		return "exclude-newer"
	case sourceRequiresPython:
		return "requires-python"
	case sourceYanked:
		return "yanked"
	case sourceNoBuild:
		return "no-build"
	default:
		return "unknown"
	}
}

func (self IncompatibleSource) String() string {
	switch self.kind {
	case sourceExcludeNewer:
		if self.excludeNewer == nil {
			return "excluded: upload time unknown"
		}

		return "excluded: uploaded " + self.excludeNewer.String() + " after the exclude-newer cutoff"
	case sourceRequiresPython:
		return "requires-python " + self.requiresPy + " is not satisfied"
	case sourceYanked:
		if self.yanked.HasReason {
			return "yanked: " + self.yanked.Reason
		}

		return "yanked"
	case sourceNoBuild:
		return "no-build forbids building a source distribution for this package"
	default:
		return "incompatible"
	}
}

// WheelCompatibility is the classifier's verdict for a wheel artifact.
type WheelCompatibility struct {
	compatible   bool
	priority     TagPriority
	incompatible IncompatibleWheel
}

func CompatibleWheel(priority TagPriority) WheelCompatibility {
	return WheelCompatibility{compatible: true, priority: priority}
}

func IncompatibleWheelVerdict(reason IncompatibleWheel) WheelCompatibility {
	return WheelCompatibility{compatible: false, incompatible: reason}
}

// IsCompatible reports whether the wheel may be installed as-is.
func (w WheelCompatibility) IsCompatible() bool { return w.compatible }

// Priority returns the tag priority; only meaningful when IsCompatible is true.
func (w WheelCompatibility) Priority() TagPriority { return w.priority }

// Reason returns the incompatibility; only meaningful when IsCompatible is false.
func (w WheelCompatibility) Reason() IncompatibleWheel { return w.incompatible }

// SourceCompatibility is the classifier's verdict for a source distribution.
type SourceCompatibility struct {
	compatible   bool
	incompatible IncompatibleSource
}

func CompatibleSource() SourceCompatibility {
	return SourceCompatibility{compatible: true}
}

func IncompatibleSourceVerdict(reason IncompatibleSource) SourceCompatibility {
	return SourceCompatibility{compatible: false, incompatible: reason}
}

func (s SourceCompatibility) IsCompatible() bool { return s.compatible }

func (s SourceCompatibility) Reason() IncompatibleSource { return s.incompatible }
