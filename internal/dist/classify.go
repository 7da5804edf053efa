package dist

import "strings"

// ClassifyWheel evaluates a wheel artifact against env and produces the
// verdict the bucket will insert. Rule order follows the precedence laid
// out for the classifier: yank, then exclude-newer, then requires-python,
// then no_binary, then tag match. The first matching rule wins.
func ClassifyWheel(art Artifact, env Environment) WheelCompatibility {
	if v, ok := classifyYankedWheel(art, env); ok {
		return v
	}

	if v, ok := classifyExcludeNewerWheel(art, env); ok {
		return v
	}

	if v, ok := classifyRequiresPythonWheel(art, env); ok {
		return v
	}

	if env.NoBinary.Applies(art.Name()) {
		return IncompatibleWheelVerdict(NoBinaryWheel)
	}

	return classifyTag(art, env)
}

// ClassifySource evaluates a source distribution artifact against env.
func ClassifySource(art Artifact, env Environment) SourceCompatibility {
	if v, ok := classifyYankedSource(art, env); ok {
		return v
	}

	if v, ok := classifyExcludeNewerSource(art, env); ok {
		return v
	}

	if v, ok := classifyRequiresPythonSource(art, env); ok {
		return v
	}

	if env.NoBuild.Applies(art.Name()) {
		return IncompatibleSourceVerdict(NoBuildSource)
	}

	return CompatibleSource()
}

func classifyYankedWheel(art Artifact, env Environment) (WheelCompatibility, bool) {
	y, yanked := art.YankStatus()
	if !yanked || env.IncludeYanked {
		return WheelCompatibility{}, false
	}

	return IncompatibleWheelVerdict(NewYankedWheel(y)), true
}

func classifyYankedSource(art Artifact, env Environment) (SourceCompatibility, bool) {
	y, yanked := art.YankStatus()
	if !yanked || env.IncludeYanked {
		return SourceCompatibility{}, false
	}

	return IncompatibleSourceVerdict(NewYankedSource(y)), true
}

func classifyExcludeNewerWheel(art Artifact, env Environment) (WheelCompatibility, bool) {
	if env.ExcludeNewer == nil {
		return WheelCompatibility{}, false
	}

	uploaded, ok := art.UploadedAt()
	if !ok {
		return IncompatibleWheelVerdict(NewExcludeNewerWheel(nil)), true
	}

	if uploaded.After(*env.ExcludeNewer) {
		ts := uploaded
		return IncompatibleWheelVerdict(NewExcludeNewerWheel(&ts)), true
	}

	return WheelCompatibility{}, false
}

func classifyExcludeNewerSource(art Artifact, env Environment) (SourceCompatibility, bool) {
	if env.ExcludeNewer == nil {
		return SourceCompatibility{}, false
	}

	uploaded, ok := art.UploadedAt()
	if !ok {
		return IncompatibleSourceVerdict(NewExcludeNewerSource(nil)), true
	}

	if uploaded.After(*env.ExcludeNewer) {
		ts := uploaded
		return IncompatibleSourceVerdict(NewExcludeNewerSource(&ts)), true
	}

	return SourceCompatibility{}, false
}

func classifyRequiresPythonWheel(art Artifact, env Environment) (WheelCompatibility, bool) {
	spec, ok := art.RequiresPythonSpecifier()
	if !ok {
		return WheelCompatibility{}, false
	}

	if satisfiesPythonSpecifier(spec, env.PythonVersion) {
		return WheelCompatibility{}, false
	}

	return IncompatibleWheelVerdict(NewRequiresPythonWheel(spec)), true
}

func classifyRequiresPythonSource(art Artifact, env Environment) (SourceCompatibility, bool) {
	spec, ok := art.RequiresPythonSpecifier()
	if !ok {
		return SourceCompatibility{}, false
	}

	if satisfiesPythonSpecifier(spec, env.PythonVersion) {
		return SourceCompatibility{}, false
	}

	return IncompatibleSourceVerdict(NewRequiresPythonSource(spec)), true
}

// satisfiesPythonSpecifier is supplied by the caller's version-specifier
// evaluator in the general case; PythonSpecifierEvaluator lets callers
// outside this package plug in a PEP 440 implementation without this
// package importing one. When unset, every specifier is treated as
// satisfied, matching the classifier's stance that malformed or
// unparseable inputs are filtered upstream.
var PythonSpecifierEvaluator func(specifier, version string) bool

func satisfiesPythonSpecifier(specifier, version string) bool {
	if PythonSpecifierEvaluator == nil {
		return true
	}

	return PythonSpecifierEvaluator(specifier, version)
}

// classifyTag runs the tag-match rule for wheels: compatible at the
// maximum matching priority, or incompatible with the closest near-miss.
func classifyTag(art Artifact, env Environment) WheelCompatibility {
	tag, ok := art.WheelTag()
	if !ok {
		return IncompatibleWheelVerdict(NewTagIncompatibility(0))
	}

	bestPriority := TagPriority(-1)
	matched := false
	bestCloseness := IncompatibleTag(-1)

	for _, ranked := range env.Tags {
		closeness := tagCloseness(tag, ranked.Tag)
		if closeness == fullMatch {
			matched = true
			if ranked.Priority > bestPriority {
				bestPriority = ranked.Priority
			}

			continue
		}

		if !matched && IncompatibleTag(closeness) > bestCloseness {
			bestCloseness = IncompatibleTag(closeness)
		}
	}

	if matched {
		return CompatibleWheel(bestPriority)
	}

	if bestCloseness < 0 {
		bestCloseness = 0
	}

	return IncompatibleWheelVerdict(NewTagIncompatibility(bestCloseness))
}

// fullMatch is the closeness score tagCloseness returns for an exact match.
const fullMatch = 3

// tagCloseness scores how near a wheel's declared tag came to an accepted
// tag: one point per matching field (python, abi, platform), each field
// compared compound-wise since a wheel may declare several values joined
// by ".", e.g. "py2.py3".
func tagCloseness(wheel, accepted Tag) int {
	score := 0
	if fieldMatches(wheel.Python, accepted.Python) {
		score++
	}

	if fieldMatches(wheel.ABI, accepted.ABI) {
		score++
	}

	if fieldMatches(wheel.Platform, accepted.Platform) {
		score++
	}

	return score
}

// fieldMatches reports whether compatValue appears among wheelField's
// dot-separated compound values.
func fieldMatches(wheelField, compatValue string) bool {
	for _, w := range strings.Split(wheelField, ".") {
		if w == compatValue {
			return true
		}
	}

	return false
}
