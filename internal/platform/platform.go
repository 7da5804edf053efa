// Package platform builds the dist.Environment the prioritization core
// evaluates candidates against, and matches wheel filenames against it.
// It generalizes the platform/tag expansion the CLI used to do inline.
package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pipwright-dev/pipwright/internal/dist"
	"github.com/pipwright-dev/pipwright/internal/python"
)

// Option configures the Environment BuildEnvironment produces.
type Option func(*dist.Environment)

// WithExcludeNewer sets the upload-time cutoff.
func WithExcludeNewer(cutoff time.Time) Option {
	return func(e *dist.Environment) {
		t := cutoff
		e.ExcludeNewer = &t
	}
}

// WithIncludeYanked accepts yanked artifacts instead of rejecting them.
func WithIncludeYanked(include bool) Option {
	return func(e *dist.Environment) {
		e.IncludeYanked = include
	}
}

// WithNoBinary sets the no_binary policy.
func WithNoBinary(p dist.Policy) Option {
	return func(e *dist.Environment) { e.NoBinary = p }
}

// WithNoBuild sets the no_build policy.
func WithNoBuild(p dist.Policy) Option {
	return func(e *dist.Environment) { e.NoBuild = p }
}

// BuildEnvironment constructs the dist.Environment for the active
// interpreter: the ranked wheel tags it accepts, in priority order
// (native ABI beats stable ABI beats pure-Python; specific platform beats
// manylinux variants beats "any"), plus its Python version. Ranking
// mirrors the CPython/manylinux/macOS compatibility rules pip itself
// applies when enumerating acceptable tags.
func BuildEnvironment(pyEnv *python.Environment, opts ...Option) dist.Environment {
	env := dist.Environment{
		PythonVersion: pyEnv.PythonVersion,
		Tags:          rankedTags(pyEnv),
	}

	for _, opt := range opts {
		opt(&env)
	}

	return env
}

// rankedTags enumerates every wheel tag triple the interpreter accepts,
// most-preferred first, and assigns each a dense descending priority.
func rankedTags(pyEnv *python.Environment) []dist.RankedTag {
	pyVer := pyEnv.PythonVersion
	plat := wheelPlatform(pyEnv.PlatformTag)
	cp := "cp" + pyVer
	pyMajor := "py3"

	if len(pyVer) > 0 {
		pyMajor = "py" + pyVer[:1]
	}

	var tags []dist.Tag

	platforms := expandPlatform(plat)

	for _, p := range platforms {
		tags = append(tags, dist.Tag{Python: cp, ABI: cp, Platform: p})
	}

	for _, p := range platforms {
		tags = append(tags, dist.Tag{Python: cp, ABI: "abi3", Platform: p})
	}

	for _, p := range platforms {
		tags = append(tags, dist.Tag{Python: cp, ABI: "none", Platform: p})
	}

	for _, p := range platforms {
		tags = append(tags, dist.Tag{Python: pyMajor, ABI: "none", Platform: p})
	}

	tags = append(tags,
		dist.Tag{Python: cp, ABI: "none", Platform: "any"},
		dist.Tag{Python: pyMajor, ABI: "none", Platform: "any"},
	)

	ranked := make([]dist.RankedTag, len(tags))
	for i, t := range tags {
		ranked[i] = dist.RankedTag{Tag: t, Priority: dist.TagPriority(len(tags) - i)}
	}

	return ranked
}

// expandPlatform expands a platform tag into a priority-ordered list
// including manylinux variants (Linux) and lower macOS version variants
// a wheel built for an older SDK may still declare.
func expandPlatform(platform string) []string {
	platforms := []string{platform}

	if strings.HasPrefix(platform, "linux_") {
		arch := strings.TrimPrefix(platform, "linux_")

		for _, ml := range []string{
			"manylinux_2_35", "manylinux_2_34", "manylinux_2_31",
			"manylinux_2_28", "manylinux_2_17", "manylinux2014",
		} {
			platforms = append(platforms, ml+"_"+arch)
		}
	}

	if strings.HasPrefix(platform, "macosx_") {
		parts := strings.SplitN(platform, "_", 4)
		if len(parts) == 4 {
			arch := parts[3]
			major, _ := strconv.Atoi(parts[1])

			platforms = append(platforms, fmt.Sprintf("macosx_%s_%s_universal2", parts[1], parts[2]))

			minMajor := 10
			if arch == "arm64" {
				minMajor = 11
			}

			for v := major - 1; v >= minMajor; v-- {
				minor := "0"
				if v == 10 {
					minor = "9"
				}

				platforms = append(platforms,
					fmt.Sprintf("macosx_%d_%s_%s", v, minor, arch),
					fmt.Sprintf("macosx_%d_%s_universal2", v, minor),
				)
			}
		}
	}

	return platforms
}

// wheelPlatform converts a sysconfig platform tag to wheel format, e.g.
// "macosx-14.0-arm64" -> "macosx_14_0_arm64".
func wheelPlatform(sysTag string) string {
	s := strings.ReplaceAll(sysTag, "-", "_")

	return strings.ReplaceAll(s, ".", "_")
}

// MatchTag parses a wheel filename's trailing tag triple and reports
// whether it exactly matches one of env's accepted tags, returning that
// tag's priority.
func MatchTag(filename string, env dist.Environment) (dist.Tag, dist.TagPriority, bool) {
	tag, ok := parseFilenameTag(filename)
	if !ok {
		return dist.Tag{}, 0, false
	}

	for _, ranked := range env.Tags {
		if ranked.Tag == tag {
			return tag, ranked.Priority, true
		}
	}

	return tag, 0, false
}

func parseFilenameTag(filename string) (dist.Tag, bool) {
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
