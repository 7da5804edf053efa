package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pipwright-dev/pipwright/internal/dist"
	"github.com/pipwright-dev/pipwright/internal/events"
	"github.com/pipwright-dev/pipwright/internal/pipeline"
	"github.com/pipwright-dev/pipwright/internal/pypi"
)

// Resolver defines the interface for resolving package dependencies.
type Resolver interface {
	Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error)
}

// ResolvedPackage represents a package with its resolved version and dependencies.
// Resolution and Installation come from running the prioritization core's
// selection projection over every candidate artifact observed for this
// version: Resolution is the artifact whose metadata was considered
// authoritative, Installation is the artifact that should actually be
// placed on disk. The two differ exactly in the hybrid case (a ranked but
// incompatible wheel alongside a buildable source distribution).
type ResolvedPackage struct {
	Name         string
	Version      string
	Dependencies []string
	Resolution   pypi.URL
	Installation pypi.URL
}

// Option configures a Service.
type Option func(*Service)

// WithNoDeps disables dependency resolution; only root packages are resolved.
func WithNoDeps(noDeps bool) Option {
	return func(s *Service) {
		s.noDeps = noDeps
	}
}

// WithMarkerEnv sets the environment for evaluating PEP 508 markers.
func WithMarkerEnv(env MarkerEnv) Option {
	return func(s *Service) {
		s.markerEnv = env
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEnvironment sets the environment the prioritization core classifies
// candidate artifacts against. Without this option the zero Environment
// is used, which accepts no wheel tags at all; callers resolving real
// wheels must supply one (see internal/platform.BuildEnvironment).
func WithEnvironment(env dist.Environment) Option {
	return func(s *Service) {
		s.env = env
	}
}

// WithEventBus sets the bus resolution events are published to.
// Defaults to a disabled bus, so telemetry is opt-in.
func WithEventBus(b *events.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.events = b
		}
	}
}

// WithRedisSnapshot sets the snapshot cache consulted before reclassifying
// a (name, version) pair against the current environment. Defaults to a
// disabled snapshot, so a second resolver process sees identical behavior
// unless it is explicitly pointed at the same Redis instance.
func WithRedisSnapshot(snap *pipeline.RedisSnapshot) Option {
	return func(s *Service) {
		if snap != nil {
			s.snapshot = snap
		}
	}
}

// Service resolves package dependencies using a simple BFS iterative approach.
type Service struct {
	client    pypi.Client
	noDeps    bool
	markerEnv MarkerEnv
	env       dist.Environment
	logger    *slog.Logger
	events    *events.Bus
	snapshot  *pipeline.RedisSnapshot
}

// compile-time proof that Service implements Resolver.
var _ Resolver = (*Service)(nil)

// init installs the PEP 440 evaluator behind the dist classifier's
// Requires-Python rule. dist.Environment carries the compact interpreter
// version ("312"), which is expanded to "3.12" before matching; a
// specifier or version that does not parse counts as satisfied.
func init() {
	dist.PythonSpecifierEvaluator = func(specifier, version string) bool {
		ok, err := MatchesAll(FormatPythonVersion(version), []string{specifier})

		return err != nil || ok
	}
}

// New creates a new dependency resolver with the given PyPI client.
func New(client pypi.Client, opts ...Option) *Service {
	s := &Service{
		client:   client,
		logger:   slog.Default(),
		events:   events.New(""),
		snapshot: pipeline.NewRedisSnapshot(""),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// cachedSelection is the payload persisted in the snapshot cache: just
// enough to reconstruct a ResolvedPackage's Resolution/Installation
// fields without rerunning classification against the bucket.
type cachedSelection struct {
	Resolution   pypi.URL `json:"resolution"`
	Installation pypi.URL `json:"installation"`
}

// Resolve resolves all dependencies for the given package requirements.
// It walks the dependency tree using BFS, finds compatible versions,
// and returns the full list of packages to install.
func (s *Service) Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error) {
	// Parse root requirements into the BFS queue.
	var queue []Requirement
	for _, r := range requirements {
		queue = append(queue, ParseRequirement(r))
	}

	resolved := make(map[string]*ResolvedPackage)  // name → resolved info
	constraints := make(map[string][]string)        // name → accumulated specifiers
	processing := make(map[string]bool)             // names we've already fetched deps for

	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		name := req.Name

		// Accumulate constraint.
		if req.Specifier != "" {
			constraints[name] = append(constraints[name], req.Specifier)
		}

		// If already resolved, verify the resolved version still satisfies all constraints.
		if pkg, ok := resolved[name]; ok {
			ok, err := MatchesAll(pkg.Version, constraints[name])
			if err != nil {
				return nil, fmt.Errorf("checking constraints for %s: %w", name, err)
			}

			if !ok {
				return nil, fmt.Errorf("version conflict for %s: %s does not satisfy %v",
					name, pkg.Version, constraints[name])
			}

			continue
		}

		// Skip if we've already fetched and queued deps for this package.
		if processing[name] {
			continue
		}

		processing[name] = true

		s.logger.Debug("resolving package", slog.String("name", name))

		// Fetch package info from PyPI.
		info, err := s.client.GetPackage(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("fetching %s from PyPI: %w", name, err)
		}

		// Collect available versions from releases.
		versions := availableVersions(info)

		// Find the highest version matching all constraints.
		best, err := FindBestVersion(versions, constraints[name])
		if err != nil {
			return nil, fmt.Errorf("finding best version for %s: %w", name, err)
		}

		if best == "" {
			return nil, fmt.Errorf("no compatible version found for %s matching %v", name, constraints[name])
		}

		s.logger.Debug("resolved version",
			slog.String("name", name),
			slog.String("version", best),
		)

		// Get requires_dist and the candidate artifact list for the resolved version.
		var (
			deps []string
			urls []pypi.URL
		)

		if releaseURLs, ok := info.Releases[best]; ok {
			urls = releaseURLs
		}

		if best == info.Info.Version {
			deps = info.Info.RequiresDist

			if urls == nil {
				urls = info.URLs
			}
		} else {
			versionInfo, err := s.client.GetPackageVersion(ctx, name, best)
			if err != nil {
				return nil, fmt.Errorf("fetching %s version %s: %w", name, best, err)
			}

			deps = versionInfo.Info.RequiresDist

			if urls == nil {
				urls = versionInfo.URLs
			}
		}

		tagFingerprint := pipeline.TagFingerprint(s.env.Tags)
		snapKey := pipeline.BucketKey{Name: name, Version: best}

		pkg := &ResolvedPackage{
			Name:         name,
			Version:      best,
			Dependencies: filterDepNames(deps, s.markerEnv),
		}

		cached, snapshotHit := s.snapshot.Load(ctx, snapKey, tagFingerprint)

		var selection cachedSelection
		if snapshotHit {
			snapshotHit = json.Unmarshal(cached, &selection) == nil
		}

		if snapshotHit {
			s.logger.Debug("snapshot hit, skipping reclassification",
				slog.String("name", name), slog.String("version", best))

			pkg.Resolution = selection.Resolution
			pkg.Installation = selection.Installation
		} else {
			bucket := buildBucket(name, urls, s.env)

			pick, ok := dist.Get(bucket)
			if !ok {
				return nil, fmt.Errorf("no usable distribution for %s %s: %s", name, best, dist.Explain(bucket))
			}

			_ = s.events.Publish(ctx, events.Event{
				Kind:    "classified",
				Package: name,
				Version: best,
				Detail:  classificationDetail(pick),
			})

			if withURL, ok := pick.ForResolution().(pypi.HasSourceURL); ok {
				pkg.Resolution = withURL.SourceURL()
			}

			if withURL, ok := pick.ForInstallation().(pypi.HasSourceURL); ok {
				pkg.Installation = withURL.SourceURL()
			}

			if data, err := json.Marshal(cachedSelection{Resolution: pkg.Resolution, Installation: pkg.Installation}); err == nil {
				_ = s.snapshot.Store(ctx, snapKey, tagFingerprint, data)
			}
		}

		resolved[name] = pkg

		_ = s.events.Publish(ctx, events.Event{Kind: "resolved", Package: name, Version: best})

		// Queue dependencies unless --no-deps.
		if !s.noDeps {
			for _, dep := range deps {
				req := ParseRequirement(dep)

				if req.Marker != "" && !EvalMarker(req.Marker, s.markerEnv) {
					continue
				}

				queue = append(queue, req)
			}
		}
	}

	result := make([]ResolvedPackage, 0, len(resolved))
	for _, pkg := range resolved {
		result = append(result, *pkg)
	}

	return result, nil
}

// availableVersions extracts version strings from a PackageInfo's releases.
// Falls back to info.Version if no releases are present.
func availableVersions(info *pypi.PackageInfo) []string {
	if len(info.Releases) > 0 {
		versions := make([]string, 0, len(info.Releases))

		for v, files := range info.Releases {
			if len(files) > 0 {
				versions = append(versions, v)
			}
		}

		return versions
	}

	// Fallback: only the latest version is known.
	if info.Info.Version != "" {
		return []string{info.Info.Version}
	}

	return nil
}

// buildBucket classifies every candidate URL for one package version
// against env and accumulates the result into a single prioritized
// bucket, the form the selection projection consumes.
func buildBucket(name string, urls []pypi.URL, env dist.Environment) dist.Bucket {
	var bucket dist.Bucket

	for _, u := range urls {
		art := u.AsArtifact(name)

		var hashPtr *dist.Hashes

		if h, ok := u.Hash(); ok {
			hashPtr = &h
		}

		if art.Kind() == dist.KindWheel {
			bucket.InsertBuilt(art, hashPtr, dist.ClassifyWheel(art, env))
		} else {
			bucket.InsertSource(art, hashPtr, dist.ClassifySource(art, env))
		}
	}

	return bucket
}

// classificationDetail summarizes a selection outcome for telemetry.
func classificationDetail(pick dist.CompatibleDist) string {
	if pick.IsHybrid() {
		return "hybrid: incompatible wheel metadata, source install"
	}

	return "direct"
}

// filterDepNames extracts normalized dependency names from requires_dist,
// filtering by marker environment.
func filterDepNames(requiresDist []string, env MarkerEnv) []string {
	var names []string

	for _, dep := range requiresDist {
		req := ParseRequirement(dep)
		if req.Marker != "" && !EvalMarker(req.Marker, env) {
			continue
		}

		names = append(names, req.Name)
	}

	return names
}
