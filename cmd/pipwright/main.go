package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pipwright-dev/pipwright/internal/builder"
	"github.com/pipwright-dev/pipwright/internal/cache"
	"github.com/pipwright-dev/pipwright/internal/dist"
	"github.com/pipwright-dev/pipwright/internal/downloader"
	"github.com/pipwright-dev/pipwright/internal/events"
	"github.com/pipwright-dev/pipwright/internal/installer"
	"github.com/pipwright-dev/pipwright/internal/pipeline"
	"github.com/pipwright-dev/pipwright/internal/platform"
	"github.com/pipwright-dev/pipwright/internal/pypi"
	"github.com/pipwright-dev/pipwright/internal/python"
	"github.com/pipwright-dev/pipwright/internal/resolver"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pipwright",
		Short:         "A fast Python package installer",
		Long:          "pipwright is a drop-in replacement for pip install that downloads packages concurrently.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install Python packages",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runInstall,
	}
	addSharedFlags(installCmd)
	installCmd.Flags().Bool("dry-run", false, "Show the plan without downloading or installing")

	resolveCmd := &cobra.Command{
		Use:   "resolve [packages...]",
		Short: "Resolve packages and report the selection, without downloading",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runResolve,
	}
	addSharedFlags(resolveCmd)

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local wheel cache",
	}

	cacheClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached wheels",
		RunE:  runCacheClear,
	}

	cacheStatCmd := &cobra.Command{
		Use:   "stat",
		Short: "Report cache directory usage",
		RunE:  runCacheStat,
	}

	cacheCmd.AddCommand(cacheClearCmd, cacheStatCmd)

	rootCmd.AddCommand(installCmd, resolveCmd, cacheCmd)

	return rootCmd.Execute()
}

// addSharedFlags registers the flag set install and resolve have in common.
func addSharedFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("requirements", "r", "", "Install from requirements file")
	cmd.Flags().IntP("jobs", "j", 0, "Max concurrent downloads (default: GOMAXPROCS)")
	cmd.Flags().String("python", "python3", "Python binary to use")
	cmd.Flags().String("target", "", "Target directory (default: auto-detect site-packages)")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	cmd.Flags().Bool("no-deps", false, "Skip dependencies, install only specified packages")

	cmd.Flags().String("index-url", "", "Base URL of the package index (default: PyPI)")
	cmd.Flags().StringArray("extra-index-url", nil, "Additional index URLs to consult")
	cmd.Flags().String("exclude-newer", "", "Exclude artifacts uploaded after this RFC3339 timestamp")
	cmd.Flags().String("no-binary", "", "Disallow wheels for ':all:' or a comma-separated package list")
	cmd.Flags().String("no-build", "", "Disallow source builds for ':all:' or a comma-separated package list")

	cmd.Flags().String("redis-url", "", "Redis URL for the resolver's selection snapshot cache")
	cmd.Flags().String("kafka-brokers", "", "Comma-separated Kafka brokers for resolution/install telemetry")
	cmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint for a shared wheel cache")
	cmd.Flags().String("s3-bucket", "", "Bucket name for the S3 wheel cache")
}

// sharedFlags holds CLI flags common to install and resolve.
type sharedFlags struct {
	reqFile       string
	jobs          int
	pythonBin     string
	targetDir     string
	verbose       bool
	noDeps        bool
	indexURL      string
	extraIndexURL []string
	excludeNewer  string
	noBinary      string
	noBuild       string
	redisURL      string
	kafkaBrokers  string
	s3Endpoint    string
	s3Bucket      string
}

func parseSharedFlags(cmd *cobra.Command) sharedFlags {
	f := sharedFlags{}
	f.reqFile, _ = cmd.Flags().GetString("requirements")
	f.jobs, _ = cmd.Flags().GetInt("jobs")
	f.pythonBin, _ = cmd.Flags().GetString("python")
	f.targetDir, _ = cmd.Flags().GetString("target")
	f.verbose, _ = cmd.Flags().GetBool("verbose")
	f.noDeps, _ = cmd.Flags().GetBool("no-deps")
	f.indexURL, _ = cmd.Flags().GetString("index-url")
	f.extraIndexURL, _ = cmd.Flags().GetStringArray("extra-index-url")
	f.excludeNewer, _ = cmd.Flags().GetString("exclude-newer")
	f.noBinary, _ = cmd.Flags().GetString("no-binary")
	f.noBuild, _ = cmd.Flags().GetString("no-build")
	f.redisURL, _ = cmd.Flags().GetString("redis-url")
	f.kafkaBrokers, _ = cmd.Flags().GetString("kafka-brokers")
	f.s3Endpoint, _ = cmd.Flags().GetString("s3-endpoint")
	f.s3Bucket, _ = cmd.Flags().GetString("s3-bucket")

	return f
}

// installFlags holds parsed CLI flags for the install command.
type installFlags struct {
	sharedFlags
	dryRun bool
}

func parseInstallFlags(cmd *cobra.Command) installFlags {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	return installFlags{sharedFlags: parseSharedFlags(cmd), dryRun: dryRun}
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()
	flags := parseInstallFlags(cmd)

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipwright install <pkg>' or 'pipwright install -r requirements.txt'")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, flags.pythonBin, flags.targetDir, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := newPyPIClient(httpClient, logger, flags.sharedFlags)
	bus := events.New(flags.kafkaBrokers)

	resolved, err := resolveDeps(ctx, requirements, pypiClient, env, logger, bus, flags.sharedFlags)
	if err != nil {
		return err
	}

	if flags.dryRun {
		printDryRun(resolved)

		return nil
	}

	dlManager, err := newDownloader(flags, logger)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "pipwright-downloads-*")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	requests := buildDownloadRequests(resolved)

	fmt.Printf("\nDownloading %d packages (%d workers)...\n", len(requests), effectiveWorkers(flags.jobs))

	results, err := dlManager.Download(ctx, requests)
	if err != nil {
		return fmt.Errorf("downloading packages: %w", err)
	}

	printDownloadResults(results)

	fmt.Println("\nInstalling...")

	inst := installer.New(env, installer.WithLogger(logger), installer.WithEventBus(bus))
	if err := inst.Install(ctx, results); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	fmt.Printf("  ✓ %d packages installed\n", len(results))
	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

// runResolve performs resolution and selection reporting only: no
// download, no install. Useful for inspecting what install would do.
func runResolve(cmd *cobra.Command, args []string) error {
	flags := sharedFlagsFromResolve(cmd)

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipwright resolve <pkg>' or 'pipwright resolve -r requirements.txt'")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, flags.pythonBin, flags.targetDir, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := newPyPIClient(httpClient, logger, flags)
	bus := events.New(flags.kafkaBrokers)

	resolved, err := resolveDeps(ctx, requirements, pypiClient, env, logger, bus, flags)
	if err != nil {
		return err
	}

	printDryRun(resolved)

	return nil
}

func sharedFlagsFromResolve(cmd *cobra.Command) sharedFlags {
	return parseSharedFlags(cmd)
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	logger := newLogger(false)

	c, err := cache.New(cache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	dir := cache.DefaultDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading cache directory %s: %w", dir, err)
	}

	removed := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}

		removed++
	}

	_ = c // cache.New validates/creates the directory before we enumerate it

	fmt.Printf("Removed %d cached files from %s\n", removed, dir)

	return nil
}

func runCacheStat(_ *cobra.Command, _ []string) error {
	dir := cache.DefaultDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("%s does not exist yet (cache is empty)\n", dir)

			return nil
		}

		return fmt.Errorf("reading cache directory %s: %w", dir, err)
	}

	var total int64

	count := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		total += info.Size()
		count++
	}

	fmt.Printf("%s: %d files, %s\n", dir, count, humanize.Bytes(uint64(total)))

	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func detectEnv(ctx context.Context, pythonBin, targetDir string, logger *slog.Logger) (*python.Environment, error) {
	pyDetector := python.New(python.WithPythonBin(pythonBin))

	env, err := pyDetector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting Python environment: %w", err)
	}

	if targetDir != "" {
		absTarget, err := filepath.Abs(targetDir)
		if err != nil {
			return nil, fmt.Errorf("resolving target directory: %w", err)
		}

		env.SitePackages = absTarget
	}

	logger.Debug("detected Python environment",
		slog.String("prefix", env.Prefix),
		slog.String("site-packages", env.SitePackages),
		slog.String("platform", env.PlatformTag),
		slog.String("version", env.PythonVersion),
		slog.Bool("venv", env.IsVirtualEnv),
	)

	return env, nil
}

func newPyPIClient(httpClient *http.Client, logger *slog.Logger, flags sharedFlags) pypi.Client {
	opts := []pypi.Option{pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger)}

	if flags.indexURL != "" {
		opts = append(opts, pypi.WithBaseURL(flags.indexURL))
	}

	if len(flags.extraIndexURL) > 0 {
		opts = append(opts, pypi.WithExtraIndexURLs(flags.extraIndexURL))
	}

	return pypi.New(opts...)
}

// buildDistEnvironment turns the detected interpreter plus --exclude-newer/
// --no-binary/--no-build into the dist.Environment the resolver classifies
// candidates against.
func buildDistEnvironment(env *python.Environment, flags sharedFlags) (dist.Environment, error) {
	var opts []platform.Option

	if flags.excludeNewer != "" {
		cutoff, err := time.Parse(time.RFC3339, flags.excludeNewer)
		if err != nil {
			return dist.Environment{}, fmt.Errorf("parsing --exclude-newer: %w", err)
		}

		opts = append(opts, platform.WithExcludeNewer(cutoff))
	}

	if flags.noBinary != "" {
		opts = append(opts, platform.WithNoBinary(parsePolicy(flags.noBinary)))
	}

	if flags.noBuild != "" {
		opts = append(opts, platform.WithNoBuild(parsePolicy(flags.noBuild)))
	}

	return platform.BuildEnvironment(env, opts...), nil
}

// parsePolicy parses a pip-style --no-binary/--no-build value: ":all:"
// applies to every package, otherwise a comma-separated package list.
func parsePolicy(value string) dist.Policy {
	if value == ":all:" {
		return dist.Policy{All: true}
	}

	packages := make(map[string]bool)
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			packages[resolver.NormalizeName(name)] = true
		}
	}

	return dist.Policy{Packages: packages}
}

func resolveDeps(
	ctx context.Context,
	requirements []string,
	pypiClient pypi.Client,
	env *python.Environment,
	logger *slog.Logger,
	bus *events.Bus,
	flags sharedFlags,
) ([]resolver.ResolvedPackage, error) {
	fmt.Println("Resolving dependencies...")

	markerEnv := buildMarkerEnv(env)

	distEnv, err := buildDistEnvironment(env, flags)
	if err != nil {
		return nil, err
	}

	resolverSvc := resolver.New(pypiClient,
		resolver.WithNoDeps(flags.noDeps),
		resolver.WithMarkerEnv(markerEnv),
		resolver.WithLogger(logger),
		resolver.WithEnvironment(distEnv),
		resolver.WithEventBus(bus),
		resolver.WithRedisSnapshot(pipeline.NewRedisSnapshot(flags.redisURL)),
	)

	resolved, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	resolvedMap := make(map[string]resolver.ResolvedPackage, len(resolved))
	for _, pkg := range resolved {
		resolvedMap[pkg.Name] = pkg
	}

	rootNames := make([]string, 0, len(requirements))
	for _, r := range requirements {
		rootNames = append(rootNames, resolver.NormalizeName(resolver.ParseRequirement(r).Name))
	}

	printDependencyTree(rootNames, resolvedMap)

	return resolved, nil
}

func printDryRun(resolved []resolver.ResolvedPackage) {
	fmt.Printf("\nWould install %d packages:\n", len(resolved))

	for _, pkg := range resolved {
		kind := "wheel"
		if pkg.Installation.PackageType != "bdist_wheel" {
			kind = "source (build required)"
		}

		hybrid := ""
		if pkg.Resolution.Filename != pkg.Installation.Filename {
			hybrid = " (hybrid: resolved metadata from a different artifact)"
		}

		fmt.Printf("  %s %s — %s, %s%s\n", pkg.Name, pkg.Version, kind, humanize.Bytes(uint64(pkg.Installation.Size)), hybrid)
	}

	fmt.Println("\nDry run, no changes made.")
}

func printDownloadResults(results []downloader.Result) {
	for _, r := range results {
		suffix := ""
		if r.Cached {
			suffix = " (cached)"
		}

		fmt.Printf("  ✓ %s (%s)%s\n", filepath.Base(r.FilePath), humanize.Bytes(uint64(r.Size)), suffix)
	}
}

// buildDownloadRequests converts resolved packages directly into download
// requests from each package's selected installation artifact — the
// prioritization core has already decided which artifact to fetch and
// which digest to trust, so no separate wheel-matching pass is needed.
func buildDownloadRequests(resolved []resolver.ResolvedPackage) []downloader.Request {
	requests := make([]downloader.Request, 0, len(resolved))

	for _, pkg := range resolved {
		url := pkg.Installation

		kind := dist.KindWheel
		if url.PackageType != "bdist_wheel" {
			kind = dist.KindSource
		}

		req := downloader.Request{
			Name:     pkg.Name,
			Version:  pkg.Version,
			URL:      url.URL,
			SHA256:   url.Digests.SHA256,
			Filename: url.Filename,
			Kind:     kind,
		}

		if h, ok := url.Hash(); ok {
			req.Hashes = []dist.Hashes{h}
		}

		requests = append(requests, req)
	}

	return requests
}

func effectiveWorkers(jobs int) int {
	if jobs > 0 {
		return jobs
	}

	return runtime.GOMAXPROCS(0)
}

func newDownloader(flags installFlags, logger *slog.Logger) (*downloader.Manager, error) {
	store, err := resolveCacheStore(flags.sharedFlags, logger)
	if err != nil {
		logger.Debug("cache unavailable, continuing without cache", slog.String("error", err.Error()))

		store = nil
	}

	dlOpts := []downloader.Option{
		downloader.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
		downloader.WithLogger(logger),
		downloader.WithBuilder(builder.New(builder.WithPythonBin(flags.pythonBin))),
	}

	if store != nil {
		dlOpts = append(dlOpts, downloader.WithCache(store))
	}

	if flags.jobs > 0 {
		dlOpts = append(dlOpts, downloader.WithMaxWorkers(flags.jobs))
	}

	targetDir, err := os.MkdirTemp("", "pipwright-downloads-*")
	if err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	return downloader.New(targetDir, dlOpts...), nil
}

// resolveCacheStore prefers the S3 backend when --s3-endpoint/--s3-bucket
// are set, falling back to the local disk cache.
func resolveCacheStore(flags sharedFlags, logger *slog.Logger) (downloader.CacheStore, error) {
	if flags.s3Endpoint != "" && flags.s3Bucket != "" {
		store, err := cache.WithS3(flags.s3Endpoint, flags.s3Bucket, os.Getenv("PIPWRIGHT_S3_ACCESS_KEY"), os.Getenv("PIPWRIGHT_S3_SECRET_KEY"))
		if err != nil {
			return nil, fmt.Errorf("connecting to s3 cache: %w", err)
		}

		return store, nil
	}

	return cache.New(cache.WithLogger(logger))
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file.
// Skips comments, empty lines, and pip options (lines starting with -).
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Strip inline comments.
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		// Skip empty lines and pip options (e.g., --index-url, -e, -c).
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

// buildMarkerEnv creates a PEP 508 marker environment from the detected Python env.
func buildMarkerEnv(env *python.Environment) resolver.MarkerEnv {
	pyVer := resolver.FormatPythonVersion(env.PythonVersion)

	var sysPlatform, osName string

	switch {
	case strings.HasPrefix(env.PlatformTag, "macosx"):
		sysPlatform = "darwin"
		osName = "posix"
	case strings.HasPrefix(env.PlatformTag, "linux"):
		sysPlatform = "linux"
		osName = "posix"
	default:
		sysPlatform = "linux"
		osName = "posix"
	}

	return resolver.MarkerEnv{
		PythonVersion: pyVer,
		SysPlatform:   sysPlatform,
		OsName:        osName,
	}
}

// printDependencyTree prints the resolved packages as a dependency tree.
func printDependencyTree(roots []string, resolved map[string]resolver.ResolvedPackage) {
	visited := make(map[string]bool)

	for _, root := range roots {
		pkg, ok := resolved[root]
		if !ok {
			continue
		}

		fmt.Printf("  %s %s\n", pkg.Name, pkg.Version)

		visited[root] = true

		printSubTree(pkg.Dependencies, resolved, "  ", visited)
	}
}

func printSubTree(deps []string, resolved map[string]resolver.ResolvedPackage, prefix string, visited map[string]bool) {
	for i, depName := range deps {
		pkg, ok := resolved[depName]
		if !ok {
			continue
		}

		isLast := i == len(deps)-1

		connector := "├── "
		childPrefix := "│   "

		if isLast {
			connector = "└── "
			childPrefix = "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, pkg.Name, pkg.Version)

		if !visited[depName] && len(pkg.Dependencies) > 0 {
			visited[depName] = true
			printSubTree(pkg.Dependencies, resolved, prefix+childPrefix, visited)
		}
	}
}
