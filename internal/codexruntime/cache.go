package codexruntime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

const binaryPrefix = "codex-"

// CachedBinary is one versioned file in the cache directory.
type CachedBinary struct {
	Version    string
	Path       string
	Executable bool
}

type CacheConfig struct {
	// Dir holds the versioned binaries.
	Dir     string
	Release Release
	// Platform overrides host detection; empty means CurrentPlatform.
	Platform PlatformKey
	Fetcher  *Fetcher
	Logger   *slog.Logger
}

// Cache owns the directory of versioned runtime binaries. Reads are safe
// from any number of goroutines or processes; installs are atomic.
type Cache struct {
	dir      string
	release  Release
	platform PlatformKey
	fetcher  *Fetcher
	logger   *slog.Logger
	flight   singleflight.Group
}

func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		dir:      cfg.Dir,
		release:  cfg.Release,
		platform: cfg.Platform,
		fetcher:  cfg.Fetcher,
		logger:   logger.With("component", "binary_cache"),
	}
}

func (c *Cache) Dir() string { return c.dir }

// PinnedVersion is the version this cache installs and protects from cleanup.
func (c *Cache) PinnedVersion() string { return c.release.Version }

// BinaryPath is where version lives once installed.
func (c *Cache) BinaryPath(version string) string {
	return filepath.Join(c.dir, binaryPrefix+version)
}

// IsInstalled requires both a regular file and at least one execute bit.
func (c *Cache) IsInstalled(version string) bool {
	return isExecutableFile(c.BinaryPath(version))
}

// Platform resolves the platform the cache installs for.
func (c *Cache) Platform() (PlatformKey, error) {
	if c.platform != "" {
		if c.platform.Target() == "" {
			return "", &UnsupportedPlatformError{GOOS: string(c.platform), GOARCH: "unknown"}
		}
		return c.platform, nil
	}
	return CurrentPlatform()
}

// EnsureInstalled returns the path of an installed, executable binary for
// version, downloading and verifying it on a miss. Concurrent callers in this
// process share one attempt; racing processes are settled by Install.
func (c *Cache) EnsureInstalled(ctx context.Context, version string) (string, error) {
	path := c.BinaryPath(version)
	if c.IsInstalled(version) {
		return path, nil
	}
	if version != c.release.Version {
		return "", &InstallationFailedError{
			Path: path,
			Err:  fmt.Errorf("no release table for version %s (pinned %s)", version, c.release.Version),
		}
	}

	// The shared attempt outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	installCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(version, func() (any, error) {
		return c.install(installCtx, version)
	})
	select {
	case <-ctx.Done():
		return "", &InstallationFailedError{Path: path, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight install", "version", version)
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) install(ctx context.Context, version string) (string, error) {
	path := c.BinaryPath(version)
	if c.IsInstalled(version) {
		return path, nil
	}
	if c.fetcher == nil {
		return "", &InstallationFailedError{Path: path, Err: errors.New("no fetcher configured")}
	}

	platform, err := c.Platform()
	if err != nil {
		return "", err
	}
	artifact, err := c.release.Artifact(platform)
	if err != nil {
		return "", err
	}

	archive, err := c.fetcher.Download(ctx, artifact.URL)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	if err := Verify(archive, platform, artifact.Digest); err != nil {
		c.logger.Error("artifact rejected", "version", version, "platform", platform, "error", err)
		return "", err
	}

	extracted, err := c.fetcher.ExtractBinary(archive)
	if err != nil {
		return "", &InstallationFailedError{Path: path, Err: err}
	}
	if err := Install(extracted, path); err != nil {
		return "", err
	}
	if !c.IsInstalled(version) {
		return "", &InstallationFailedError{Path: path, Err: errors.New("binary not executable after install")}
	}

	c.logger.Info("runtime installed", "version", version, "platform", platform, "path", path)
	return path, nil
}

// Versions lists every cached binary, sorted by version.
func (c *Cache) Versions() ([]CachedBinary, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache directory: %w", err)
	}

	var binaries []CachedBinary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, binaryPrefix) {
			continue
		}
		path := filepath.Join(c.dir, name)
		binaries = append(binaries, CachedBinary{
			Version:    strings.TrimPrefix(name, binaryPrefix),
			Path:       path,
			Executable: isExecutableFile(path),
		})
	}
	sort.Slice(binaries, func(i, j int) bool { return binaries[i].Version < binaries[j].Version })
	return binaries, nil
}

// ListStaleVersions returns cached binaries that are not the pinned version.
func (c *Cache) ListStaleVersions() ([]CachedBinary, error) {
	all, err := c.Versions()
	if err != nil {
		return nil, err
	}
	var stale []CachedBinary
	for _, b := range all {
		if b.Version != c.release.Version {
			stale = append(stale, b)
		}
	}
	return stale, nil
}

// RemoveStaleVersions deletes what ListStaleVersions reports. It is never
// called implicitly: another session may still be executing an old binary.
func (c *Cache) RemoveStaleVersions() ([]string, error) {
	stale, err := c.ListStaleVersions()
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, b := range stale {
		if b.Version == c.release.Version {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", b.Path, err))
			continue
		}
		removed = append(removed, b.Path)
		c.logger.Info("removed stale runtime", "version", b.Version, "path", b.Path)
	}
	return removed, errors.Join(errs...)
}
