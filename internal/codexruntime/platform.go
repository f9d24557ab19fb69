package codexruntime

import (
	"fmt"
	"runtime"
)

// PinnedVersion is the only runtime release this build will execute.
// Bumping it requires updating every digest in pinnedDigests.
const PinnedVersion = "rust-v0.88.0-alpha.3"

const defaultDownloadBase = "https://github.com/openai/codex/releases/download"

// PlatformKey identifies a supported OS/architecture pair.
type PlatformKey string

const (
	PlatformDarwinARM64 PlatformKey = "darwin-arm64"
	PlatformDarwinX64   PlatformKey = "darwin-x64"
	PlatformLinuxX64    PlatformKey = "linux-x64"
)

type platformDescriptor struct {
	key    PlatformKey
	goos   string
	goarch string
	// target is the Rust target triple used in release asset names.
	target string
}

var supportedPlatforms = [...]platformDescriptor{
	{PlatformDarwinARM64, "darwin", "arm64", "aarch64-apple-darwin"},
	{PlatformDarwinX64, "darwin", "amd64", "x86_64-apple-darwin"},
	{PlatformLinuxX64, "linux", "amd64", "x86_64-unknown-linux-gnu"},
}

// pinnedDigests are the SHA-256 digests of the PinnedVersion release tarballs.
var pinnedDigests = map[PlatformKey]string{
	PlatformDarwinARM64: "a20463a19ed5dd7fe01cdd14cbdf11e7a1b23296135df61aba65944dc0ac5367",
	PlatformDarwinX64:   "ea5a1343cd1b7216ccf6085257217ef1819f54c237cb60e33a9f000f4456405d",
	PlatformLinuxX64:    "e3dd97f06ad09f7893e73d7ea091bdc5045ef7bd7ba306140d13a14d512cdc5f",
}

// ResolvePlatform maps an OS/architecture pair onto a PlatformKey. There is
// no fallback: anything outside the table fails with UnsupportedPlatformError.
func ResolvePlatform(goos, goarch string) (PlatformKey, error) {
	for _, p := range supportedPlatforms {
		if p.goos == goos && p.goarch == goarch {
			return p.key, nil
		}
	}
	return "", &UnsupportedPlatformError{GOOS: goos, GOARCH: goarch}
}

// CurrentPlatform resolves the host platform.
func CurrentPlatform() (PlatformKey, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH)
}

// Target returns the release target triple, or "" for unknown keys.
func (k PlatformKey) Target() string {
	for _, p := range supportedPlatforms {
		if p.key == k {
			return p.target
		}
	}
	return ""
}

// SupportedPlatforms lists every key in the table, in table order.
func SupportedPlatforms() []PlatformKey {
	keys := make([]PlatformKey, 0, len(supportedPlatforms))
	for _, p := range supportedPlatforms {
		keys = append(keys, p.key)
	}
	return keys
}

// Release describes one downloadable version and its expected digests.
type Release struct {
	Version      string
	DownloadBase string
	Digests      map[PlatformKey]string
}

// PinnedRelease returns the release table compiled into this build.
func PinnedRelease() Release {
	digests := make(map[PlatformKey]string, len(pinnedDigests))
	for k, v := range pinnedDigests {
		digests[k] = v
	}
	return Release{
		Version:      PinnedVersion,
		DownloadBase: defaultDownloadBase,
		Digests:      digests,
	}
}

// Artifact is a resolved, platform-specific download.
type Artifact struct {
	Platform PlatformKey
	Name     string
	URL      string
	Digest   string
}

// Artifact resolves the download for a platform. It fails closed when the
// platform has no target triple or no digest.
func (r Release) Artifact(platform PlatformKey) (Artifact, error) {
	target := platform.Target()
	if target == "" {
		return Artifact{}, &UnsupportedPlatformError{GOOS: string(platform), GOARCH: "unknown"}
	}
	digest := r.Digests[platform]
	if digest == "" {
		return Artifact{}, fmt.Errorf("release %s has no digest for %s", r.Version, platform)
	}

	name := fmt.Sprintf("codex-%s.tar.gz", target)
	base := r.DownloadBase
	if base == "" {
		base = defaultDownloadBase
	}
	return Artifact{
		Platform: platform,
		Name:     name,
		URL:      fmt.Sprintf("%s/%s/%s", base, r.Version, name),
		Digest:   digest,
	}, nil
}
