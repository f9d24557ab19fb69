package codexruntime

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a failure came from, so diagnostics can point
// at it without re-running everything.
type Stage string

const (
	StageResolution   Stage = "resolution"
	StageDownload     Stage = "download"
	StageVerification Stage = "verification"
	StageInstallation Stage = "installation"
	StageSessionStart Stage = "session start"
	StageStreaming    Stage = "streaming"
)

// StageError is implemented by every typed runtime failure.
type StageError interface {
	error
	Stage() Stage
}

// StageOf reports the stage recorded anywhere in err's chain.
func StageOf(err error) (Stage, bool) {
	var staged StageError
	if errors.As(err, &staged) {
		return staged.Stage(), true
	}
	return "", false
}

// UnsupportedPlatformError is fatal: no pinned release will ever run here.
type UnsupportedPlatformError struct {
	GOOS   string
	GOARCH string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s/%s", e.GOOS, e.GOARCH)
}

func (e *UnsupportedPlatformError) Stage() Stage { return StageResolution }

// DownloadError is transient; callers may retry it with backoff.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Stage() Stage { return StageDownload }

// ChecksumMismatchError is fatal and must never be retried with the same
// artifact. The artifact has already been discarded when this is returned.
type ChecksumMismatchError struct {
	Platform PlatformKey
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Platform, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Stage() Stage { return StageVerification }

// InstallationFailedError leaves the cache in the "not installed" state.
type InstallationFailedError struct {
	Path string
	Err  error
}

func (e *InstallationFailedError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Path, e.Err)
}

func (e *InstallationFailedError) Unwrap() error { return e.Err }

func (e *InstallationFailedError) Stage() Stage { return StageInstallation }

// RuntimeUnavailableError is what session callers see when the binary could
// not be prepared. The wrapped error keeps the precise stage.
type RuntimeUnavailableError struct {
	Version string
	Err     error
}

func (e *RuntimeUnavailableError) Error() string {
	return fmt.Sprintf("runtime %s could not be prepared: %v", e.Version, e.Err)
}

func (e *RuntimeUnavailableError) Unwrap() error { return e.Err }

func (e *RuntimeUnavailableError) Stage() Stage {
	if stage, ok := StageOf(e.Err); ok {
		return stage
	}
	return StageInstallation
}
