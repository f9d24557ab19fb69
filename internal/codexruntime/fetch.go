package codexruntime

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// maxArtifactBytes bounds a single release download.
const maxArtifactBytes = 512 << 20

// Fetcher downloads release artifacts into a staging directory. Nothing it
// writes is visible in the binary cache until Install succeeds.
type Fetcher struct {
	client     *http.Client
	stagingDir string
	logger     *slog.Logger
}

func NewFetcher(stagingDir string, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:     client,
		stagingDir: stagingDir,
		logger:     logger.With("component", "fetcher"),
	}
}

// Download fetches url into a new temporary file and returns its path. The
// caller owns the file and must remove it.
func (f *Fetcher) Download(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(f.stagingDir, 0o755); err != nil {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("create staging directory: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}

	f.logger.Info("downloading artifact", "url", url)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := os.CreateTemp(f.stagingDir, "artifact-*.tar.gz")
	if err != nil {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := out.Name()

	written, copyErr := io.Copy(out, io.LimitReader(resp.Body, maxArtifactBytes+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		err = copyErr
	case closeErr != nil:
		err = closeErr
	case written > maxArtifactBytes:
		err = fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", &DownloadError{URL: url, Err: err}
	}

	f.logger.Debug("artifact downloaded", "url", url, "bytes", written, "path", tmpPath)
	return tmpPath, nil
}

// HashFile computes the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify compares the artifact digest against expected. On mismatch the
// artifact is deleted before returning so it can never be promoted. A read
// failure is an *InstallationFailedError, not a mismatch.
func Verify(path string, platform PlatformKey, expected string) error {
	actual, err := HashFile(path)
	if err != nil {
		os.Remove(path)
		return &InstallationFailedError{Path: path, Err: err}
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		os.Remove(path)
		return &ChecksumMismatchError{Platform: platform, Expected: expected, Actual: actual}
	}
	return nil
}

// ExtractBinary pulls the runtime executable out of a verified tarball into a
// new temporary file in the staging directory.
func (f *Fetcher) ExtractBinary(archivePath string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("open gzip stream: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !isRuntimeMember(header.Name) {
			continue
		}

		out, err := os.CreateTemp(f.stagingDir, "codex-extract-*")
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, io.LimitReader(tr, maxArtifactBytes)); err != nil {
			out.Close()
			os.Remove(out.Name())
			return "", fmt.Errorf("extract %s: %w", header.Name, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(out.Name())
			return "", err
		}
		return out.Name(), nil
	}

	return "", fmt.Errorf("no runtime binary found in %s", filepath.Base(archivePath))
}

func isRuntimeMember(name string) bool {
	base := filepath.Base(name)
	return base == "codex" || strings.HasPrefix(base, "codex-")
}

// Install promotes a verified binary into the cache at targetPath. The first
// writer wins: if an executable binary already sits at targetPath the call
// is a no-op. tempPath is always gone when Install returns.
func Install(tempPath, targetPath string) error {
	defer os.Remove(tempPath)

	if err := os.Chmod(tempPath, 0o755); err != nil {
		return &InstallationFailedError{Path: targetPath, Err: fmt.Errorf("set executable bit: %w", err)}
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return &InstallationFailedError{Path: targetPath, Err: err}
	}

	err := os.Link(tempPath, targetPath)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		if isExecutableFile(targetPath) {
			return nil
		}
		// A non-executable leftover is not an install; replace it.
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return &InstallationFailedError{Path: targetPath, Err: err}
	}
	return nil
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
