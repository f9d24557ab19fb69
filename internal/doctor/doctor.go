package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"pretorin/config"
	"pretorin/internal/agent"
	"pretorin/internal/codexruntime"
	"pretorin/pkg/db"
	"pretorin/pkg/migration"
	"pretorin/version"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// CheckResult is one diagnostic. Stage names the runtime pipeline step the
// check covers, when it covers one.
type CheckResult struct {
	Name    string             `json:"name"`
	Stage   codexruntime.Stage `json:"stage,omitempty"`
	Status  Status             `json:"status"`
	Summary string             `json:"summary"`
	Details []string           `json:"details,omitempty"`
	Actions []string           `json:"actions,omitempty"`
}

type Report struct {
	Checks []CheckResult `json:"checks"`
}

func (r Report) HasFailures() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

// Options are the collaborators inspected by the report.
type Options struct {
	Cache        *codexruntime.Cache
	Isolation    *codexruntime.Isolation
	Registry     *codexruntime.Registry
	Resolver     *agent.Resolver
	DatabasePath string
	// ProjectDir is where the project registry is looked up.
	ProjectDir string
}

func GenerateReport(ctx context.Context, opts Options) Report {
	return Report{Checks: []CheckResult{
		checkMetadata(),
		checkPlatform(opts.Cache),
		checkBinary(opts.Cache),
		checkRuntimeHome(opts.Isolation),
		checkCredentials(opts.Resolver),
		checkRegistry(opts.Registry, opts.ProjectDir),
		checkDataStore(ctx, opts.DatabasePath),
	}}
}

func checkMetadata() CheckResult {
	result := CheckResult{Name: "Build", Status: StatusOK}
	result.Summary = fmt.Sprintf("pretorin %s, go runtime %s", version.Get(), runtime.Version())

	if execPath, err := os.Executable(); err != nil {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("Could not resolve executable path: %v", err))
		result.Actions = append(result.Actions, "re-run from the installed binary path; the runtime launches tools through it")
	} else {
		result.Details = append(result.Details, fmt.Sprintf("Executable: %s", execPath))
	}
	result.Details = append(result.Details, fmt.Sprintf("OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH))

	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				result.Details = append(result.Details, fmt.Sprintf("VCS Revision: %s", setting.Value))
			}
		}
	}
	return result
}

func checkPlatform(cache *codexruntime.Cache) CheckResult {
	result := CheckResult{Name: "Platform", Stage: codexruntime.StageResolution, Status: StatusOK}

	platform, err := cache.Platform()
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Platform not supported by the pinned runtime"
		result.Details = append(result.Details, err.Error())
		supported := make([]string, 0, len(codexruntime.SupportedPlatforms()))
		for _, p := range codexruntime.SupportedPlatforms() {
			supported = append(supported, string(p))
		}
		result.Actions = append(result.Actions, "run on one of: "+strings.Join(supported, ", "))
		return result
	}

	result.Summary = fmt.Sprintf("%s (%s)", platform, platform.Target())
	release := codexruntime.PinnedRelease()
	if artifact, err := release.Artifact(platform); err != nil {
		result.Status = StatusFail
		result.Details = append(result.Details, err.Error())
	} else {
		result.Details = append(result.Details,
			fmt.Sprintf("Artifact: %s", artifact.URL),
			fmt.Sprintf("SHA-256: %s", artifact.Digest))
	}
	return result
}

func checkBinary(cache *codexruntime.Cache) CheckResult {
	result := CheckResult{Name: "Runtime Binary", Stage: codexruntime.StageInstallation, Status: StatusOK}
	pinned := cache.PinnedVersion()
	path := cache.BinaryPath(pinned)
	result.Details = append(result.Details, fmt.Sprintf("Path: %s", path))

	if cache.IsInstalled(pinned) {
		result.Summary = fmt.Sprintf("%s installed", pinned)
	} else {
		result.Status = StatusWarn
		result.Summary = fmt.Sprintf("%s not installed", pinned)
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o111 == 0 {
			result.Details = append(result.Details, "File exists but is not executable")
		}
		result.Actions = append(result.Actions, "run 'pretorin agent install' (or any agent run) to download it")
	}

	stale, err := cache.ListStaleVersions()
	if err != nil {
		result.Details = append(result.Details, fmt.Sprintf("Could not list cached versions: %v", err))
		return result
	}
	if len(stale) > 0 {
		names := make([]string, 0, len(stale))
		for _, b := range stale {
			names = append(names, b.Version)
		}
		result.Details = append(result.Details, fmt.Sprintf("Stale versions: %s", strings.Join(names, ", ")))
		result.Actions = append(result.Actions, "run 'pretorin agent cleanup' to remove stale versions")
	}
	return result
}

func checkRuntimeHome(iso *codexruntime.Isolation) CheckResult {
	result := CheckResult{Name: "Runtime Home", Stage: codexruntime.StageSessionStart, Status: StatusOK}
	result.Details = append(result.Details, fmt.Sprintf("Directory: %s", iso.Home))

	stat, err := os.Stat(iso.Home)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Summary = "Not created yet; the first session creates it"
		return result
	case err != nil:
		result.Status = StatusFail
		result.Summary = "Cannot access runtime home"
		result.Details = append(result.Details, err.Error())
		return result
	case !stat.IsDir():
		result.Status = StatusFail
		result.Summary = "Runtime home is not a directory"
		result.Actions = append(result.Actions, "remove the conflicting file")
		return result
	}

	if err := checkDirWritable(iso.Home); err != nil {
		result.Status = StatusFail
		result.Summary = "Runtime home not writable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix permissions on "+iso.Home)
		return result
	}

	if info, err := os.Stat(iso.ConfigPath()); err == nil {
		result.Summary = "Configured"
		result.Details = append(result.Details, fmt.Sprintf("Last written: %s", info.ModTime().Format(time.RFC3339)))
		if info.Mode().Perm()&0o077 != 0 {
			result.Status = StatusWarn
			result.Details = append(result.Details, fmt.Sprintf("%s is readable by other users (%o)", codexruntime.ConfigFileName, info.Mode().Perm()))
		}
	} else {
		result.Summary = "Writable; no configuration written yet"
	}
	return result
}

func checkDirWritable(dir string) error {
	file, err := os.CreateTemp(dir, "doctor-")
	if err != nil {
		return err
	}
	name := file.Name()
	file.Close()
	return os.Remove(name)
}

func checkCredentials(resolver *agent.Resolver) CheckResult {
	result := CheckResult{Name: "Model Credentials", Stage: codexruntime.StageResolution, Status: StatusOK}

	params, err := resolver.Resolve(agent.Overrides{})
	result.Details = append(result.Details,
		describe("Model", params.Model),
		describe("Endpoint", params.Endpoint))

	if err != nil {
		result.Status = StatusFail
		result.Summary = "No model credential configured"
		result.Actions = append(result.Actions,
			"run 'pretorin config set-key'",
			"or export PRETORIN_LLM_API_KEY / OPENAI_API_KEY")
		return result
	}

	result.Summary = fmt.Sprintf("Credential %s from %s", config.MaskSecret(params.Credential.Value), params.Credential.Source)
	if params.Credential.Origin != "" {
		result.Details = append(result.Details, fmt.Sprintf("Credential origin: %s", params.Credential.Origin))
	}
	return result
}

func describe(label string, r agent.Resolved) string {
	if r.Origin != "" {
		return fmt.Sprintf("%s: %s (%s: %s)", label, r.Value, r.Source, r.Origin)
	}
	return fmt.Sprintf("%s: %s (%s)", label, r.Value, r.Source)
}

func checkRegistry(registry *codexruntime.Registry, projectDir string) CheckResult {
	result := CheckResult{Name: "Tool Servers", Stage: codexruntime.StageSessionStart, Status: StatusOK}

	providers, err := registry.Load(projectDir)
	result.Summary = fmt.Sprintf("%d registered server(s) plus the built-in %s server", len(providers), codexruntime.ReservedProviderName)
	for _, p := range providers {
		target := p.URL
		if p.Transport != codexruntime.TransportHTTP {
			target = strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
		}
		result.Details = append(result.Details, fmt.Sprintf("%s [%s, %s] %s", p.Name, p.Transport, filepath.Base(p.Source), target))
	}
	if err != nil {
		result.Status = StatusWarn
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix or remove the invalid entries; they are skipped")
	}
	return result
}

func checkDataStore(ctx context.Context, path string) CheckResult {
	result := CheckResult{Name: "Data Store", Status: StatusOK}
	result.Details = append(result.Details, fmt.Sprintf("Path: %s", path))

	info, err := os.Stat(path)
	if err != nil {
		result.Status = StatusWarn
		if errors.Is(err, os.ErrNotExist) {
			result.Summary = "Database not initialized"
			result.Actions = append(result.Actions, "run any agent command to create it")
		} else {
			result.Summary = "Cannot read database"
			result.Details = append(result.Details, err.Error())
		}
		return result
	}

	database, err := db.Open(path)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Cannot open database"
		result.Details = append(result.Details, err.Error())
		return result
	}
	defer database.Close()

	status, err := migration.NewRunner(database.Write).Status(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Cannot read schema version"
		result.Details = append(result.Details, err.Error())
		return result
	}

	result.Summary = fmt.Sprintf("Schema version %d of %d", status.Current, status.Latest)
	result.Details = append(result.Details, fmt.Sprintf("Size: %s", formatBytes(info.Size())))
	switch {
	case status.Dirty:
		result.Status = StatusFail
		result.Actions = append(result.Actions, "a migration was interrupted; restore or remove "+path)
	case status.Pending() > 0:
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("%d pending migration(s)", status.Pending()))
		result.Actions = append(result.Actions, "run any agent command to apply them")
	}
	return result
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
