package codexruntime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"
)

// ReservedProviderName is the entry this application always injects for its
// own tool server. Registry files may not redefine it.
const ReservedProviderName = "pretorin"

// ProjectRegistryFile is looked up in the session working directory.
const ProjectRegistryFile = ".pretorin-mcp.json"

type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Scope selects which registry file an entry is written to.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

var providerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CapabilityProvider is one user-declared tool server the runtime may call.
type CapabilityProvider struct {
	Name      string            `json:"name"`
	Transport Transport         `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`

	// Source is the file the entry was loaded from.
	Source string `json:"-"`
}

// Validate checks the entry is complete for its transport.
func (p CapabilityProvider) Validate() error {
	if !providerNamePattern.MatchString(p.Name) {
		return fmt.Errorf("provider name %q must match %s", p.Name, providerNamePattern)
	}
	if p.Name == ReservedProviderName {
		return fmt.Errorf("provider name %q is reserved", p.Name)
	}
	switch p.transport() {
	case TransportStdio:
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("provider %q: stdio transport requires command", p.Name)
		}
	case TransportHTTP:
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("provider %q: http transport requires url", p.Name)
		}
	default:
		return fmt.Errorf("provider %q: unknown transport %q", p.Name, p.Transport)
	}
	return nil
}

func (p CapabilityProvider) transport() Transport {
	if p.Transport == "" {
		return TransportStdio
	}
	return p.Transport
}

type registryFile struct {
	Servers []CapabilityProvider `json:"servers"`
}

const registrySchema = `{
  "type": "object",
  "properties": {
    "servers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "transport": {"type": "string", "enum": ["stdio", "http"]},
          "command": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "url": {"type": "string"}
        }
      }
    }
  }
}`

var registrySchemaLoader = gojsonschema.NewStringLoader(registrySchema)

// Registry reads and writes the application-owned provider registry files.
// It never consults any file owned by the runtime itself.
type Registry struct {
	// GlobalPath is the registry under the application home.
	GlobalPath string
}

func NewRegistry(globalPath string) *Registry {
	return &Registry{GlobalPath: globalPath}
}

// ProjectPath is the project-level registry for a working directory.
func ProjectPath(projectDir string) string {
	return filepath.Join(projectDir, ProjectRegistryFile)
}

// Load merges the project registry (if projectDir is set) and the global
// registry. Project entries win on name collisions. Files that cannot be
// parsed are skipped; their errors are joined into the returned error
// alongside whatever entries could be loaded.
func (r *Registry) Load(projectDir string) ([]CapabilityProvider, error) {
	var paths []string
	if projectDir != "" {
		paths = append(paths, ProjectPath(projectDir))
	}
	if r.GlobalPath != "" {
		paths = append(paths, r.GlobalPath)
	}

	seen := make(map[string]bool)
	var providers []CapabilityProvider
	var errs []error
	for _, path := range paths {
		entries, err := readRegistryFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries.Servers {
			if seen[entry.Name] {
				continue
			}
			if err := entry.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			seen[entry.Name] = true
			entry.Source = path
			providers = append(providers, entry)
		}
	}
	return providers, errors.Join(errs...)
}

// Add writes p to the registry for scope, replacing any entry of the same name.
func (r *Registry) Add(p CapabilityProvider, scope Scope, projectDir string) (string, error) {
	if p.Transport == "" {
		p.Transport = TransportStdio
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	path, err := r.pathFor(scope, projectDir)
	if err != nil {
		return "", err
	}
	file, err := readRegistryFile(path)
	if err != nil {
		return "", err
	}

	kept := file.Servers[:0]
	for _, existing := range file.Servers {
		if existing.Name != p.Name {
			kept = append(kept, existing)
		}
	}
	file.Servers = append(kept, p)
	return path, writeRegistryFile(path, file)
}

// Remove deletes name from both registry files. It returns the files that
// contained the entry.
func (r *Registry) Remove(name, projectDir string) ([]string, error) {
	var paths []string
	if projectDir != "" {
		paths = append(paths, ProjectPath(projectDir))
	}
	if r.GlobalPath != "" {
		paths = append(paths, r.GlobalPath)
	}

	var touched []string
	for _, path := range paths {
		file, err := readRegistryFile(path)
		if err != nil {
			return touched, err
		}
		kept := file.Servers[:0]
		for _, existing := range file.Servers {
			if existing.Name != name {
				kept = append(kept, existing)
			}
		}
		if len(kept) == len(file.Servers) {
			continue
		}
		file.Servers = kept
		if err := writeRegistryFile(path, file); err != nil {
			return touched, err
		}
		touched = append(touched, path)
	}
	return touched, nil
}

func (r *Registry) pathFor(scope Scope, projectDir string) (string, error) {
	switch scope {
	case ScopeGlobal:
		if r.GlobalPath == "" {
			return "", errors.New("no global registry path configured")
		}
		return r.GlobalPath, nil
	case ScopeProject, "":
		if projectDir == "" {
			return "", errors.New("project scope requires a project directory")
		}
		return ProjectPath(projectDir), nil
	default:
		return "", fmt.Errorf("unknown registry scope %q", scope)
	}
}

// readRegistryFile treats a missing file as an empty registry.
func readRegistryFile(path string) (*registryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &registryFile{}, nil
		}
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	stripped := jsonc.ToJSON(data)
	if len(strings.TrimSpace(string(stripped))) == 0 {
		return &registryFile{}, nil
	}

	result, err := gojsonschema.Validate(registrySchemaLoader, gojsonschema.NewBytesLoader(stripped))
	if err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("invalid registry %s: %s", path, strings.Join(details, "; "))
	}

	var file registryFile
	if err := json.Unmarshal(stripped, &file); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	return &file, nil
}

func writeRegistryFile(path string, file *registryFile) error {
	if file.Servers == nil {
		file.Servers = []CapabilityProvider{}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

// writeFileAtomic writes through a sibling temp file so readers never observe
// a partially written file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
