package codexruntime

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables the runtime reads.
const (
	EnvRuntimeHome = "CODEX_HOME"
	EnvCredential  = "OPENAI_API_KEY"
	EnvEndpoint    = "OPENAI_BASE_URL"
)

// ConfigFileName is the single configuration file inside the runtime home.
const ConfigFileName = "config.toml"

// passthroughEnv is everything taken from the host environment.
var passthroughEnv = []string{"PATH", "HOME"}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WireAPI selects the request format the runtime speaks to the provider.
type WireAPI string

const (
	WireAPIResponses WireAPI = "responses"
	WireAPIChat      WireAPI = "chat"
)

// Isolation builds the environment and configuration for one runtime home.
// Every value is explicit; nothing is discovered from the runtime's default
// locations.
type Isolation struct {
	// Home is the isolated runtime home, owned by this application.
	Home string
	// SelfCommand is the absolute path of this executable, registered as the
	// built-in tool server.
	SelfCommand string
	// SelfArgs are passed to SelfCommand to start the tool server.
	SelfArgs []string
	Registry *Registry
	// LookupEnv reads the host environment; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

func (iso *Isolation) lookup(key string) (string, bool) {
	if iso.LookupEnv != nil {
		return iso.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

func (iso *Isolation) logger() *slog.Logger {
	if iso.Logger != nil {
		return iso.Logger
	}
	return slog.Default()
}

// ConfigPath is the generated configuration file.
func (iso *Isolation) ConfigPath() string {
	return filepath.Join(iso.Home, ConfigFileName)
}

// BuildEnvironment returns the complete subprocess environment. Only PATH and
// HOME come from the host. extra is applied before the isolation variables,
// so it cannot redirect the runtime home, credential or endpoint.
func (iso *Isolation) BuildEnvironment(credential, endpoint string, extra map[string]string) map[string]string {
	env := make(map[string]string, len(passthroughEnv)+len(extra)+3)
	for _, key := range passthroughEnv {
		if value, ok := iso.lookup(key); ok {
			env[key] = value
		}
	}
	for key, value := range extra {
		env[key] = value
	}
	env[EnvRuntimeHome] = iso.Home
	env[EnvCredential] = credential
	env[EnvEndpoint] = endpoint
	return env
}

// Environ flattens an environment map into sorted KEY=VALUE pairs.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for key, value := range env {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}

// ProviderConfig is the model provider section of the runtime configuration.
type ProviderConfig struct {
	Model            string
	ProviderName     string
	EndpointURL      string
	CredentialEnvKey string
	WireAPI          WireAPI
	// ProjectDir enables the project-level registry; empty means global only.
	ProjectDir string
	// SkipRegistry leaves out every registered provider, keeping only the
	// built-in tool server.
	SkipRegistry bool
}

func (c ProviderConfig) validate() error {
	if err := checkValue("model", c.Model); err != nil {
		return err
	}
	if !providerNamePattern.MatchString(c.ProviderName) {
		return fmt.Errorf("provider name %q must match %s", c.ProviderName, providerNamePattern)
	}
	if !envKeyPattern.MatchString(c.CredentialEnvKey) {
		return fmt.Errorf("credential env key %q is not a valid variable name", c.CredentialEnvKey)
	}
	switch c.WireAPI {
	case WireAPIResponses, WireAPIChat:
	default:
		return fmt.Errorf("unknown wire api %q", c.WireAPI)
	}
	if err := checkValue("endpoint", c.EndpointURL); err != nil {
		return err
	}
	u, err := url.Parse(c.EndpointURL)
	if err != nil {
		return fmt.Errorf("endpoint %q: %w", c.EndpointURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint %q must be an absolute http(s) URL", c.EndpointURL)
	}
	return nil
}

// checkValue rejects empty values and control characters. The encoder would
// escape them, but nothing legitimate needs them.
func checkValue(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s contains control characters", field)
	}
	return nil
}

type runtimeConfig struct {
	Model          string                        `toml:"model"`
	ModelProvider  string                        `toml:"model_provider"`
	WebSearch      string                        `toml:"web_search"`
	ModelProviders map[string]modelProviderEntry `toml:"model_providers"`
	MCPServers     map[string]mcpServerEntry     `toml:"mcp_servers"`
}

type modelProviderEntry struct {
	Name    string `toml:"name"`
	BaseURL string `toml:"base_url"`
	WireAPI string `toml:"wire_api"`
	EnvKey  string `toml:"env_key"`
}

type mcpServerEntry struct {
	Command string            `toml:"command,omitempty"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty,inline"`
	URL     string            `toml:"url,omitempty"`
}

// WriteConfiguration replaces the configuration file in the runtime home. It
// is safe to call before every session: the file is rewritten whole and
// swapped in atomically, so the last writer wins.
func (iso *Isolation) WriteConfiguration(cfg ProviderConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", fmt.Errorf("invalid runtime configuration: %w", err)
	}
	if iso.Home == "" {
		return "", fmt.Errorf("runtime home is not set")
	}
	if !filepath.IsAbs(iso.SelfCommand) {
		return "", fmt.Errorf("tool server command %q must be an absolute path", iso.SelfCommand)
	}

	doc := runtimeConfig{
		Model:         cfg.Model,
		ModelProvider: cfg.ProviderName,
		WebSearch:     "disabled",
		ModelProviders: map[string]modelProviderEntry{
			cfg.ProviderName: {
				Name:    cfg.ProviderName,
				BaseURL: cfg.EndpointURL,
				WireAPI: string(cfg.WireAPI),
				EnvKey:  cfg.CredentialEnvKey,
			},
		},
		MCPServers: map[string]mcpServerEntry{
			ReservedProviderName: {
				Command: iso.SelfCommand,
				Args:    iso.selfArgs(),
			},
		},
	}

	if iso.Registry != nil && !cfg.SkipRegistry {
		providers, err := iso.Registry.Load(cfg.ProjectDir)
		if err != nil {
			iso.logger().Warn("skipping unreadable capability providers", "error", err)
		}
		for _, p := range providers {
			doc.MCPServers[p.Name] = mcpServerEntry{
				Command: p.Command,
				Args:    p.Args,
				Env:     p.Env,
				URL:     p.URL,
			}
		}
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode runtime configuration: %w", err)
	}

	if err := os.MkdirAll(iso.Home, 0o700); err != nil {
		return "", fmt.Errorf("create runtime home: %w", err)
	}
	path := iso.ConfigPath()
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write runtime configuration: %w", err)
	}
	iso.logger().Debug("runtime configuration written", "path", path, "model", cfg.Model, "providers", len(doc.MCPServers))
	return path, nil
}

// ToolServerCommand is the subcommand the runtime launches for the built-in
// tool server.
const ToolServerCommand = "mcp-serve"

func (iso *Isolation) selfArgs() []string {
	if len(iso.SelfArgs) > 0 {
		return iso.SelfArgs
	}
	return []string{ToolServerCommand}
}
