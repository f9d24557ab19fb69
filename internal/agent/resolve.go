package agent

import (
	"errors"
	"os"
	"strings"

	"pretorin/config"
	"pretorin/internal/credentials"
)

const (
	DefaultModel    = "gpt-4o"
	DefaultEndpoint = "https://platform.pretorin.com/v1"
)

var (
	modelEnv      = []string{"PRETORIN_MODEL", "OPENAI_MODEL"}
	endpointEnv   = []string{"PRETORIN_MODEL_API_BASE_URL", "OPENAI_BASE_URL"}
	credentialEnv = []string{credentials.ModelKeyName, "OPENAI_API_KEY"}
)

// ErrNoCredential means no layer supplied a model credential.
var ErrNoCredential = errors.New("no model credential configured: run `pretorin config set-key`, set " +
	credentials.ModelKeyName + " or OPENAI_API_KEY, or store llm_api_key in config.json")

// Source names the layer a parameter was resolved from.
type Source string

const (
	SourceOverride Source = "override"
	SourceKeyring  Source = "keyring"
	SourceConfig   Source = "config"
	SourceEnv      Source = "env"
	SourceDefault  Source = "default"
)

// Resolved is a parameter value together with where it came from. Origin is
// the config key, env variable or secret name that supplied it.
type Resolved struct {
	Value  string
	Source Source
	Origin string
}

// Parameters are the per-session values handed to the runtime.
type Parameters struct {
	Model      Resolved
	Endpoint   Resolved
	Credential Resolved
}

// Overrides are call-time values; empty fields fall through.
type Overrides struct {
	Model      string
	Endpoint   string
	Credential string
}

// StoredConfig is the read side of config.Settings.
type StoredConfig interface {
	Get(key string) (string, bool)
}

// Resolver applies the same order to every parameter: call-time override,
// stored configuration, environment, built-in default.
type Resolver struct {
	Settings StoredConfig
	// ModelKey reads the keyring; nil disables the keyring layer.
	ModelKey  func() (string, error)
	LookupEnv func(string) (string, bool)
}

// NewResolver wires the stored configuration and system keyring.
func NewResolver(settings *config.Settings) *Resolver {
	r := &Resolver{
		ModelKey:  credentials.System.ModelKey,
		LookupEnv: os.LookupEnv,
	}
	if settings != nil {
		r.Settings = settings
	}
	return r
}

func (r *Resolver) Resolve(o Overrides) (Parameters, error) {
	params := Parameters{
		Model:    r.resolve(o.Model, nil, config.KeyModel, modelEnv, DefaultModel),
		Endpoint: r.resolve(o.Endpoint, nil, config.KeyModelAPIBaseURL, endpointEnv, DefaultEndpoint),
	}
	params.Credential = r.resolve(o.Credential, r.keyringCredential, config.KeyLLMAPIKey, credentialEnv, "")
	if params.Credential.Value == "" {
		return params, ErrNoCredential
	}
	return params, nil
}

func (r *Resolver) resolve(override string, stored func() (Resolved, bool), key string, envNames []string, fallback string) Resolved {
	if v := strings.TrimSpace(override); v != "" {
		return Resolved{Value: v, Source: SourceOverride}
	}
	if stored != nil {
		if res, ok := stored(); ok {
			return res
		}
	}
	if r.Settings != nil {
		if v, ok := r.Settings.Get(key); ok {
			return Resolved{Value: v, Source: SourceConfig, Origin: key}
		}
	}
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, name := range envNames {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return Resolved{Value: strings.TrimSpace(v), Source: SourceEnv, Origin: name}
		}
	}
	if fallback != "" {
		return Resolved{Value: fallback, Source: SourceDefault}
	}
	return Resolved{}
}

func (r *Resolver) keyringCredential() (Resolved, bool) {
	if r.ModelKey == nil {
		return Resolved{}, false
	}
	v, err := r.ModelKey()
	if err != nil || strings.TrimSpace(v) == "" {
		return Resolved{}, false
	}
	return Resolved{Value: strings.TrimSpace(v), Source: SourceKeyring, Origin: credentials.ModelKeyName}, true
}
