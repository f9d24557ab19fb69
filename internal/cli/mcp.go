package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"pretorin/internal/codexruntime"
)

// ProviderOptions are the flags of `pretorin agent mcp-add`.
type ProviderOptions struct {
	Name       string
	Transport  string
	Command    string
	Args       []string
	Env        []string
	URL        string
	Scope      string
	ProjectDir string
}

func AddProvider(app *App, opts ProviderOptions) error {
	env, err := parseEnvPairs(opts.Env)
	if err != nil {
		return err
	}
	provider := codexruntime.CapabilityProvider{
		Name:      strings.TrimSpace(opts.Name),
		Transport: codexruntime.Transport(opts.Transport),
		Command:   opts.Command,
		Args:      opts.Args,
		Env:       env,
		URL:       opts.URL,
	}
	path, err := app.Registry.Add(provider, codexruntime.Scope(opts.Scope), opts.ProjectDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Added tool server %q to %s\n", provider.Name, path)
	return nil
}

func RemoveProvider(app *App, name, projectDir string) error {
	touched, err := app.Registry.Remove(name, projectDir)
	if err != nil {
		return err
	}
	if len(touched) == 0 {
		return fmt.Errorf("no tool server named %q is registered", name)
	}
	for _, path := range touched {
		fmt.Fprintf(app.Out, "Removed %q from %s\n", name, path)
	}
	return nil
}

// ListProviders prints the merged registry. Unreadable files are reported
// but do not hide the entries that did load.
func ListProviders(app *App, projectDir string, jsonMode bool) error {
	providers, loadErr := app.Registry.Load(projectDir)

	if jsonMode {
		if providers == nil {
			providers = []codexruntime.CapabilityProvider{}
		}
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(providers); err != nil {
			return err
		}
		return loadErr
	}

	fmt.Fprintf(app.Out, "%s %s\n", labelStyle.Render(codexruntime.ReservedProviderName), mutedStyle.Render("(built-in)"))
	for _, p := range providers {
		target := p.URL
		if p.Transport != codexruntime.TransportHTTP {
			target = strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
		}
		fmt.Fprintf(app.Out, "%s %s %s\n", labelStyle.Render(p.Name), valueStyle.Render(target), mutedStyle.Render(p.Source))
		if len(p.Env) > 0 {
			fmt.Fprintf(app.Out, "    env: %s\n", strings.Join(sortedKeys(p.Env), ", "))
		}
	}
	if loadErr != nil {
		fmt.Fprintln(app.Err, warnStyle.Render("warning: ")+loadErr.Error())
	}
	return nil
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
