package cli

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretorin/internal/codexruntime"
)

func TestProviderLifecycle(t *testing.T) {
	app := newTestApp(t)
	project := t.TempDir()

	require.NoError(t, AddProvider(app.App, ProviderOptions{
		Name:    "github",
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-github"},
		Env:     []string{"GITHUB_TOKEN=abc"},
		Scope:   string(codexruntime.ScopeGlobal),
	}))
	require.NoError(t, AddProvider(app.App, ProviderOptions{
		Name:       "docs",
		Transport:  string(codexruntime.TransportHTTP),
		URL:        "http://localhost:9000/mcp",
		Scope:      string(codexruntime.ScopeProject),
		ProjectDir: project,
	}))

	app.out.Reset()
	require.NoError(t, ListProviders(app.App, project, true))
	var listed []codexruntime.CapabilityProvider
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &listed))
	require.Len(t, listed, 2)

	byName := map[string]codexruntime.CapabilityProvider{}
	for _, p := range listed {
		byName[p.Name] = p
	}
	assert.Equal(t, map[string]string{"GITHUB_TOKEN": "abc"}, byName["github"].Env)
	assert.Equal(t, "http://localhost:9000/mcp", byName["docs"].URL)

	app.out.Reset()
	require.NoError(t, ListProviders(app.App, project, false))
	assert.Contains(t, app.out.String(), codexruntime.ReservedProviderName)
	assert.Contains(t, app.out.String(), "env: GITHUB_TOKEN")

	require.NoError(t, RemoveProvider(app.App, "github", project))
	require.Error(t, RemoveProvider(app.App, "github", project))
}

func TestAddProviderRejectsInvalidInput(t *testing.T) {
	app := newTestApp(t)

	err := AddProvider(app.App, ProviderOptions{Name: "x", Command: "run", Env: []string{"NOVALUE"}, Scope: "global"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY=VALUE")

	err = AddProvider(app.App, ProviderOptions{Name: codexruntime.ReservedProviderName, Command: "run", Scope: "global"})
	require.Error(t, err)

	err = AddProvider(app.App, ProviderOptions{Name: "remote", Transport: "http", Scope: "global"})
	require.Error(t, err)
}

func TestListProvidersEmptyJSON(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, ListProviders(app.App, "", true))
	assert.JSONEq(t, "[]", app.out.String())
}

func TestParseEnvPairs(t *testing.T) {
	env, err := parseEnvPairs([]string{"A=1", "B=x=y", "C="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, env)

	env, err = parseEnvPairs(nil)
	require.NoError(t, err)
	assert.Nil(t, env)

	_, err = parseEnvPairs([]string{"=v"})
	require.Error(t, err)
}

func TestRunAgentNoMCPWritesOnlyBuiltinServer(t *testing.T) {
	app := newTestApp(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	app.installRuntime(t, echo(`{"type":"turn.completed"}`))
	require.NoError(t, AddProvider(app.App, ProviderOptions{
		Name:    "github",
		Command: "github-mcp",
		Scope:   string(codexruntime.ScopeGlobal),
	}))

	code, err := RunAgent(context.Background(), app.App, RunOptions{
		Task:       "no tools",
		WorkingDir: t.TempDir(),
		JSON:       true,
		NoMCP:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	data, err := os.ReadFile(app.Isolation.ConfigPath())
	require.NoError(t, err)
	var doc struct {
		MCPServers map[string]any `toml:"mcp_servers"`
	}
	require.NoError(t, toml.Unmarshal(data, &doc))
	assert.Len(t, doc.MCPServers, 1)
	assert.Contains(t, doc.MCPServers, codexruntime.ReservedProviderName)
}

func TestServeToolsIsUnavailable(t *testing.T) {
	app := newTestApp(t)
	err := ServeTools(context.Background(), app.App)
	require.ErrorIs(t, err, ErrToolServerUnavailable)
	assert.Contains(t, err.Error(), "not available")
}
