package codexruntime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLoadProjectTakesPrecedence(t *testing.T) {
	root := t.TempDir()
	project := t.TempDir()
	reg := NewRegistry(filepath.Join(root, "mcp.json"))

	require.NoError(t, os.WriteFile(reg.GlobalPath, []byte(`{
  // shared across projects
  "servers": [
    {"name": "jira", "command": "jira-global"},
    {"name": "slack", "transport": "http", "url": "https://slack.example.com/mcp"},
  ]
}`), 0o644))
	require.NoError(t, os.WriteFile(ProjectPath(project), []byte(`{
  "servers": [{"name": "jira", "command": "jira-project", "args": ["--verbose"]}]
}`), 0o644))

	providers, err := reg.Load(project)
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, "jira", providers[0].Name)
	assert.Equal(t, "jira-project", providers[0].Command)
	assert.Equal(t, ProjectPath(project), providers[0].Source)

	assert.Equal(t, "slack", providers[1].Name)
	assert.Equal(t, TransportHTTP, providers[1].Transport)
}

func TestRegistryLoadMissingFiles(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))
	providers, err := reg.Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestRegistryLoadSkipsInvalidEntries(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))
	require.NoError(t, os.WriteFile(reg.GlobalPath, []byte(`{"servers": [
  {"name": "pretorin", "command": "shadow"},
  {"name": "nocommand"},
  {"name": "web", "transport": "http"},
  {"name": "ok", "command": "ok-mcp"}
]}`), 0o644))

	providers, err := reg.Load("")
	require.Error(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "ok", providers[0].Name)
}

func TestRegistryLoadRejectsSchemaViolations(t *testing.T) {
	project := t.TempDir()
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))
	require.NoError(t, os.WriteFile(ProjectPath(project), []byte(`{"servers": [{"name": "x", "transport": "carrier-pigeon"}]}`), 0o644))
	require.NoError(t, os.WriteFile(reg.GlobalPath, []byte(`{"servers": [{"name": "ok", "command": "ok-mcp"}]}`), 0o644))

	providers, err := reg.Load(project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid registry")
	require.Len(t, providers, 1)
	assert.Equal(t, "ok", providers[0].Name)
}

func TestRegistryAddReplacesByName(t *testing.T) {
	project := t.TempDir()
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))

	path, err := reg.Add(CapabilityProvider{Name: "jira", Command: "v1"}, ScopeProject, project)
	require.NoError(t, err)
	assert.Equal(t, ProjectPath(project), path)

	_, err = reg.Add(CapabilityProvider{Name: "jira", Command: "v2"}, ScopeProject, project)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file registryFile
	require.NoError(t, json.Unmarshal(data, &file))
	require.Len(t, file.Servers, 1)
	assert.Equal(t, "v2", file.Servers[0].Command)
	assert.Equal(t, TransportStdio, file.Servers[0].Transport)
}

func TestRegistryAddValidates(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))

	_, err := reg.Add(CapabilityProvider{Name: ReservedProviderName, Command: "x"}, ScopeGlobal, "")
	assert.Error(t, err)
	_, err = reg.Add(CapabilityProvider{Name: "web", Transport: TransportHTTP}, ScopeGlobal, "")
	assert.Error(t, err)
	_, err = reg.Add(CapabilityProvider{Name: "bad name", Command: "x"}, ScopeGlobal, "")
	assert.Error(t, err)
	_, err = reg.Add(CapabilityProvider{Name: "x", Command: "x"}, ScopeProject, "")
	assert.Error(t, err)

	assert.NoFileExists(t, reg.GlobalPath)
}

func TestRegistryRemoveFromBothScopes(t *testing.T) {
	project := t.TempDir()
	reg := NewRegistry(filepath.Join(t.TempDir(), "mcp.json"))

	_, err := reg.Add(CapabilityProvider{Name: "jira", Command: "a"}, ScopeProject, project)
	require.NoError(t, err)
	_, err = reg.Add(CapabilityProvider{Name: "jira", Command: "b"}, ScopeGlobal, "")
	require.NoError(t, err)
	_, err = reg.Add(CapabilityProvider{Name: "slack", Command: "c"}, ScopeGlobal, "")
	require.NoError(t, err)

	touched, err := reg.Remove("jira", project)
	require.NoError(t, err)
	assert.Equal(t, []string{ProjectPath(project), reg.GlobalPath}, touched)

	providers, err := reg.Load(project)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "slack", providers[0].Name)

	touched, err = reg.Remove("jira", project)
	require.NoError(t, err)
	assert.Empty(t, touched)
}
