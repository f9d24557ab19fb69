package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretorin/config"
	"pretorin/internal/agent"
	"pretorin/internal/credentials"
)

func TestConfigCommands(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, ConfigSet(app.App, "model", "gpt-5-codex"))
	require.NoError(t, ConfigSet(app.App, config.KeyLLMAPIKey, "sk-abcdefghijkl"))

	app.out.Reset()
	require.NoError(t, ConfigGet(app.App, "model"))
	assert.Equal(t, "gpt-5-codex\n", app.out.String())

	app.out.Reset()
	require.NoError(t, ConfigList(app.App, true))
	var listed map[string]string
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &listed))
	assert.Equal(t, "gpt-5-codex", listed["model"])
	assert.Equal(t, "sk-...ijkl", listed[config.KeyLLMAPIKey])

	require.NoError(t, ConfigDelete(app.App, "model"))
	require.Error(t, ConfigGet(app.App, "model"))

	require.Error(t, ConfigSet(app.App, "colour", "blue"))
}

func TestConfigModelFeedsResolver(t *testing.T) {
	app := newTestApp(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	require.NoError(t, ConfigSet(app.App, "model", "o4-mini"))
	params, err := app.Resolver.Resolve(agent.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "o4-mini", params.Model.Value)
}

func TestSecretCommands(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, SetModelKey(ctx, app.App, "sk-from-keyring"))
	value, err := credentials.System.ModelKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-keyring", value)

	app.out.Reset()
	require.NoError(t, ListSecrets(ctx, app.App))
	assert.Contains(t, app.out.String(), credentials.ModelKeyName)

	app.out.Reset()
	require.NoError(t, SecretStatus(app.App, credentials.ModelKeyName))
	assert.Contains(t, app.out.String(), "is stored")

	require.NoError(t, DeleteSecret(ctx, app.App, credentials.ModelKeyName))
	err = DeleteSecret(ctx, app.App, credentials.ModelKeyName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no secret named")
}
