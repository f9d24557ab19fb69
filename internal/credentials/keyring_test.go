package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringModelKey(t *testing.T) {
	keyring.MockInit()
	k := Keyring{Service: "pretorin-test"}

	_, err := k.ModelKey()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, k.SetModelKey("  sk-live  "))
	key, err := k.ModelKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-live", key)

	ok, err := k.Exists(ModelKeyName)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, k.Remove(ModelKeyName))
	assert.ErrorIs(t, k.Remove(ModelKeyName), ErrNotFound)
	ok, err = k.Exists(ModelKeyName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyringServicesAreIsolated(t *testing.T) {
	keyring.MockInit()
	a := Keyring{Service: "pretorin-a"}
	b := Keyring{Service: "pretorin-b"}

	require.NoError(t, a.SetModelKey("sk-a"))
	_, err := b.ModelKey()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyringBlankEntryIsMissing(t *testing.T) {
	keyring.MockInit()
	k := Keyring{Service: "pretorin-test"}
	require.NoError(t, keyring.Set(k.Service, ModelKeyName, "   "))

	_, err := k.ModelKey()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyringStoreValidatesInput(t *testing.T) {
	keyring.MockInit()
	k := Keyring{Service: "pretorin-test"}

	assert.ErrorContains(t, k.Store("1BAD", "v"), "secret name")
	assert.ErrorContains(t, k.Store("has space", "v"), "secret name")
	assert.ErrorContains(t, k.Store("GOOD_NAME", "  "), "cannot be empty")
	require.NoError(t, k.Store("github.token-2", "v"))
}
