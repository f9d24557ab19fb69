package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"pretorin/pkg/migration"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()

	database, err := migration.OpenDatabase(context.Background(), filepath.Join(t.TempDir(), "pretorin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestStoreSetRegistersName(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "GITHUB_TOKEN", "  ghp_secret  "))

	value, err := System.Lookup("GITHUB_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", value)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GITHUB_TOKEN"}, names)

	// Setting again updates in place.
	require.NoError(t, store.Set(ctx, "GITHUB_TOKEN", "ghp_rotated"))
	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestStoreRejectsEmpty(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Set(ctx, "  ", "value"), errEmptySecretName)
	assert.Error(t, store.Set(ctx, "NAME", "   "))
}

func TestStoreDelete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "A", "1"))
	require.NoError(t, store.Delete(ctx, "A"))

	_, err := System.Lookup("A")
	assert.True(t, errors.Is(err, ErrNotFound))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, store.Delete(ctx, "A"), ErrNotFound)
}

func TestStoreListIncludesUnregisteredModelKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, System.SetModelKey("sk-test"))
	require.NoError(t, store.Set(ctx, "ZED", "z"))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ModelKeyName, "ZED"}, names)

	ok, err := System.Exists(ModelKeyName)
	require.NoError(t, err)
	assert.True(t, ok)
}
