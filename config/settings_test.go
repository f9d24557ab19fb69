package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsMissingFileIsEmpty(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	_, ok := s.Get(KeyModel)
	assert.False(t, ok)
	assert.Empty(t, s.Entries())
}

func TestSettingsSetPersistsWithRestrictedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyModel, " gpt-4o-mini "))
	require.NoError(t, s.Set(KeyLLMAPIKey, "sk-test-1234567890"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	model, ok := reloaded.Get(KeyModel)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", model)

	entries := reloaded.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, [2]string{KeyLLMAPIKey, "sk-...7890"}, entries[0])
}

func TestSettingsRejectsUnknownKey(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Error(t, s.Set("favourite_colour", "blue"))
}

func TestSettingsDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyModel, "gpt-4o"))
	require.NoError(t, s.Set(KeyAPIBaseURL, "https://example.com"))

	existed, err := s.Delete(KeyModel)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(KeyModel)
	require.NoError(t, err)
	assert.False(t, existed)

	reloaded, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	_, ok := reloaded.Get(KeyModel)
	assert.False(t, ok)
	base, ok := reloaded.Get(KeyAPIBaseURL)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com", base)
}

func TestHomeDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	home, err := GetHomeDir()
	require.NoError(t, err)
	assert.Equal(t, dir, home)

	bin, err := GetBinDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bin"), bin)
	assert.DirExists(t, bin)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "sk-...wxyz", MaskSecret("sk-abcdefghwxyz"))
}
