package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Stored setting keys in config.json.
const (
	KeyAPIKey          = "api_key"
	KeyAPIBaseURL      = "api_base_url"
	KeyModel           = "model"
	KeyModelAPIBaseURL = "model_api_base_url"
	KeyLLMAPIKey       = "llm_api_key"
)

var knownKeys = map[string]bool{
	KeyAPIKey:          true,
	KeyAPIBaseURL:      true,
	KeyModel:           true,
	KeyModelAPIBaseURL: true,
	KeyLLMAPIKey:       true,
}

// secretKeys are masked when listed.
var secretKeys = map[string]bool{
	KeyAPIKey:    true,
	KeyLLMAPIKey: true,
}

// Settings is the stored application configuration. It only reflects what is
// written in config.json; environment variables are layered on by callers.
type Settings struct {
	path string
	v    *viper.Viper
}

// LoadSettings reads config.json from the application home.
func LoadSettings() (*Settings, error) {
	path, err := GetConfigFile()
	if err != nil {
		return nil, err
	}
	return LoadSettingsFrom(path)
}

// LoadSettingsFrom reads settings from an explicit file. A missing file yields
// empty settings.
func LoadSettingsFrom(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	return &Settings{path: path, v: v}, nil
}

func (s *Settings) Path() string { return s.path }

// Get returns a stored value and whether it was present and non-empty.
func (s *Settings) Get(key string) (string, bool) {
	key = normalizeKey(key)
	if !s.v.IsSet(key) {
		return "", false
	}
	value := strings.TrimSpace(s.v.GetString(key))
	return value, value != ""
}

// Set stores a value and writes the file.
func (s *Settings) Set(key, value string) error {
	key = normalizeKey(key)
	if !knownKeys[key] {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(KnownKeys(), ", "))
	}
	s.v.Set(key, strings.TrimSpace(value))
	return s.save()
}

// Delete removes a key. It reports whether the key existed.
func (s *Settings) Delete(key string) (bool, error) {
	key = normalizeKey(key)
	all := s.v.AllSettings()
	if _, ok := all[key]; !ok {
		return false, nil
	}
	delete(all, key)

	// viper cannot unset a key, so rebuild from the remaining values.
	fresh := viper.New()
	fresh.SetConfigFile(s.path)
	fresh.SetConfigType("json")
	for k, v := range all {
		fresh.Set(k, v)
	}
	s.v = fresh
	return true, s.save()
}

// Entries returns stored values sorted by key; secret values are masked.
func (s *Settings) Entries() [][2]string {
	all := s.v.AllSettings()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([][2]string, 0, len(keys))
	for _, k := range keys {
		value := fmt.Sprint(all[k])
		if secretKeys[k] {
			value = MaskSecret(value)
		}
		entries = append(entries, [2]string{k, value})
	}
	return entries
}

func (s *Settings) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write config %s: %w", s.path, err)
	}
	// The file may hold API keys.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("restrict config permissions: %w", err)
	}
	return nil
}

// KnownKeys lists the keys accepted by Set.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecret keeps a short prefix and the last four characters.
func MaskSecret(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:3] + "..." + value[len(value)-4:]
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
