package credentials

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zalando/go-keyring"
)

// ModelKeyName is the keyring entry holding the model credential handed to
// the managed runtime. It doubles as the environment variable name.
const ModelKeyName = "PRETORIN_LLM_API_KEY"

// ErrNotFound indicates that a requested secret was not found in the keyring.
var ErrNotFound = errors.New("secret not found")

var secretNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Keyring is the system keyring scoped to one service.
type Keyring struct {
	Service string
}

// System is the keyring every pretorin command reads and writes.
var System = Keyring{Service: "pretorin"}

// ModelKey returns the stored model credential.
func (k Keyring) ModelKey() (string, error) {
	return k.Lookup(ModelKeyName)
}

// SetModelKey stores the model credential.
func (k Keyring) SetModelKey(value string) error {
	return k.Store(ModelKeyName, value)
}

// Lookup returns the trimmed secret. A blank entry counts as missing.
func (k Keyring) Lookup(name string) (string, error) {
	value, err := keyring.Get(k.Service, name)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("read %s from keyring: %w", name, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

func (k Keyring) Store(name, value string) error {
	if !secretNamePattern.MatchString(name) {
		return fmt.Errorf("secret name %q must be a letter or underscore followed by letters, digits, '_', '.' or '-'", name)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("secret %s cannot be empty", name)
	}
	if err := keyring.Set(k.Service, name, value); err != nil {
		return fmt.Errorf("store %s in keyring: %w", name, err)
	}
	return nil
}

func (k Keyring) Remove(name string) error {
	err := keyring.Delete(k.Service, name)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("delete %s from keyring: %w", name, err)
	}
	return nil
}

// Exists reports whether name holds a non-blank secret.
func (k Keyring) Exists(name string) (bool, error) {
	_, err := k.Lookup(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
