package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pretorin/pkg/db"
)

var errEmptySecretName = errors.New("secret name cannot be empty")

// Store pairs the keyring with a registry of which secret names were stored,
// since keyrings cannot be enumerated portably.
type Store struct {
	db   *db.DB
	keys Keyring
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database, keys: System}
}

// Set writes the secret to the keyring and records its name.
func (s *Store) Set(ctx context.Context, name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errEmptySecretName
	}
	if err := s.keys.Store(name, value); err != nil {
		return err
	}
	return s.register(ctx, name)
}

// Delete removes the secret from the keyring and the registry. A secret that
// is already gone from the keyring is still unregistered.
func (s *Store) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errEmptySecretName
	}
	keyErr := s.keys.Remove(name)
	if keyErr != nil && !errors.Is(keyErr, ErrNotFound) {
		return keyErr
	}
	if _, err := s.db.Write.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("unregister secret %q: %w", name, err)
	}
	return keyErr
}

func (s *Store) register(ctx context.Context, name string) error {
	now := time.Now().Unix()
	_, err := s.db.Write.ExecContext(ctx,
		`INSERT INTO secrets(name, created_at, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = ?`,
		name, now, now, now)
	if err != nil {
		return fmt.Errorf("register secret %q: %w", name, err)
	}
	return nil
}

// List returns registered secret names. The model credential is included
// when it sits in the keyring without having been registered here.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Read.QueryContext(ctx, `SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, existing := range names {
		if existing == ModelKeyName {
			return names, nil
		}
	}
	exists, err := s.keys.Exists(ModelKeyName)
	if err != nil {
		return nil, err
	}
	if exists {
		names = append(names, ModelKeyName)
		sort.Strings(names)
	}
	return names, nil
}
