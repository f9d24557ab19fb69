package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"pretorin/internal/credentials"
)

// SetSecret stores a secret in the keyring, prompting when value is empty.
func SetSecret(ctx context.Context, app *App, name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secret name cannot be empty")
	}
	secret, err := ensureSecretInput(app.Err, value, fmt.Sprintf("Enter value for %s: ", name))
	if err != nil {
		return err
	}
	store, err := app.Secrets(ctx)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, name, secret); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Stored secret %q in the system keyring\n", name)
	return nil
}

// SetModelKey stores the model credential used for agent sessions.
func SetModelKey(ctx context.Context, app *App, value string) error {
	return SetSecret(ctx, app, credentials.ModelKeyName, value)
}

func DeleteSecret(ctx context.Context, app *App, name string) error {
	store, err := app.Secrets(ctx)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, name); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return fmt.Errorf("no secret named %q is stored", strings.TrimSpace(name))
		}
		return err
	}
	fmt.Fprintf(app.Out, "Removed secret %q from the system keyring\n", strings.TrimSpace(name))
	return nil
}

// SecretStatus reports whether the named secret exists in the keyring.
func SecretStatus(app *App, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secret name cannot be empty")
	}
	exists, err := credentials.System.Exists(name)
	if err != nil {
		return err
	}
	if exists {
		fmt.Fprintf(app.Out, "Secret %q is stored in the system keyring\n", name)
	} else {
		fmt.Fprintf(app.Out, "Secret %q is not stored\n", name)
	}
	return nil
}

func ListSecrets(ctx context.Context, app *App) error {
	store, err := app.Secrets(ctx)
	if err != nil {
		return err
	}
	names, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(app.Out, "No secrets have been registered yet")
		return nil
	}
	for _, name := range names {
		label := name
		if name == credentials.ModelKeyName {
			label += mutedStyle.Render(" (model credential)")
		}
		fmt.Fprintln(app.Out, label)
	}
	return nil
}

func ensureSecretInput(prompt io.Writer, raw, message string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		return trimmed, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no value given and stdin is not a terminal")
	}

	fmt.Fprint(prompt, message)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	trimmed = strings.TrimSpace(string(bytes))
	if trimmed == "" {
		return "", errors.New("secret value cannot be empty")
	}
	return trimmed, nil
}
