package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"pretorin/config"
)

func ConfigGet(app *App, key string) error {
	value, ok := app.Settings.Get(key)
	if !ok {
		return fmt.Errorf("%s is not set", key)
	}
	fmt.Fprintln(app.Out, value)
	return nil
}

func ConfigSet(app *App, key, value string) error {
	if err := app.Settings.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Set %s in %s\n", strings.ToLower(strings.TrimSpace(key)), app.Settings.Path())
	return nil
}

func ConfigDelete(app *App, key string) error {
	removed, err := app.Settings.Delete(key)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(app.Out, "%s was not set\n", key)
		return nil
	}
	fmt.Fprintf(app.Out, "Removed %s\n", key)
	return nil
}

// ConfigList prints stored settings with secrets masked.
func ConfigList(app *App, jsonMode bool) error {
	entries := app.Settings.Entries()
	if jsonMode {
		values := make(map[string]string, len(entries))
		for _, e := range entries {
			values[e[0]] = e[1]
		}
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(values)
	}

	if len(entries) == 0 {
		fmt.Fprintf(app.Out, "No settings stored in %s\n", app.Settings.Path())
		fmt.Fprintf(app.Out, "Known keys: %s\n", strings.Join(config.KnownKeys(), ", "))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(app.Out, "%s = %s\n", labelStyle.Render(e[0]), e[1])
	}
	return nil
}
