package cli

import (
	"context"
	"fmt"
)

// InstallRuntime ensures the pinned runtime binary is in the cache.
func InstallRuntime(ctx context.Context, app *App) error {
	version := app.Cache.PinnedVersion()
	if app.Cache.IsInstalled(version) {
		fmt.Fprintf(app.Out, "Runtime %s already installed at %s\n", version, app.Cache.BinaryPath(version))
		return nil
	}

	platform, err := app.Cache.Platform()
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Err, "Downloading runtime %s for %s...\n", version, platform)

	path, err := app.Runner(ctx).Install(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, successStyle.Render("✓")+" Installed "+valueStyle.Render(version)+" at "+path)
	return nil
}

// CleanupRuntime removes cached binaries other than the pinned version.
func CleanupRuntime(app *App, dryRun bool) error {
	if dryRun {
		stale, err := app.Cache.ListStaleVersions()
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			fmt.Fprintln(app.Out, "No stale runtime versions")
			return nil
		}
		for _, b := range stale {
			fmt.Fprintf(app.Out, "would remove %s (%s)\n", b.Version, b.Path)
		}
		return nil
	}

	removed, err := app.Cache.RemoveStaleVersions()
	for _, path := range removed {
		fmt.Fprintf(app.Out, "removed %s\n", path)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(app.Out, "No stale runtime versions")
	}
	return nil
}
