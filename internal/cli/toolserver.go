package cli

import (
	"context"
	"errors"

	"pretorin/internal/codexruntime"
)

// ErrToolServerUnavailable is returned when the runtime starts the built-in
// tool server, which this build does not ship.
var ErrToolServerUnavailable = errors.New("the pretorin tool server is not available in this build")

// ServeTools is the entry point the runtime spawns for the built-in tool
// server.
func ServeTools(_ context.Context, app *App) error {
	app.Logger.Warn("built-in tool server requested", "command", codexruntime.ToolServerCommand, "error", ErrToolServerUnavailable)
	return ErrToolServerUnavailable
}
