package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pretorin/config"
	"pretorin/internal/agent"
	"pretorin/internal/codexruntime"
	"pretorin/internal/credentials"
	"pretorin/pkg/db"
	"pretorin/pkg/migration"
)

// App wires every component from the application home. Command bodies take
// an App instead of reaching for globals.
type App struct {
	Home      string
	Settings  *config.Settings
	Cache     *codexruntime.Cache
	Isolation *codexruntime.Isolation
	Registry  *codexruntime.Registry
	Resolver  *agent.Resolver
	Logger    *slog.Logger
	Out       io.Writer
	Err       io.Writer
	Verbose   bool

	dbPath   string
	database *db.DB
}

type Options struct {
	Out     io.Writer
	Err     io.Writer
	Logger  *slog.Logger
	Verbose bool
	// HTTPClient downloads runtime releases; nil uses a default client.
	HTTPClient *http.Client
}

func NewApp(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out, errOut := opts.Out, opts.Err
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	home, err := config.GetHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve application home: %w", err)
	}
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	binDir, err := config.GetBinDir()
	if err != nil {
		return nil, fmt.Errorf("create binary cache: %w", err)
	}
	stagingDir, err := config.GetStagingDir()
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	runtimeHome, err := config.GetRuntimeHome()
	if err != nil {
		return nil, fmt.Errorf("create runtime home: %w", err)
	}
	registryPath, err := config.GetRegistryFile()
	if err != nil {
		return nil, err
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, err
	}

	self, err := selfCommand()
	if err != nil {
		return nil, err
	}

	registry := codexruntime.NewRegistry(registryPath)
	return &App{
		Home:     home,
		Settings: settings,
		Cache: codexruntime.NewCache(codexruntime.CacheConfig{
			Dir:     binDir,
			Release: codexruntime.PinnedRelease(),
			Fetcher: codexruntime.NewFetcher(stagingDir, opts.HTTPClient, logger),
			Logger:  logger,
		}),
		Isolation: &codexruntime.Isolation{
			Home:        runtimeHome,
			SelfCommand: self,
			Registry:    registry,
			Logger:      logger.With("component", "isolation"),
		},
		Registry: registry,
		Resolver: agent.NewResolver(settings),
		Logger:   logger,
		Out:      out,
		Err:      errOut,
		Verbose:  opts.Verbose,
		dbPath:   dbPath,
	}, nil
}

// Database opens and migrates the data store on first use.
func (a *App) Database(ctx context.Context) (*db.DB, error) {
	if a.database != nil {
		return a.database, nil
	}
	database, err := migration.OpenDatabase(ctx, a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	a.database = database
	return database, nil
}

func (a *App) DatabasePath() string { return a.dbPath }

// Secrets returns the keyring-backed secret store.
func (a *App) Secrets(ctx context.Context) (*credentials.Store, error) {
	database, err := a.Database(ctx)
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(database), nil
}

// History returns the session history store.
func (a *App) History(ctx context.Context) (*agent.History, error) {
	database, err := a.Database(ctx)
	if err != nil {
		return nil, err
	}
	return agent.NewHistory(database), nil
}

// Runner builds a session runner. History is recorded when the data store
// can be opened; a broken store does not block sessions.
func (a *App) Runner(ctx context.Context) *agent.Runner {
	cfg := agent.RunnerConfig{
		Cache:     a.Cache,
		Isolation: a.Isolation,
		Resolver:  a.Resolver,
		Logger:    a.Logger,
		StopGrace: 5 * time.Second,
		ExitGrace: 10 * time.Second,
	}
	if database, err := a.Database(ctx); err != nil {
		a.Logger.Warn("session history disabled", "error", err)
	} else {
		cfg.History = agent.NewHistory(database)
	}
	return agent.NewRunner(cfg)
}

func (a *App) Close() error {
	if a.database == nil {
		return nil
	}
	err := a.database.Close()
	a.database = nil
	return err
}

// selfCommand is the absolute path the runtime uses to launch this binary
// as its built-in tool server.
func selfCommand() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Abs(exe)
}
