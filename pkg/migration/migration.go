package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pretorin/pkg/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Status describes the schema of an opened database.
type Status struct {
	Current int
	Latest  int
	Dirty   bool
}

func (s Status) Pending() int {
	if s.Latest > s.Current {
		return s.Latest - s.Current
	}
	return 0
}

type Runner struct {
	db *sql.DB
}

func NewRunner(conn *sql.DB) *Runner {
	return &Runner{db: conn}
}

// Run applies every migration newer than the recorded version.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ensureSchemaTable(ctx); err != nil {
		return fmt.Errorf("create schema table: %w", err)
	}

	migrations, err := Load()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	current, dirty, err := r.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty, manual intervention required", current)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Status reports the recorded and latest embedded versions.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	if err := r.ensureSchemaTable(ctx); err != nil {
		return Status{}, err
	}
	migrations, err := Load()
	if err != nil {
		return Status{}, err
	}
	current, dirty, err := r.currentVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{Current: current, Dirty: dirty}
	if len(migrations) > 0 {
		status.Latest = migrations[len(migrations)-1].Version
	}
	return status, nil
}

func (r *Runner) ensureSchemaTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty BOOLEAN NOT NULL DEFAULT FALSE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Load returns the embedded migrations that have an up script, by version.
func Load() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, direction, err := parseFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		content, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.UpSQL = string(content)
		} else {
			m.DownSQL = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseFilename splits "0002_agent_sessions.up.sql" into its parts.
func parseFilename(filename string) (version int, name, direction string, err error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".sql"), ".")
	if len(parts) != 2 {
		return 0, "", "", errors.New("expected <version>_<name>.<up|down>.sql")
	}

	direction = parts[1]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("invalid direction %q", direction)
	}

	versionPart, name, found := strings.Cut(parts[0], "_")
	if !found || name == "" {
		return 0, "", "", errors.New("missing migration name")
	}
	version, err = strconv.Atoi(versionPart)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid version: %w", err)
	}
	return version, name, direction, nil
}

func (r *Runner) currentVersion(ctx context.Context) (version int, dirty bool, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT version, dirty
		FROM schema_migrations
		ORDER BY version DESC
		LIMIT 1
	`)

	err = row.Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, TRUE)`, m.Version); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_migrations SET dirty = FALSE WHERE version = ?`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// OpenDatabase opens the sqlite file at path and brings its schema up to date.
func OpenDatabase(ctx context.Context, path string) (*db.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := NewRunner(database.Write).Run(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return database, nil
}
