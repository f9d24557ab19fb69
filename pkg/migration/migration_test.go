package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	version, name, direction, err := parseFilename("0002_agent_sessions.up.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, "agent_sessions", name)
	assert.Equal(t, "up", direction)

	for _, bad := range []string{"0002.up.sql", "x_name.up.sql", "0001_name.sideways.sql", "0001_name.sql"} {
		_, _, _, err := parseFilename(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadOrdersEmbeddedMigrations(t *testing.T) {
	migrations, err := Load()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestOpenDatabaseMigratesOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "pretorin.db")

	database, err := OpenDatabase(ctx, path)
	require.NoError(t, err)

	runner := NewRunner(database.Write)
	status, err := runner.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Latest, status.Current)
	assert.False(t, status.Dirty)
	assert.Zero(t, status.Pending())

	var tables int
	require.NoError(t, database.Read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('secrets', 'agent_sessions')`).Scan(&tables))
	assert.Equal(t, 2, tables)
	require.NoError(t, database.Close())

	// Reopening is a no-op for the schema.
	database, err = OpenDatabase(ctx, path)
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, NewRunner(database.Write).Run(ctx))
}
