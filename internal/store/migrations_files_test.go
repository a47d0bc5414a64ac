package store

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := upMigrations(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrationFiles, down)
		require.NoErrorf(t, err, "missing down migration for %s", up)
	}
}

func TestInitMigrationDeclaresMembershipKey(t *testing.T) {
	contents, err := fs.ReadFile(migrationFiles, "migrations/0001_init.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(contents), "PRIMARY KEY (channel_id, user_id)")
	require.Contains(t, string(contents), "name TEXT NOT NULL UNIQUE")
}
