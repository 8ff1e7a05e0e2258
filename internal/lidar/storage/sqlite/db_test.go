package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "experiments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n > 0
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	for _, table := range []string{"experiment", "frame_result", "scanline", "schema_migrations"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	st, err := db.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.LatestVersion)
	assert.Equal(t, uint(2), st.CurrentVersion)
	assert.False(t, st.Dirty)
	assert.False(t, st.Pending())

	// Idempotent.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDownAndUp(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateDown())
	assert.False(t, tableExists(t, db, "scanline"))
	assert.True(t, tableExists(t, db, "frame_result"))

	st, err := db.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(1), st.CurrentVersion)
	assert.True(t, st.Pending())

	require.NoError(t, db.MigrateUp())
	assert.True(t, tableExists(t, db, "scanline"))
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := latestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}
