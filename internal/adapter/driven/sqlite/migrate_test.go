package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.Equal(t, uint(1), db.SchemaVersion())

	version, err := RunMigrations(db.Writer)

	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.Reader.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'session_mirror'`,
	).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRunMigrations_RefusesDirtySchema(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Writer.Exec(`UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)

	_, err = RunMigrations(db.Writer)

	require.ErrorIs(t, err, ErrDirtySchema)
	assert.Contains(t, err.Error(), "version 1")
}
