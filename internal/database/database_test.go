package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.db")

	db, err := New(path, ServerSchema, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening must not re-run or fail
	db, err = New(path, ServerSchema, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var versions int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE schema = 'server'`).Scan(&versions))
	assert.Equal(t, len(ServerSchema.Migrations), versions)
}

func TestActiveUniqueIndex(t *testing.T) {
	db, err := New(":memory:", ServerSchema, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO time_entries (id, employee_id, project_id, task_id, start_time, end_time, is_active, created_at, updated_at)
		VALUES (?, 'e1', 'p1', 't1', 0, ?, ?, 0, 0)`

	_, err = db.Exec(insert, "a", nil, 1)
	require.NoError(t, err)
	_, err = db.Exec(insert, "b", nil, 1)
	assert.Error(t, err, "second active row for the same employee must be rejected")

	_, err = db.Exec(insert, "c", 10, 0)
	assert.NoError(t, err, "stopped rows are unconstrained")
}

func TestActiveRowCannotHaveEndTime(t *testing.T) {
	db, err := New(":memory:", ServerSchema, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO time_entries (id, employee_id, project_id, task_id, start_time, end_time, is_active, created_at, updated_at)
		VALUES ('x', 'e1', 'p1', 't1', 0, 5, 1, 0, 0)`)
	assert.Error(t, err)
}

func TestAgentSchema(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "agent.db"), AgentSchema, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO cache_entries (key, value, updated_at) VALUES ('k', 'v', 1)`)
	assert.NoError(t, err)
}
