package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/psytest-backend/internal/database"
	"github.com/stemsi/psytest-backend/internal/model"
	"github.com/stemsi/psytest-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSQLite(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psytest.db")
	db, err := database.OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	store, err := repository.NewSQLiteStore(db)
	require.NoError(t, err)

	id := uuid.NewString()
	s := model.NewSession(id, "user-7", model.UserInfo{Name: "Budi", Email: "budi@example.com", Domain: "finance"}, time.Now())
	require.NoError(t, store.Create(context.Background(), s))
	return path, id
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	path, id := seedSQLite(t)

	out, err := run(t, "--store", "sqlite", "--sqlite-path", path, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, "session_id: "+id)
	assert.Contains(t, out, "status: created")
	assert.Contains(t, out, "user_id: user-7")
}

func TestListCommandFiltersByStatus(t *testing.T) {
	path, id := seedSQLite(t)

	out, err := run(t, "--store", "sqlite", "--sqlite-path", path, "list", "--status", "created")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, "--store", "sqlite", "--sqlite-path", path, "list", "--status", "completed")
	require.NoError(t, err)
	assert.NotContains(t, out, id)

	_, err = run(t, "--store", "sqlite", "--sqlite-path", path, "list", "--status", "paused")
	assert.Error(t, err)
}

func TestExportNeedsCompletedSession(t *testing.T) {
	path, id := seedSQLite(t)

	_, err := run(t, "--store", "sqlite", "--sqlite-path", path, "export", id, "-o", filepath.Join(t.TempDir(), "out.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestViolationsCommandEmpty(t *testing.T) {
	path, id := seedSQLite(t)

	out, err := run(t, "--store", "sqlite", "--sqlite-path", path, "violations", id, "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 0")
}

func TestPrintYAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, model.Readiness{Aptitude: true}))
	assert.Equal(t, "aptitude: true\nbehavioral: false\ndomain: false\n", buf.String())
}
