package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationScaffoldsCreateTable(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := createSQLMigration(dir, "Create Gift Cards", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260304050607_create_gift_cards.sql"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	require.Contains(t, body, "CREATE TABLE IF NOT EXISTS gift_cards (")
	require.Contains(t, body, "id UUID PRIMARY KEY")
	require.Contains(t, body, "DROP TABLE IF EXISTS gift_cards;")
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigrationVersionsAfterNewestFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20300101000000_future.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	path, err := createSQLMigration(dir, "add_notes", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "20300101000001_add_notes.sql", filepath.Base(path))

	again, err := createSQLMigration(dir, "add_more_notes", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "20300101000002_add_more_notes.sql", filepath.Base(again))
	require.NoError(t, ValidateDir(dir))
}

func TestSanitizeMigrationName(t *testing.T) {
	require.Equal(t, "add_gift_notes", sanitizeMigrationName("  Add Gift-Notes!! "))
	require.Empty(t, sanitizeMigrationName("***"))
}
