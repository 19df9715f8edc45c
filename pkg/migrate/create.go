package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
	createTableRe  = regexp.MustCompile(`^create_([a-z][a-z0-9_]*)$`)
)

// CreateSQLMigration writes <dir>/<version>_<name>.sql. The version is the current UTC
// second, bumped past the newest migration already in dir so files stay ordered.
// A name of the form create_<table> gets a table skeleton written in the same column
// types and statements as the embedded migrations.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	if name == "" {
		return "", fmt.Errorf("name is required")
	}

	safe := sanitizeMigrationName(name)
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version, err := nextVersion(dir, now)
	if err != nil {
		return "", err
	}
	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version, safe))

	if _, err := os.Stat(fullpath); err == nil {
		return "", fmt.Errorf("migration already exists: %s", fullpath)
	}

	if err := os.WriteFile(fullpath, []byte(migrationTemplate(safe)), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

func sanitizeMigrationName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}

// nextVersion returns now as a version, or the newest version in dir plus one second
// when that is not older.
func nextVersion(dir string, now time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir %q: %w", dir, err)
	}
	latest := int64(0)
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}

	version := now.UTC().Format(versionLayout)
	current, _ := strconv.ParseInt(version, 10, 64)
	if current > latest {
		return version, nil
	}
	prev, err := time.Parse(versionLayout, strconv.FormatInt(latest, 10))
	if err != nil {
		return "", fmt.Errorf("parse migration version %d: %w", latest, err)
	}
	return prev.Add(time.Second).Format(versionLayout), nil
}

func migrationTemplate(safe string) string {
	m := createTableRe.FindStringSubmatch(safe)
	if m == nil {
		return fmt.Sprintf(`-- +goose Up
-- %s
-- keep to UUID, VARCHAR(n), NUMERIC(p,s), TIMESTAMP and CURRENT_TIMESTAMP so every driver runs it

-- +goose Down
-- rollback %s
`, safe, safe)
	}
	table := m[1]
	return fmt.Sprintf(`-- +goose Up
CREATE TABLE IF NOT EXISTS %[1]s (
    id UUID PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON %[1]s (created_at, id);

-- +goose Down
DROP INDEX IF EXISTS idx_%[1]s_created;
DROP TABLE IF EXISTS %[1]s;
`, table)
}
