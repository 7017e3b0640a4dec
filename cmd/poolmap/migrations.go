package main

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

func migrate(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}
	files, err := listMigrationFiles()
	if err != nil {
		return err
	}
	for _, file := range files {
		version, err := migrationVersion(file)
		if err != nil {
			return err
		}
		applied, err := migrationApplied(db, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		body, err := migFS.ReadFile(file)
		if err != nil {
			return err
		}
		if err := execMigrationSQL(db, string(body)); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := markMigration(db, version); err != nil {
			return err
		}
	}
	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func listMigrationFiles() ([]string, error) {
	entries, err := migFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		files = append(files, "migrations/"+entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func migrationVersion(path string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(path), ".sql")
	var digits strings.Builder
	for _, r := range base {
		if r < '0' || r > '9' {
			break
		}
		digits.WriteRune(r)
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("invalid migration name: %s", path)
	}
	version, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, fmt.Errorf("invalid migration version: %s", path)
	}
	return version, nil
}

func migrationApplied(db *sql.DB, version int) (bool, error) {
	var out int
	if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE version=?`, version).Scan(&out); err != nil {
		return false, err
	}
	return out > 0, nil
}

func markMigration(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, version, time.Now().UTC().Format(time.RFC3339))
	return err
}

func execMigrationSQL(db *sql.DB, body string) error {
	for _, part := range strings.Split(body, ";") {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
