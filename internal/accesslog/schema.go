package accesslog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// CurrentVersion is the current schema version.
const CurrentVersion = 1

// OpenDB opens a SQLite database at path in WAL mode.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set journal mode to WAL for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	// Writers from other processes (the history command) wait instead of failing
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return db, nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	switch {
	case version == CurrentVersion:
		return nil
	case version > CurrentVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			time TEXT NOT NULL,
			remote_ip TEXT NOT NULL,
			method TEXT NOT NULL,
			uri TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_time ON requests(time)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_remote_ip ON requests(remote_ip)`,
		`DELETE FROM schema_version`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the schema version, or 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
