package sqlite

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order. The schema version is the number of
// applied migrations, kept in PRAGMA user_version. Timestamps are stored as
// Unix nanoseconds so both drivers round-trip them identically.
var migrations = []string{
	// 1: read-through cache
	`CREATE TABLE cached_responses (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		cached_at INTEGER NOT NULL
	)`,

	// 2: mutation queue
	`CREATE TABLE queued_mutations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		body TEXT,
		extra_headers TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		retries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	)`,

	// 3: single-row session
	`CREATE TABLE session (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user TEXT,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		saved_at INTEGER NOT NULL
	)`,

	// 4
	`CREATE INDEX idx_queued_mutations_status ON queued_mutations(status, created_at);
	CREATE INDEX idx_cached_responses_cached_at ON cached_responses(cached_at)`,

	// 5: cross-process drain lease
	`CREATE TABLE leases (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}

// schemaVersion reads PRAGMA user_version.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("could not read schema version: %w", err)
	}
	return v, nil
}

// migrate applies every migration newer than the stored schema version,
// each in its own transaction together with the version bump.
func migrate(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
