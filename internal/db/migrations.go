package db

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version. Bump when adding a migration.
const SchemaVersion = 1

var migrations = []string{
	// v1: initial schema
	`
	CREATE TABLE IF NOT EXISTS goals (
		id             TEXT PRIMARY KEY,
		owner          TEXT,
		name           TEXT NOT NULL,
		target_cents   INTEGER NOT NULL DEFAULT 0,
		saved_cents    INTEGER NOT NULL DEFAULT 0,
		currency       TEXT NOT NULL DEFAULT '',
		deadline       TEXT,
		note           TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		deleted_at     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_goals_owner ON goals(owner);
	CREATE INDEX IF NOT EXISTS idx_goals_updated ON goals(updated_at);

	CREATE TABLE IF NOT EXISTS contributions (
		id              TEXT PRIMARY KEY,
		owner           TEXT,
		goal_id         TEXT NOT NULL,
		amount_cents    INTEGER NOT NULL DEFAULT 0,
		note            TEXT NOT NULL DEFAULT '',
		contributed_at  TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		deleted_at      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_contributions_goal ON contributions(goal_id);
	CREATE INDEX IF NOT EXISTS idx_contributions_owner ON contributions(owner);

	CREATE TABLE IF NOT EXISTS mutation_queue (
		id              TEXT PRIMARY KEY,
		table_name      TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		operation       TEXT NOT NULL,
		payload         JSON NOT NULL,
		owner           TEXT,
		created_at      TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		error_message   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_queue_owner ON mutation_queue(owner);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id              TEXT PRIMARY KEY,
		table_name      TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		operation       TEXT NOT NULL,
		payload         JSON NOT NULL,
		owner           TEXT,
		created_at      TEXT NOT NULL,
		attempts        INTEGER NOT NULL,
		failed_at       TEXT NOT NULL,
		final_error     TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		last_sync_at TEXT
	);
	`,
}

// runMigrations applies any pending migrations inside the write lock.
func (db *DB) runMigrations() error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
			return fmt.Errorf("create schema_info: %w", err)
		}

		version, err := db.schemaVersion()
		if err != nil {
			return err
		}

		for v := version; v < SchemaVersion; v++ {
			if _, err := db.conn.Exec(migrations[v]); err != nil {
				return fmt.Errorf("migration %d: %w", v+1, err)
			}
			if err := db.setSchemaVersion(v + 1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) schemaVersion() (int, error) {
	var version int
	err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, version)
	return err
}
