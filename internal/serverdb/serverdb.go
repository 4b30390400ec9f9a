// Package serverdb is the storage layer for the reference sync backend.
// Records are stored per (table, id) as full JSON snapshots with the sync
// columns lifted out for querying.
package serverdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInvalidSnapshot marks a client-supplied snapshot the store refuses to
// persist. Handlers map it to a 400; any other write error is a storage
// failure and stays retryable for the client.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// ServerDB wraps the server database connection.
type ServerDB struct {
	conn *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	table_name  TEXT NOT NULL,
	id          TEXT NOT NULL,
	owner       TEXT NOT NULL,
	updated_ns  INTEGER NOT NULL,
	deleted     INTEGER NOT NULL DEFAULT 0,
	data        JSON NOT NULL,
	PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS idx_records_changed ON records(table_name, owner, updated_ns);

CREATE TABLE IF NOT EXISTS api_keys (
	key       TEXT PRIMARY KEY,
	owner_id  TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens the server database, creating and initializing it if needed.
// Pass ":memory:" for an ephemeral database in tests.
func Open(dbPath string) (*ServerDB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ServerDB{conn: conn, path: dbPath}, nil
}

// NewFromConn wraps an existing connection and initializes the schema. Test
// harnesses use this to run the store over an in-memory database opened with
// a different driver.
func NewFromConn(conn *sql.DB) (*ServerDB, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ServerDB{conn: conn}, nil
}

// Close closes the database.
func (s *ServerDB) Close() error {
	return s.conn.Close()
}

// OwnerForKey resolves an API key to an owner id. Returns "" if unknown.
func (s *ServerDB) OwnerForKey(key string) (string, error) {
	var owner string
	err := s.conn.QueryRow(`SELECT owner_id FROM api_keys WHERE key = ?`, key).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return owner, err
}

// CreateAPIKey registers an API key for an owner.
func (s *ServerDB) CreateAPIKey(key, ownerID string) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO api_keys (key, owner_id) VALUES (?, ?)`, key, ownerID)
	return err
}

// recordMeta is the subset of sync fields the server lifts out of snapshots.
type recordMeta struct {
	ID        string     `json:"id"`
	Owner     *string    `json:"owner"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// UpsertRecord stores a full snapshot for (table, id), stamping the
// authenticated owner into both the row and the snapshot. The snapshot's
// updated_at drives change queries.
func (s *ServerDB) UpsertRecord(table, id, owner string, data json.RawMessage) error {
	var meta recordMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidSnapshot, err)
	}
	if meta.ID != "" && meta.ID != id {
		return fmt.Errorf("%w: snapshot id %q does not match path id %q", ErrInvalidSnapshot, meta.ID, id)
	}
	if meta.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: snapshot has no updated_at", ErrInvalidSnapshot)
	}

	// Re-stamp identity and ownership so a client cannot write rows it
	// does not own.
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidSnapshot, err)
	}
	fields["id"] = id
	fields["owner"] = owner
	stamped, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	deleted := 0
	if meta.DeletedAt != nil {
		deleted = 1
	}
	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO records (table_name, id, owner, updated_ns, deleted, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table, id, owner, meta.UpdatedAt.UTC().UnixNano(), deleted, stamped)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}
	return nil
}

// SoftDeleteRecord sets the tombstone on an existing record, updating both
// the row columns and the stored snapshot. Returns sql.ErrNoRows if the
// record does not exist or belongs to another owner.
func (s *ServerDB) SoftDeleteRecord(table, id, owner string, deletedAt, updatedAt time.Time) error {
	var data []byte
	err := s.conn.QueryRow(`
		SELECT data FROM records WHERE table_name = ? AND id = ? AND owner = ?
	`, table, id, owner).Scan(&data)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode stored snapshot: %w", err)
	}
	fields["deleted_at"] = deletedAt.UTC().Format(time.RFC3339Nano)
	fields["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	stamped, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.conn.Exec(`
		UPDATE records SET updated_ns = ?, deleted = 1, data = ?
		WHERE table_name = ? AND id = ? AND owner = ?
	`, updatedAt.UTC().UnixNano(), stamped, table, id, owner)
	if err != nil {
		return fmt.Errorf("soft-delete %s/%s: %w", table, id, err)
	}
	return nil
}

// ChangedSince returns all of an owner's snapshots in a table with
// updated_at strictly greater than since. A nil since returns everything,
// tombstones included.
func (s *ServerDB) ChangedSince(table, owner string, since *time.Time) ([]json.RawMessage, error) {
	var sinceNS int64 = -1
	if since != nil {
		sinceNS = since.UTC().UnixNano()
	}

	rows, err := s.conn.Query(`
		SELECT data FROM records
		WHERE table_name = ? AND owner = ? AND updated_ns > ?
		ORDER BY updated_ns ASC
	`, table, owner, sinceNS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		records = append(records, json.RawMessage(data))
	}
	return records, rows.Err()
}

// RecordCount returns the number of stored records, tombstones included.
func (s *ServerDB) RecordCount(table string) (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM records WHERE table_name = ?`, table).Scan(&count)
	return count, err
}
