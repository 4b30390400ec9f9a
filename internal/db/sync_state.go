package db

import (
	"database/sql"
	"time"
)

// LastSyncAt returns the pull watermark, or nil if no sync has completed yet.
func (db *DB) LastSyncAt() (*time.Time, error) {
	var ts sql.NullString
	err := db.conn.QueryRow(`SELECT last_sync_at FROM sync_state WHERE id = 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseTimePtr(ts)
}

// SetLastSyncAt advances the pull watermark.
func (db *DB) SetLastSyncAt(t time.Time) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT OR REPLACE INTO sync_state (id, last_sync_at) VALUES (1, ?)
		`, formatTime(t))
		return err
	})
}

// ClearSyncState resets the watermark so the next sync does a full refresh.
func (db *DB) ClearSyncState() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM sync_state`)
		return err
	})
}
