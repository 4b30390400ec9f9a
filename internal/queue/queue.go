// Package queue is the durable mutation queue. Every owned local write
// appends one item here in the same transaction; the sync orchestrator is
// the only component that drains it. Items that exhaust their retries, or
// fail permanently, move to the dead-letter table where they wait for
// operator action.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
)

// Op is a mutation operation type.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// DefaultMaxAttempts is how many transient failures an item survives before
// dead-lettering.
const DefaultMaxAttempts = 3

// Item is one pending mutation.
type Item struct {
	ID            string
	TableName     string
	RecordID      string
	Op            Op
	Payload       json.RawMessage // full entity snapshot at enqueue time
	Owner         *string
	CreatedAt     time.Time
	Attempts      int
	LastAttemptAt *time.Time
	ErrorMessage  string
}

// DeadLetter is a permanently failed mutation awaiting operator action.
type DeadLetter struct {
	Item
	FailedAt   time.Time
	FinalError string
}

// Queue manages the mutation_queue and dead_letters tables.
type Queue struct {
	DB          *db.DB
	MaxAttempts int
}

// New creates a Queue with the default retry limit.
func New(database *db.DB) *Queue {
	return &Queue{DB: database, MaxAttempts: DefaultMaxAttempts}
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// tableOrderCase builds the ORDER BY expression ranking tables by their
// dependency position, so parent-table items always drain first.
func tableOrderCase() string {
	var b strings.Builder
	b.WriteString("CASE table_name")
	for i, t := range models.TableOrder {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", t, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(models.TableOrder))
	return b.String()
}

// EnqueueTx appends a new item inside the caller's transaction. The caller
// is the repository, which runs the local entity write in the same
// transaction so enqueue is atomic with it.
func EnqueueTx(tx *sql.Tx, table, recordID string, op Op, payload json.RawMessage, owner *string) (*Item, error) {
	item := &Item{
		ID:        uuid.NewString(),
		TableName: table,
		RecordID:  recordID,
		Op:        op,
		Payload:   payload,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	_, err := tx.Exec(`
		INSERT INTO mutation_queue (id, table_name, record_id, operation, payload, owner, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, item.ID, item.TableName, item.RecordID, string(item.Op), []byte(item.Payload), item.Owner, formatTime(item.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", table, recordID, err)
	}
	return item, nil
}

const itemColumns = `id, table_name, record_id, operation, payload, owner, created_at, attempts, last_attempt_at, error_message`

func scanItem(scan func(dest ...any) error) (*Item, error) {
	var it Item
	var op string
	var payload []byte
	var owner sql.NullString
	var createdAt string
	var lastAttempt sql.NullString

	if err := scan(&it.ID, &it.TableName, &it.RecordID, &op, &payload, &owner,
		&createdAt, &it.Attempts, &lastAttempt, &it.ErrorMessage); err != nil {
		return nil, err
	}

	it.Op = Op(op)
	it.Payload = json.RawMessage(payload)
	if owner.Valid {
		it.Owner = &owner.String
	}
	var err error
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("item %s created_at: %w", it.ID, err)
	}
	if lastAttempt.Valid && lastAttempt.String != "" {
		t, err := parseTime(lastAttempt.String)
		if err != nil {
			return nil, fmt.Errorf("item %s last_attempt_at: %w", it.ID, err)
		}
		it.LastAttemptAt = &t
	}
	return &it, nil
}

// GetPending returns live items for the given owner, ordered by entity
// dependency position then enqueue time (FIFO within a table). Items at or
// past the retry limit are excluded; they are on their way to dead letters.
func (q *Queue) GetPending(owner string, limit int) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM mutation_queue
		WHERE owner = ? AND attempts < ?
		ORDER BY ` + tableOrderCase() + `, created_at ASC, rowid ASC`
	args := []any{owner, q.MaxAttempts}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.DB.Conn().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListAll returns every live item regardless of owner, in drain order.
// Introspection only; the push path uses GetPending.
func (q *Queue) ListAll(limit int) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM mutation_queue
		ORDER BY ` + tableOrderCase() + `, created_at ASC, rowid ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.DB.Conn().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// getItem reads one live item inside a transaction.
func getItem(tx *sql.Tx, id string) (*Item, error) {
	row := tx.QueryRow(`SELECT `+itemColumns+` FROM mutation_queue WHERE id = ?`, id)
	it, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue item %s not found", id)
	}
	return it, err
}

// MarkComplete removes a successfully pushed item.
func (q *Queue) MarkComplete(id string) error {
	return q.DB.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM mutation_queue WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("complete %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("queue item %s not found", id)
		}
		return nil
	})
}

// MarkFailed records a transient push failure. When the incremented attempt
// count reaches the retry limit the item moves to dead letters in the same
// transaction; the returned flag reports that.
func (q *Queue) MarkFailed(id string, pushErr error) (deadLettered bool, err error) {
	err = q.DB.WithTx(func(tx *sql.Tx) error {
		it, err := getItem(tx, id)
		if err != nil {
			return err
		}

		it.Attempts++
		now := time.Now().UTC()

		if it.Attempts >= q.MaxAttempts {
			if err := insertDeadLetter(tx, it, now, pushErr.Error()); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
				return fmt.Errorf("remove exhausted item %s: %w", id, err)
			}
			deadLettered = true
			return nil
		}

		_, err = tx.Exec(`
			UPDATE mutation_queue SET attempts = ?, last_attempt_at = ?, error_message = ?
			WHERE id = ?
		`, it.Attempts, formatTime(now), pushErr.Error(), id)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", id, err)
		}
		return nil
	})
	return deadLettered, err
}

// MoveToDeadLetter dead-letters an item directly, bypassing the retry
// counter. Used for errors that will never succeed without intervention.
// The recorded attempt count includes the attempt that just failed.
func (q *Queue) MoveToDeadLetter(id string, finalErr error) error {
	return q.DB.WithTx(func(tx *sql.Tx) error {
		it, err := getItem(tx, id)
		if err != nil {
			return err
		}
		it.Attempts++
		if err := insertDeadLetter(tx, it, time.Now().UTC(), finalErr.Error()); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove item %s: %w", id, err)
		}
		return nil
	})
}

func insertDeadLetter(tx *sql.Tx, it *Item, failedAt time.Time, finalError string) error {
	_, err := tx.Exec(`
		INSERT INTO dead_letters (id, table_name, record_id, operation, payload, owner, created_at, attempts, failed_at, final_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.TableName, it.RecordID, string(it.Op), []byte(it.Payload), it.Owner,
		formatTime(it.CreatedAt), it.Attempts, formatTime(failedAt), finalError)
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", it.ID, err)
	}
	return nil
}

const deadLetterColumns = `id, table_name, record_id, operation, payload, owner, created_at, attempts, failed_at, final_error`

func scanDeadLetter(scan func(dest ...any) error) (*DeadLetter, error) {
	var d DeadLetter
	var op string
	var payload []byte
	var owner sql.NullString
	var createdAt, failedAt string

	if err := scan(&d.ID, &d.TableName, &d.RecordID, &op, &payload, &owner,
		&createdAt, &d.Attempts, &failedAt, &d.FinalError); err != nil {
		return nil, err
	}

	d.Op = Op(op)
	d.Payload = json.RawMessage(payload)
	if owner.Valid {
		d.Owner = &owner.String
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("dead letter %s created_at: %w", d.ID, err)
	}
	if d.FailedAt, err = parseTime(failedAt); err != nil {
		return nil, fmt.Errorf("dead letter %s failed_at: %w", d.ID, err)
	}
	return &d, nil
}

// ListDeadLetters returns dead letters, most recently failed first.
func (q *Queue) ListDeadLetters(limit int) ([]*DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters ORDER BY failed_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.DB.Conn().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		d, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// RetryDeadLetter re-enqueues a dead letter as a brand-new item: fresh id,
// zero attempts, current timestamp. The dead letter row is deleted, never
// mutated in place.
func (q *Queue) RetryDeadLetter(id string) (*Item, error) {
	var item *Item
	err := q.DB.WithTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id)
		d, err := scanDeadLetter(row.Scan)
		if err == sql.ErrNoRows {
			return fmt.Errorf("dead letter %s not found", id)
		}
		if err != nil {
			return err
		}

		item, err = EnqueueTx(tx, d.TableName, d.RecordID, d.Op, d.Payload, d.Owner)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove dead letter %s: %w", id, err)
		}
		return nil
	})
	return item, err
}

// RetryAllDeadLetters re-enqueues every dead letter. Returns the count.
func (q *Queue) RetryAllDeadLetters() (int, error) {
	letters, err := q.ListDeadLetters(0)
	if err != nil {
		return 0, err
	}
	for i, d := range letters {
		if _, err := q.RetryDeadLetter(d.ID); err != nil {
			return i, err
		}
	}
	return len(letters), nil
}

// DiscardDeadLetter drops a dead letter permanently.
func (q *Queue) DiscardDeadLetter(id string) error {
	return q.DB.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM dead_letters WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dead letter %s not found", id)
		}
		return nil
	})
}

// PendingCount returns the number of live items for an owner.
func (q *Queue) PendingCount(owner string) (int64, error) {
	var count int64
	err := q.DB.Conn().QueryRow(`
		SELECT COUNT(*) FROM mutation_queue WHERE owner = ? AND attempts < ?
	`, owner, q.MaxAttempts).Scan(&count)
	return count, err
}

// DeadLetterCount returns the number of dead letters.
func (q *Queue) DeadLetterCount() (int64, error) {
	var count int64
	err := q.DB.Conn().QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	return count, err
}

// ClaimOwnerTx stamps owner on all owner-less queue items, inside the
// caller's transaction. Called when a previously anonymous user signs in.
func ClaimOwnerTx(tx *sql.Tx, owner string) (int64, error) {
	res, err := tx.Exec(`UPDATE mutation_queue SET owner = ? WHERE owner IS NULL`, owner)
	if err != nil {
		return 0, fmt.Errorf("claim queue items: %w", err)
	}
	return res.RowsAffected()
}

// Clear empties both the live queue and the dead-letter store. Debug/reset
// surface only.
func (q *Queue) Clear() error {
	return q.DB.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM mutation_queue`); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM dead_letters`)
		return err
	})
}
