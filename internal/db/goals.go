package db

import (
	"database/sql"
	"fmt"

	"github.com/morlinbrot/goaldy/internal/models"
)

const goalColumns = `id, owner, name, target_cents, saved_cents, currency, deadline, note, created_at, updated_at, deleted_at`

// scanGoal scans one goal row from a *sql.Row or *sql.Rows.
func scanGoal(scan func(dest ...any) error) (*models.Goal, error) {
	var g models.Goal
	var owner sql.NullString
	var deadline, createdAt, updatedAt, deletedAt sql.NullString

	if err := scan(&g.ID, &owner, &g.Name, &g.TargetCents, &g.SavedCents,
		&g.Currency, &deadline, &g.Note, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	if owner.Valid {
		g.Owner = &owner.String
	}
	var err error
	if g.Deadline, err = parseTimePtr(deadline); err != nil {
		return nil, fmt.Errorf("goal %s deadline: %w", g.ID, err)
	}
	if g.CreatedAt, err = parseTime(createdAt.String); err != nil {
		return nil, fmt.Errorf("goal %s created_at: %w", g.ID, err)
	}
	if g.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
		return nil, fmt.Errorf("goal %s updated_at: %w", g.ID, err)
	}
	if g.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("goal %s deleted_at: %w", g.ID, err)
	}
	return &g, nil
}

// GetGoal returns a goal by id, including tombstoned rows. Returns nil if the
// goal does not exist.
func (db *DB) GetGoal(id string) (*models.Goal, error) {
	row := db.conn.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

// ListGoals returns all goals. Soft-deleted rows are excluded unless
// includeDeleted is set.
func (db *DB) ListGoals(includeDeleted bool) ([]*models.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// UpsertGoalTx inserts or replaces a goal within the given transaction.
func UpsertGoalTx(tx *sql.Tx, g *models.Goal) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Owner, g.Name, g.TargetCents, g.SavedCents, g.Currency,
		formatTimePtr(g.Deadline), g.Note,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt), formatTimePtr(g.DeletedAt))
	if err != nil {
		return fmt.Errorf("upsert goal %s: %w", g.ID, err)
	}
	return nil
}

// HardDeleteGoalTx removes a goal row entirely. Used only for never-owned
// records that have nothing to reconcile remotely.
func HardDeleteGoalTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM goals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete goal %s: %w", id, err)
	}
	return nil
}

// GoalStore adapts goal persistence to the generic repository interfaces.
type GoalStore struct {
	DB *DB
}

func (s GoalStore) Get(id string) (*models.Goal, error) { return s.DB.GetGoal(id) }

func (s GoalStore) List(includeDeleted bool) ([]*models.Goal, error) {
	return s.DB.ListGoals(includeDeleted)
}

func (s GoalStore) Upsert(tx *sql.Tx, g *models.Goal) error { return UpsertGoalTx(tx, g) }

func (s GoalStore) HardDelete(tx *sql.Tx, id string) error { return HardDeleteGoalTx(tx, id) }

// ClaimOwner stamps owner on all owner-less goals, returning the number of
// rows updated.
func (s GoalStore) ClaimOwner(tx *sql.Tx, owner string) (int64, error) {
	res, err := tx.Exec(`UPDATE goals SET owner = ? WHERE owner IS NULL`, owner)
	if err != nil {
		return 0, fmt.Errorf("claim goals: %w", err)
	}
	return res.RowsAffected()
}
