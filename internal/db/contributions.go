package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/morlinbrot/goaldy/internal/models"
)

const contributionColumns = `id, owner, goal_id, amount_cents, note, contributed_at, created_at, updated_at, deleted_at`

func scanContribution(scan func(dest ...any) error) (*models.Contribution, error) {
	var c models.Contribution
	var owner sql.NullString
	var contributedAt, createdAt, updatedAt, deletedAt sql.NullString

	if err := scan(&c.ID, &owner, &c.GoalID, &c.AmountCents, &c.Note,
		&contributedAt, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	if owner.Valid {
		c.Owner = &owner.String
	}
	var err error
	if c.ContributedAt, err = parseTime(contributedAt.String); err != nil {
		return nil, fmt.Errorf("contribution %s contributed_at: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt.String); err != nil {
		return nil, fmt.Errorf("contribution %s created_at: %w", c.ID, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
		return nil, fmt.Errorf("contribution %s updated_at: %w", c.ID, err)
	}
	if c.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("contribution %s deleted_at: %w", c.ID, err)
	}
	return &c, nil
}

// GetContribution returns a contribution by id, including tombstoned rows.
// Returns nil if it does not exist.
func (db *DB) GetContribution(id string) (*models.Contribution, error) {
	row := db.conn.QueryRow(`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id)
	c, err := scanContribution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListContributions returns all contributions, oldest first. Soft-deleted
// rows are excluded unless includeDeleted is set.
func (db *DB) ListContributions(includeDeleted bool) ([]*models.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY contributed_at ASC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contribs []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows.Scan)
		if err != nil {
			return nil, err
		}
		contribs = append(contribs, c)
	}
	return contribs, rows.Err()
}

// ContributionFilter narrows ListContributionsWhere results. Zero values
// mean "no constraint".
type ContributionFilter struct {
	GoalID         string
	MinAmountCents int64
	Since          *time.Time
	Until          *time.Time
}

// ListContributionsWhere returns non-deleted contributions matching the
// filter, oldest first.
func (db *DB) ListContributionsWhere(f ContributionFilter) ([]*models.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE deleted_at IS NULL`
	var args []any

	if f.GoalID != "" {
		query += ` AND goal_id = ?`
		args = append(args, f.GoalID)
	}
	if f.MinAmountCents > 0 {
		query += ` AND amount_cents >= ?`
		args = append(args, f.MinAmountCents)
	}
	if f.Since != nil {
		query += ` AND contributed_at >= ?`
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		query += ` AND contributed_at < ?`
		args = append(args, formatTime(*f.Until))
	}
	query += ` ORDER BY contributed_at ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contribs []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows.Scan)
		if err != nil {
			return nil, err
		}
		contribs = append(contribs, c)
	}
	return contribs, rows.Err()
}

// UpsertContributionTx inserts or replaces a contribution within the given
// transaction.
func UpsertContributionTx(tx *sql.Tx, c *models.Contribution) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO contributions (`+contributionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Owner, c.GoalID, c.AmountCents, c.Note,
		formatTime(c.ContributedAt),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatTimePtr(c.DeletedAt))
	if err != nil {
		return fmt.Errorf("upsert contribution %s: %w", c.ID, err)
	}
	return nil
}

// HardDeleteContributionTx removes a contribution row entirely.
func HardDeleteContributionTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM contributions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete contribution %s: %w", id, err)
	}
	return nil
}

// ContributionStore adapts contribution persistence to the generic
// repository interfaces.
type ContributionStore struct {
	DB *DB
}

func (s ContributionStore) Get(id string) (*models.Contribution, error) {
	return s.DB.GetContribution(id)
}

func (s ContributionStore) List(includeDeleted bool) ([]*models.Contribution, error) {
	return s.DB.ListContributions(includeDeleted)
}

func (s ContributionStore) Upsert(tx *sql.Tx, c *models.Contribution) error {
	return UpsertContributionTx(tx, c)
}

func (s ContributionStore) HardDelete(tx *sql.Tx, id string) error {
	return HardDeleteContributionTx(tx, id)
}

// ClaimOwner stamps owner on all owner-less contributions.
func (s ContributionStore) ClaimOwner(tx *sql.Tx, owner string) (int64, error) {
	res, err := tx.Exec(`UPDATE contributions SET owner = ? WHERE owner IS NULL`, owner)
	if err != nil {
		return 0, fmt.Errorf("claim contributions: %w", err)
	}
	return res.RowsAffected()
}
