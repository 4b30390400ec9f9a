package cmd

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
)

func insertContribution(t *testing.T, database *db.DB, goalID string, cents int64, deleted bool) {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Contribution{GoalID: goalID, AmountCents: cents, ContributedAt: now}
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	if deleted {
		c.DeletedAt = &now
	}
	err := database.WithTx(func(tx *sql.Tx) error {
		return db.UpsertContributionTx(tx, c)
	})
	if err != nil {
		t.Fatalf("insert contribution: %v", err)
	}
}

func TestGoalTotalSumsLiveContributions(t *testing.T) {
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer database.Close()
	a := &app{db: database}

	insertContribution(t, database, "g-1", 500, false)
	insertContribution(t, database, "g-1", 250, false)
	insertContribution(t, database, "g-1", 100, true) // tombstoned, not counted
	insertContribution(t, database, "g-2", 999, false)

	total, err := goalTotal(a, "g-1")
	if err != nil {
		t.Fatalf("goalTotal failed: %v", err)
	}
	if total != 750 {
		t.Errorf("goalTotal = %d, want 750", total)
	}

	// The sum comes from the contributions table, so a stale denormalized
	// goal total is replaced with the true value on the next write.
	total, err = goalTotal(a, "g-empty")
	if err != nil {
		t.Fatalf("goalTotal failed: %v", err)
	}
	if total != 0 {
		t.Errorf("goalTotal for goal without contributions = %d, want 0", total)
	}
}
