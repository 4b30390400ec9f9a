package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/morlinbrot/goaldy/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(filepath.Join(dir, "goaldy.db")); os.IsNotExist(err) {
		t.Error("Database file not created")
	}
}

func TestOpenWithoutInit(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("Open should fail when the database does not exist")
	}
}

func TestOpenAfterInit(t *testing.T) {
	dir := t.TempDir()
	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	database.Close()

	database, err = Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	database.Close()
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	database, err := Initialize(dir)
	if err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	database.Close()

	database, err = Initialize(dir)
	if err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	database.Close()
}

func TestGoalCRUD(t *testing.T) {
	database := testDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	goal := &models.Goal{
		Name:        "Vacation",
		TargetCents: 150000,
		SavedCents:  2500,
		Currency:    "EUR",
		Note:        "summer trip",
	}
	goal.ID = "goal-1"
	goal.CreatedAt = now
	goal.UpdatedAt = now

	err := database.WithTx(func(tx *sql.Tx) error {
		return UpsertGoalTx(tx, goal)
	})
	if err != nil {
		t.Fatalf("UpsertGoalTx failed: %v", err)
	}

	got, err := database.GetGoal("goal-1")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetGoal returned nil")
	}
	if got.Name != "Vacation" {
		t.Errorf("Name = %q, want Vacation", got.Name)
	}
	if got.TargetCents != 150000 {
		t.Errorf("TargetCents = %d, want 150000", got.TargetCents)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
	if got.Owner != nil {
		t.Errorf("Owner = %v, want nil", *got.Owner)
	}

	// Upsert replaces
	goal.SavedCents = 5000
	err = database.WithTx(func(tx *sql.Tx) error {
		return UpsertGoalTx(tx, goal)
	})
	if err != nil {
		t.Fatalf("second UpsertGoalTx failed: %v", err)
	}
	got, err = database.GetGoal("goal-1")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if got.SavedCents != 5000 {
		t.Errorf("SavedCents = %d, want 5000", got.SavedCents)
	}

	err = database.WithTx(func(tx *sql.Tx) error {
		return HardDeleteGoalTx(tx, "goal-1")
	})
	if err != nil {
		t.Fatalf("HardDeleteGoalTx failed: %v", err)
	}
	got, err = database.GetGoal("goal-1")
	if err != nil {
		t.Fatalf("GetGoal after delete failed: %v", err)
	}
	if got != nil {
		t.Error("GetGoal should return nil after hard delete")
	}
}

func TestGetGoalMissing(t *testing.T) {
	database := testDB(t)

	got, err := database.GetGoal("nope")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if got != nil {
		t.Error("GetGoal for missing id should return nil, nil")
	}
}

func TestListGoalsFiltersTombstones(t *testing.T) {
	database := testDB(t)
	now := time.Now().UTC()

	live := &models.Goal{Name: "Live", TargetCents: 100}
	live.ID = "g-live"
	live.CreatedAt = now
	live.UpdatedAt = now

	dead := &models.Goal{Name: "Dead", TargetCents: 100}
	dead.ID = "g-dead"
	dead.CreatedAt = now
	dead.UpdatedAt = now
	dead.DeletedAt = &now

	err := database.WithTx(func(tx *sql.Tx) error {
		if err := UpsertGoalTx(tx, live); err != nil {
			return err
		}
		return UpsertGoalTx(tx, dead)
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	goals, err := database.ListGoals(false)
	if err != nil {
		t.Fatalf("ListGoals failed: %v", err)
	}
	if len(goals) != 1 || goals[0].ID != "g-live" {
		t.Errorf("ListGoals(false) = %d goals, want just g-live", len(goals))
	}

	goals, err = database.ListGoals(true)
	if err != nil {
		t.Fatalf("ListGoals(true) failed: %v", err)
	}
	if len(goals) != 2 {
		t.Errorf("ListGoals(true) = %d goals, want 2", len(goals))
	}

	// Tombstoned rows are still readable by id
	got, err := database.GetGoal("g-dead")
	if err != nil {
		t.Fatalf("GetGoal failed: %v", err)
	}
	if got == nil || got.DeletedAt == nil {
		t.Error("tombstoned goal should be readable with its tombstone")
	}
}

func TestGoalStoreClaimOwner(t *testing.T) {
	database := testDB(t)
	now := time.Now().UTC()

	other := "someone-else"
	unowned := &models.Goal{Name: "Mine", TargetCents: 100}
	unowned.ID = "g-1"
	unowned.CreatedAt = now
	unowned.UpdatedAt = now

	owned := &models.Goal{Name: "Theirs", TargetCents: 100}
	owned.ID = "g-2"
	owned.Owner = &other
	owned.CreatedAt = now
	owned.UpdatedAt = now

	err := database.WithTx(func(tx *sql.Tx) error {
		if err := UpsertGoalTx(tx, unowned); err != nil {
			return err
		}
		return UpsertGoalTx(tx, owned)
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	store := GoalStore{DB: database}
	var claimed int64
	err = database.WithTx(func(tx *sql.Tx) error {
		var err error
		claimed, err = store.ClaimOwner(tx, "me")
		return err
	})
	if err != nil {
		t.Fatalf("ClaimOwner failed: %v", err)
	}
	if claimed != 1 {
		t.Errorf("claimed = %d, want 1", claimed)
	}

	got, _ := database.GetGoal("g-1")
	if got.Owner == nil || *got.Owner != "me" {
		t.Error("unowned goal should now belong to me")
	}
	got, _ = database.GetGoal("g-2")
	if got.Owner == nil || *got.Owner != other {
		t.Error("already-owned goal must keep its owner")
	}
}

func TestContributionFilter(t *testing.T) {
	database := testDB(t)
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	mk := func(id, goalID string, amount int64, at time.Time) *models.Contribution {
		c := &models.Contribution{GoalID: goalID, AmountCents: amount, ContributedAt: at}
		c.ID = id
		c.CreatedAt = at
		c.UpdatedAt = at
		return c
	}
	err := database.WithTx(func(tx *sql.Tx) error {
		for _, c := range []*models.Contribution{
			mk("c-1", "g-1", 1000, base),
			mk("c-2", "g-1", 5000, base.AddDate(0, 1, 0)),
			mk("c-3", "g-2", 2000, base.AddDate(0, 2, 0)),
		} {
			if err := UpsertContributionTx(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := database.ListContributionsWhere(ContributionFilter{GoalID: "g-1"})
	if err != nil {
		t.Fatalf("ListContributionsWhere failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("GoalID filter = %d rows, want 2", len(got))
	}

	since := base.AddDate(0, 0, 15)
	got, err = database.ListContributionsWhere(ContributionFilter{Since: &since})
	if err != nil {
		t.Fatalf("ListContributionsWhere failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Since filter = %d rows, want 2", len(got))
	}

	got, err = database.ListContributionsWhere(ContributionFilter{MinAmountCents: 1500})
	if err != nil {
		t.Fatalf("ListContributionsWhere failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("MinAmountCents filter = %d rows, want 2", len(got))
	}
}

func TestSyncState(t *testing.T) {
	database := testDB(t)

	got, err := database.LastSyncAt()
	if err != nil {
		t.Fatalf("LastSyncAt failed: %v", err)
	}
	if got != nil {
		t.Errorf("fresh database LastSyncAt = %v, want nil", got)
	}

	mark := time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC)
	if err := database.SetLastSyncAt(mark); err != nil {
		t.Fatalf("SetLastSyncAt failed: %v", err)
	}
	got, err = database.LastSyncAt()
	if err != nil {
		t.Fatalf("LastSyncAt failed: %v", err)
	}
	if got == nil || !got.Equal(mark) {
		t.Errorf("LastSyncAt = %v, want %v", got, mark)
	}

	// Overwrite advances
	later := mark.Add(time.Hour)
	if err := database.SetLastSyncAt(later); err != nil {
		t.Fatalf("SetLastSyncAt failed: %v", err)
	}
	got, _ = database.LastSyncAt()
	if got == nil || !got.Equal(later) {
		t.Errorf("LastSyncAt = %v, want %v", got, later)
	}

	if err := database.ClearSyncState(); err != nil {
		t.Fatalf("ClearSyncState failed: %v", err)
	}
	got, _ = database.LastSyncAt()
	if got != nil {
		t.Errorf("LastSyncAt after clear = %v, want nil", got)
	}
}
