package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/queue"
	"github.com/morlinbrot/goaldy/internal/remote"
	"github.com/morlinbrot/goaldy/internal/repo"
	gsync "github.com/morlinbrot/goaldy/internal/sync"
	"github.com/morlinbrot/goaldy/internal/syncconfig"
)

// dataDir returns where the local database lives.
// Priority: GOALDY_DATA_DIR env > ~/.local/share/goaldy.
func dataDir() (string, error) {
	if v := os.Getenv("GOALDY_DATA_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "goaldy"), nil
}

// fileAuth reads the signed-in identity from the config files on every
// lookup, so a login during the process lifetime is picked up.
type fileAuth struct{}

func (fileAuth) Owner() *string {
	owner := syncconfig.GetOwnerID()
	if owner == "" {
		return nil
	}
	return &owner
}

// app wires the sync core together for one CLI invocation.
type app struct {
	db            *db.DB
	queue         *queue.Queue
	orch          *gsync.Orchestrator
	client        *remote.Client
	goals         *repo.Repository[*models.Goal]
	contributions *repo.Repository[*models.Contribution]
}

// openApp opens the database and constructs repositories and orchestrator.
// Pass create=true for commands allowed to initialize a fresh database.
func openApp(create bool) (*app, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}

	var database *db.DB
	if create {
		database, err = db.Initialize(dir)
	} else {
		database, err = db.Open(dir)
	}
	if err != nil {
		return nil, err
	}

	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		database.Close()
		return nil, err
	}

	q := queue.New(database)
	q.MaxAttempts = syncconfig.GetMaxAttempts()

	client := remote.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)

	auth := fileAuth{}
	orch := gsync.New(gsync.Config{
		DB:       database,
		Queue:    q,
		Auth:     auth,
		Debounce: syncconfig.GetDebounce(),
		Interval: syncconfig.GetInterval(),
	})

	a := &app{db: database, queue: q, orch: orch, client: client}

	a.goals = repo.New(repo.Config[*models.Goal]{
		Table:     models.TableGoals,
		DB:        database,
		Local:     db.GoalStore{DB: database},
		Remote:    client,
		Scheduler: orch,
		Owner:     auth.Owner,
		New:       func() *models.Goal { return &models.Goal{} },
	})
	a.contributions = repo.New(repo.Config[*models.Contribution]{
		Table:     models.TableContributions,
		DB:        database,
		Local:     db.ContributionStore{DB: database},
		Remote:    client,
		Scheduler: orch,
		Owner:     auth.Owner,
		New:       func() *models.Contribution { return &models.Contribution{} },
	})
	orch.Register(a.goals)
	orch.Register(a.contributions)
	return a, nil
}

func (a *app) close() {
	a.orch.Close()
	a.db.Close()
}

// probeOnline checks server reachability and feeds the result to the
// orchestrator. Returns whether the server answered.
func (a *app) probeOnline(ctx context.Context) bool {
	if !syncconfig.IsAuthenticated() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.client.HealthCheck(probeCtx)
	online := err == nil
	if online {
		// CLI runs its sync cycle inline, so record connectivity without
		// the reconnect-triggered background sync
		a.orch.MarkOnline(true)
	}
	return online
}

// pushAfterMutation runs a quick inline push after a mutating command.
// Errors are logged, not returned; the queue keeps the mutation either way.
func (a *app) pushAfterMutation() {
	ctx := context.Background()
	if !a.probeOnline(ctx) {
		return
	}
	pushed, deadLettered, errs := a.orch.PushPendingChanges(ctx)
	if len(errs) > 0 {
		slog.Debug("push after mutation", "pushed", pushed, "dead_lettered", deadLettered, "errors", errs)
	}
}
