// Package sync coordinates push and pull across all registered
// repositories. One orchestrator exists per process; it owns connectivity
// state, the debounced push trigger, the periodic full-sync timer, and it
// is the single writer draining the mutation queue.
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/queue"
	"github.com/morlinbrot/goaldy/internal/remote"
	"github.com/morlinbrot/goaldy/internal/repo"
)

const (
	// DefaultDebounce coalesces bursts of rapid local edits into a single
	// push round.
	DefaultDebounce = 2 * time.Second
	// DefaultInterval is the periodic full-sync backstop against missed
	// push triggers or reconnection races.
	DefaultInterval = 60 * time.Second
)

// Config carries the orchestrator's collaborators and tunables.
type Config struct {
	DB       *db.DB
	Queue    *queue.Queue
	Auth     AuthContext
	Debounce time.Duration // 0 means DefaultDebounce
	Interval time.Duration // 0 means DefaultInterval
}

// Orchestrator serializes all sync entry points: manual sync, the debounced
// push, the periodic timer, and the connectivity-restored trigger.
type Orchestrator struct {
	database *db.DB
	q        *queue.Queue
	auth     AuthContext

	debounceDelay time.Duration
	interval      time.Duration

	mu         sync.Mutex
	repos      []repo.Syncer
	byTable    map[string]repo.Syncer
	online     bool
	syncing    bool
	status     Status
	statusMsg  string
	statusSubs map[int]func(Status, string)
	nextSub    int
	debounce   *time.Timer
	done       chan struct{}
	closed     bool
}

// New creates an orchestrator. Call Register for each repository, then
// Start to arm the periodic timer.
func New(cfg Config) *Orchestrator {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		database:      cfg.DB,
		q:             cfg.Queue,
		auth:          cfg.Auth,
		debounceDelay: debounce,
		interval:      interval,
		byTable:       make(map[string]repo.Syncer),
		status:        StatusIdle,
		statusSubs:    make(map[int]func(Status, string)),
		done:          make(chan struct{}),
	}
}

// Register adds a repository. Repositories are kept in entity dependency
// order regardless of registration order.
func (o *Orchestrator) Register(r repo.Syncer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.byTable[r.Table()] = r
	o.repos = append(o.repos, r)
	// insertion sort by dependency position; the list is tiny
	for i := len(o.repos) - 1; i > 0; i-- {
		if models.TablePosition(o.repos[i].Table()) < models.TablePosition(o.repos[i-1].Table()) {
			o.repos[i], o.repos[i-1] = o.repos[i-1], o.repos[i]
		}
	}
}

// Start arms the periodic full-sync timer.
func (o *Orchestrator) Start() {
	go o.periodicLoop()
}

// Close cancels the debounce timer and the periodic timer. Queued items are
// left untouched for the next process.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
}

func (o *Orchestrator) periodicLoop() {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			if !o.Online() || o.isSyncing() {
				continue
			}
			if _, err := o.FullSync(context.Background()); err != nil && err != ErrSyncInProgress {
				slog.Debug("periodic sync", "err", err)
			}
		}
	}
}

// Online reports current connectivity state.
func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// MarkOnline records connectivity without triggering a sync, for callers
// that run their own cycle inline (the CLI does). Going offline still
// cancels any pending debounced push; queued items are left untouched.
func (o *Orchestrator) MarkOnline(online bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.online == online {
		return false
	}
	o.online = online
	if !online && o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	return true
}

// SetOnline records a connectivity transition. Coming online triggers an
// immediate full sync; going offline cancels any pending debounced push.
func (o *Orchestrator) SetOnline(online bool) {
	if !o.MarkOnline(online) {
		return
	}
	if online {
		go func() {
			if _, err := o.FullSync(context.Background()); err != nil && err != ErrSyncInProgress {
				slog.Debug("reconnect sync", "err", err)
			}
		}()
	}
}

// SchedulePush restarts the debounce timer. Every call before expiry
// cancels and rearms it, so a burst of edits produces one push round.
func (o *Orchestrator) SchedulePush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(o.debounceDelay, func() {
		o.debouncedPush()
	})
}

// debouncedPush runs the push round when the debounce timer fires. If a
// full sync is already running it simply skips; the running cycle will
// drain the queue anyway.
func (o *Orchestrator) debouncedPush() {
	if !o.beginSync() {
		return
	}
	pushed, deadLettered, errs := o.pushPending(context.Background())
	o.endSync(errs)
	if pushed > 0 || deadLettered > 0 || len(errs) > 0 {
		slog.Debug("debounced push", "pushed", pushed, "dead_lettered", deadLettered, "errors", len(errs))
	}
}

func (o *Orchestrator) isSyncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

// beginSync claims the syncing flag. Returns false if a cycle is already
// running.
func (o *Orchestrator) beginSync() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncing || o.closed {
		return false
	}
	o.syncing = true
	o.setStatusLocked(StatusSyncing, "")
	return true
}

// endSync releases the syncing flag and resolves the post-cycle status.
func (o *Orchestrator) endSync(errs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncing = false
	if len(errs) > 0 {
		o.setStatusLocked(StatusError, errs[0])
	} else {
		o.setStatusLocked(StatusIdle, "")
	}
}

// FullSync runs pull then push. Pull goes first so push candidates see the
// freshest local state and avoid clobbering newer remote data. A cycle
// already in progress is rejected immediately.
func (o *Orchestrator) FullSync(ctx context.Context) (Result, error) {
	if !o.beginSync() {
		return Result{Errors: []string{ErrSyncInProgress.Error()}}, ErrSyncInProgress
	}

	// Offline means no pull is attempted, and the watermark must not move:
	// advancing it would put remote changes made before this moment outside
	// every future pull window.
	if !o.Online() {
		o.endSync(nil)
		return Result{Success: true}, nil
	}

	started := time.Now().UTC()
	var result Result

	pulled, pullErrs := o.pullAll(ctx)
	result.Pulled = pulled
	result.Errors = append(result.Errors, pullErrs...)

	pushed, deadLettered, pushErrs := o.pushPending(ctx)
	result.Pushed = pushed
	result.DeadLettered = deadLettered
	result.Errors = append(result.Errors, pushErrs...)

	// Advance the watermark after the combined cycle. Partial failure
	// still advances it when any progress was made, so a retryable next
	// sync does not restart from the oldest watermark.
	if len(result.Errors) == 0 || result.Pulled > 0 || result.Pushed > 0 {
		if err := o.database.SetLastSyncAt(started); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("persist watermark: %v", err))
		}
	}

	result.Success = len(result.Errors) == 0
	o.endSync(result.Errors)

	slog.Info("sync finished", "pulled", result.Pulled, "pushed", result.Pushed,
		"dead_lettered", result.DeadLettered, "errors", len(result.Errors))
	return result, nil
}

// PullChanges pulls all tables without pushing. Exposed for manual refresh.
func (o *Orchestrator) PullChanges(ctx context.Context) (int, []string) {
	if !o.beginSync() {
		return 0, []string{ErrSyncInProgress.Error()}
	}
	pulled, errs := o.pullAll(ctx)
	o.endSync(errs)
	return pulled, errs
}

// PushPendingChanges drains the queue without pulling. Exposed for manual
// push.
func (o *Orchestrator) PushPendingChanges(ctx context.Context) (int, int, []string) {
	if !o.beginSync() {
		return 0, 0, []string{ErrSyncInProgress.Error()}
	}
	pushed, deadLettered, errs := o.pushPending(ctx)
	o.endSync(errs)
	return pushed, deadLettered, errs
}

// pullAll iterates repositories strictly in dependency order. Per-table
// errors are accumulated; one failing table never aborts the rest.
func (o *Orchestrator) pullAll(ctx context.Context) (int, []string) {
	if !o.Online() {
		return 0, nil
	}

	since, err := o.database.LastSyncAt()
	if err != nil {
		return 0, []string{fmt.Sprintf("read watermark: %v", err)}
	}

	o.mu.Lock()
	repos := make([]repo.Syncer, len(o.repos))
	copy(repos, o.repos)
	o.mu.Unlock()

	pulled := 0
	var errs []string
	for _, r := range repos {
		n, err := r.Pull(ctx, since)
		pulled += n
		if err != nil {
			errs = append(errs, fmt.Sprintf("pull %s: %v", r.Table(), err))
			slog.Warn("pull table", "table", r.Table(), "err", err)
		}
	}
	return pulled, errs
}

// pushPending drains pending mutations in dependency+FIFO order. Requires
// connectivity and a known owner; otherwise a no-op success. Individual
// failures are isolated: permanent errors dead-letter immediately,
// transient errors bump the retry counter, and the batch continues. A
// disconnect aborts the remainder cleanly, leaving items queued.
func (o *Orchestrator) pushPending(ctx context.Context) (pushed, deadLettered int, errs []string) {
	if !o.Online() {
		return 0, 0, nil
	}
	owner := o.auth.Owner()
	if owner == nil {
		return 0, 0, nil
	}

	items, err := o.q.GetPending(*owner, 0)
	if err != nil {
		return 0, 0, []string{fmt.Sprintf("read queue: %v", err)}
	}

	for _, item := range items {
		if !o.Online() || ctx.Err() != nil {
			break // remaining items stay queued for the next cycle
		}

		r := o.repoFor(item.TableName)
		if r == nil {
			// nothing will ever be able to push this
			if err := o.q.MoveToDeadLetter(item.ID, fmt.Errorf("no repository for table %q", item.TableName)); err != nil {
				errs = append(errs, fmt.Sprintf("dead-letter %s: %v", item.ID, err))
			} else {
				deadLettered++
			}
			errs = append(errs, fmt.Sprintf("push %s/%s: unknown table", item.TableName, item.RecordID))
			continue
		}

		pushErr := r.Push(ctx, item)
		if pushErr == nil {
			if err := o.q.MarkComplete(item.ID); err != nil {
				errs = append(errs, fmt.Sprintf("complete %s: %v", item.ID, err))
			} else {
				pushed++
			}
			continue
		}

		errs = append(errs, fmt.Sprintf("push %s/%s: %v", item.TableName, item.RecordID, pushErr))

		if remote.IsPermanent(pushErr) {
			if err := o.q.MoveToDeadLetter(item.ID, pushErr); err != nil {
				errs = append(errs, fmt.Sprintf("dead-letter %s: %v", item.ID, err))
			} else {
				deadLettered++
				slog.Warn("mutation dead-lettered", "table", item.TableName, "record", item.RecordID, "err", pushErr)
			}
			continue
		}

		dl, err := o.q.MarkFailed(item.ID, pushErr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("mark failed %s: %v", item.ID, err))
			continue
		}
		if dl {
			deadLettered++
			slog.Warn("mutation dead-lettered after retries", "table", item.TableName, "record", item.RecordID, "err", pushErr)
		}
	}
	return pushed, deadLettered, errs
}

func (o *Orchestrator) repoFor(table string) repo.Syncer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.byTable[table]
}

// ClaimOwner associates every owner-less local record and queue item with
// the newly signed-in owner, then schedules a push so the adopted mutations
// get delivered.
func (o *Orchestrator) ClaimOwner(owner string) error {
	o.mu.Lock()
	repos := make([]repo.Syncer, len(o.repos))
	copy(repos, o.repos)
	o.mu.Unlock()

	for _, r := range repos {
		if err := r.ClaimOwner(owner); err != nil {
			return fmt.Errorf("claim %s: %w", r.Table(), err)
		}
	}
	err := o.database.WithTx(func(tx *sql.Tx) error {
		_, err := queue.ClaimOwnerTx(tx, owner)
		return err
	})
	if err != nil {
		return err
	}
	o.SchedulePush()
	return nil
}

// Status returns the current status and error message, if any.
func (o *Orchestrator) Status() (Status, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status, o.statusMsg
}

// SubscribeStatus registers a callback invoked with the current status
// immediately and on every transition. The returned func cancels.
func (o *Orchestrator) SubscribeStatus(fn func(Status, string)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.statusSubs[id] = fn
	status, msg := o.status, o.statusMsg
	o.mu.Unlock()

	fn(status, msg)

	return func() {
		o.mu.Lock()
		delete(o.statusSubs, id)
		o.mu.Unlock()
	}
}

// setStatusLocked updates status and fans out to subscribers. Callers hold
// o.mu; callbacks run on a fresh goroutine so a slow subscriber cannot
// stall the sync path.
func (o *Orchestrator) setStatusLocked(status Status, msg string) {
	if o.status == status && o.statusMsg == msg {
		return
	}
	o.status = status
	o.statusMsg = msg
	for _, fn := range o.statusSubs {
		go fn(status, msg)
	}
}

// Queue introspection passthroughs for the operator surface.

// PendingCount returns the number of live queue items for the current
// owner, zero when signed out.
func (o *Orchestrator) PendingCount() (int64, error) {
	owner := o.auth.Owner()
	if owner == nil {
		return 0, nil
	}
	return o.q.PendingCount(*owner)
}

// DeadLetterCount returns the number of dead letters.
func (o *Orchestrator) DeadLetterCount() (int64, error) {
	return o.q.DeadLetterCount()
}

// ListDeadLetters returns dead letters, most recent first.
func (o *Orchestrator) ListDeadLetters(limit int) ([]*queue.DeadLetter, error) {
	return o.q.ListDeadLetters(limit)
}

// RetryDeadLetter re-enqueues one dead letter and schedules a push.
func (o *Orchestrator) RetryDeadLetter(id string) error {
	if _, err := o.q.RetryDeadLetter(id); err != nil {
		return err
	}
	o.SchedulePush()
	return nil
}

// RetryAllDeadLetters re-enqueues every dead letter and schedules a push.
func (o *Orchestrator) RetryAllDeadLetters() (int, error) {
	n, err := o.q.RetryAllDeadLetters()
	if err != nil {
		return n, err
	}
	if n > 0 {
		o.SchedulePush()
	}
	return n, nil
}

// DiscardDeadLetter drops one dead letter permanently.
func (o *Orchestrator) DiscardDeadLetter(id string) error {
	return o.q.DiscardDeadLetter(id)
}

// ClearQueue empties the queue and dead letters. Debug/reset only.
func (o *Orchestrator) ClearQueue() error {
	return o.q.Clear()
}
