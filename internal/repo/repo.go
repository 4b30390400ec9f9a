// Package repo provides the per-entity repository: the only API the rest of
// the app uses to read or write a synced entity type. Reads are always
// local; writes hit local storage and the mutation queue atomically, then
// ask the orchestrator for a debounced push.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/morlinbrot/goaldy/internal/db"
	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/queue"
	"github.com/morlinbrot/goaldy/internal/remote"
)

// LocalStore is the persistence surface a repository needs for one entity
// type. internal/db provides implementations.
type LocalStore[T models.Entity] interface {
	Get(id string) (T, error)
	List(includeDeleted bool) ([]T, error)
	Upsert(tx *sql.Tx, rec T) error
	HardDelete(tx *sql.Tx, id string) error
	ClaimOwner(tx *sql.Tx, owner string) (int64, error)
}

// RemoteStore is the backend surface a repository needs. *remote.Client
// satisfies it; tests substitute fakes.
type RemoteStore interface {
	Upsert(ctx context.Context, table, id string, record json.RawMessage) error
	SoftDelete(ctx context.Context, table, id string, req *remote.TombstoneRequest) error
	ChangedSince(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error)
}

// Scheduler is how a repository requests a debounced push after a local
// mutation. The sync orchestrator satisfies it.
type Scheduler interface {
	SchedulePush()
}

// Syncer is the non-generic view the orchestrator holds of a repository.
type Syncer interface {
	Table() string
	Pull(ctx context.Context, since *time.Time) (int, error)
	Push(ctx context.Context, item *queue.Item) error
	ClaimOwner(owner string) error
}

// Repository composes local storage, the remote client, and the mutation
// queue for one entity type.
type Repository[T models.Entity] struct {
	table     string
	database  *db.DB
	local     LocalStore[T]
	remote    RemoteStore
	scheduler Scheduler
	owner     func() *string
	newRecord func() T

	// MergeFn overrides the default last-write-wins merge when an entity
	// needs special handling. Returns whether the remote record was
	// accepted into local storage.
	MergeFn func(tx *sql.Tx, remoteRec T) (bool, error)

	mu      sync.Mutex
	subs    map[int]func([]T)
	nextSub int
}

// Config carries the collaborators a repository is constructed with.
type Config[T models.Entity] struct {
	Table     string
	DB        *db.DB
	Local     LocalStore[T]
	Remote    RemoteStore
	Scheduler Scheduler
	Owner     func() *string // current authenticated owner, nil when signed out
	New       func() T       // allocates an empty record for JSON decoding
}

// New creates a repository for one entity type.
func New[T models.Entity](cfg Config[T]) *Repository[T] {
	return &Repository[T]{
		table:     cfg.Table,
		database:  cfg.DB,
		local:     cfg.Local,
		remote:    cfg.Remote,
		scheduler: cfg.Scheduler,
		owner:     cfg.Owner,
		newRecord: cfg.New,
		subs:      make(map[int]func([]T)),
	}
}

// Table returns the entity table name.
func (r *Repository[T]) Table() string { return r.table }

// GetAll returns all non-deleted records from local storage.
func (r *Repository[T]) GetAll() ([]T, error) {
	return r.local.List(false)
}

// GetAllIncludingDeleted returns every local record, tombstones included.
func (r *Repository[T]) GetAllIncludingDeleted() ([]T, error) {
	return r.local.List(true)
}

// GetByID returns a record by id, or the zero value if absent or
// tombstoned.
func (r *Repository[T]) GetByID(id string) (T, error) {
	var zero T
	rec, err := r.local.Get(id)
	if err != nil {
		return zero, err
	}
	if isNil(rec) || rec.Meta().Deleted() {
		return zero, nil
	}
	return rec, nil
}

// Query returns non-deleted records matching the predicate. Local only.
func (r *Repository[T]) Query(match func(T) bool) ([]T, error) {
	recs, err := r.local.List(false)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, rec := range recs {
		if match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Create assigns identity and sync metadata to rec, writes it locally, and
// (when an owner is known) enqueues an insert mutation in the same
// transaction before scheduling a push.
func (r *Repository[T]) Create(rec T) (T, error) {
	var zero T
	now := time.Now().UTC()
	owner := r.owner()

	meta := rec.Meta()
	meta.ID = uuid.NewString()
	meta.Owner = owner
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.DeletedAt = nil

	err := r.database.WithTx(func(tx *sql.Tx) error {
		if err := r.local.Upsert(tx, rec); err != nil {
			return err
		}
		if owner != nil {
			return r.enqueueTx(tx, rec, queue.OpInsert)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}

	if owner != nil {
		r.schedulePush()
	}
	r.notify()
	return rec, nil
}

// Update applies changes to an existing record, bumps updated_at, writes
// locally, and enqueues an update mutation when owned. Returns the zero
// value with a nil error if the record does not exist locally.
func (r *Repository[T]) Update(id string, apply func(T)) (T, error) {
	var zero T
	rec, err := r.local.Get(id)
	if err != nil {
		return zero, err
	}
	if isNil(rec) {
		return zero, nil
	}

	apply(rec)
	meta := rec.Meta()
	meta.ID = id // changes must not rebind identity
	meta.UpdatedAt = time.Now().UTC()
	owned := meta.Owner != nil

	err = r.database.WithTx(func(tx *sql.Tx) error {
		if err := r.local.Upsert(tx, rec); err != nil {
			return err
		}
		if owned {
			return r.enqueueTx(tx, rec, queue.OpUpdate)
		}
		return nil
	})
	if err != nil {
		return zero, err
	}

	if owned {
		r.schedulePush()
	}
	r.notify()

	merged, err := r.local.Get(id)
	if err != nil {
		return zero, err
	}
	return merged, nil
}

// Delete removes a record. Owned records get a soft delete plus a delete
// mutation carrying the tombstoned snapshot, so the remote side converges
// to the same tombstone. Never-owned records are hard-deleted; there is
// nothing to reconcile. No-op if the record is absent.
func (r *Repository[T]) Delete(id string) error {
	rec, err := r.local.Get(id)
	if err != nil {
		return err
	}
	if isNil(rec) {
		return nil
	}

	meta := rec.Meta()
	owned := meta.Owner != nil

	err = r.database.WithTx(func(tx *sql.Tx) error {
		if !owned {
			return r.local.HardDelete(tx, id)
		}
		now := time.Now().UTC()
		meta.DeletedAt = &now
		meta.UpdatedAt = now
		if err := r.local.Upsert(tx, rec); err != nil {
			return err
		}
		return r.enqueueTx(tx, rec, queue.OpDelete)
	})
	if err != nil {
		return err
	}

	if owned {
		r.schedulePush()
	}
	r.notify()
	return nil
}

// enqueueTx snapshots rec and appends the mutation in the caller's
// transaction.
func (r *Repository[T]) enqueueTx(tx *sql.Tx, rec T, op queue.Op) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot %s/%s: %w", r.table, rec.Meta().ID, err)
	}
	_, err = queue.EnqueueTx(tx, r.table, rec.Meta().ID, op, payload, rec.Meta().Owner)
	return err
}

func (r *Repository[T]) schedulePush() {
	if r.scheduler != nil {
		r.scheduler.SchedulePush()
	}
}

// Pull fetches remote records changed since the watermark and merges each.
// Returns the number of records actually accepted into local storage.
func (r *Repository[T]) Pull(ctx context.Context, since *time.Time) (int, error) {
	records, err := r.remote.ChangedSince(ctx, r.table, since)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, raw := range records {
		rec := r.newRecord()
		if err := json.Unmarshal(raw, rec); err != nil {
			return merged, fmt.Errorf("decode %s record: %w", r.table, err)
		}
		accepted, err := r.mergeOne(rec)
		if err != nil {
			return merged, err
		}
		if accepted {
			merged++
		}
	}

	if merged > 0 {
		r.notify()
	}
	return merged, nil
}

// mergeOne runs the merge policy for a single remote record in its own
// transaction.
func (r *Repository[T]) mergeOne(remoteRec T) (bool, error) {
	accepted := false
	err := r.database.WithTx(func(tx *sql.Tx) error {
		var err error
		if r.MergeFn != nil {
			accepted, err = r.MergeFn(tx, remoteRec)
		} else {
			accepted, err = r.defaultMerge(tx, remoteRec)
		}
		return err
	})
	return accepted, err
}

// defaultMerge is pure last-write-wins on updated_at: the remote version is
// written only when the local record is absent or strictly older. Ties keep
// local. Tombstoned rows participate like any other row, so a newer remote
// update can resurrect a local tombstone and vice versa.
func (r *Repository[T]) defaultMerge(tx *sql.Tx, remoteRec T) (bool, error) {
	local, err := r.local.Get(remoteRec.Meta().ID)
	if err != nil {
		return false, err
	}
	if !isNil(local) && !remoteRec.Meta().UpdatedAt.After(local.Meta().UpdatedAt) {
		return false, nil
	}
	if err := r.local.Upsert(tx, remoteRec); err != nil {
		return false, err
	}
	return true, nil
}

// Push executes one queued mutation against the remote store. Inserts and
// updates are upserts of the queued snapshot; deletes become remote soft
// deletes carrying the tombstone timestamps from the snapshot.
func (r *Repository[T]) Push(ctx context.Context, item *queue.Item) error {
	switch item.Op {
	case queue.OpInsert, queue.OpUpdate:
		return r.remote.Upsert(ctx, r.table, item.RecordID, item.Payload)
	case queue.OpDelete:
		var meta models.SyncMeta
		if err := json.Unmarshal(item.Payload, &meta); err != nil {
			return fmt.Errorf("decode tombstone %s/%s: %w", r.table, item.RecordID, err)
		}
		if meta.DeletedAt == nil {
			return fmt.Errorf("delete snapshot %s/%s has no tombstone", r.table, item.RecordID)
		}
		return r.remote.SoftDelete(ctx, r.table, item.RecordID, &remote.TombstoneRequest{
			DeletedAt: *meta.DeletedAt,
			UpdatedAt: meta.UpdatedAt,
		})
	default:
		return fmt.Errorf("unknown operation %q", item.Op)
	}
}

// ClaimOwner retroactively associates owner-less local records with the
// newly signed-in owner.
func (r *Repository[T]) ClaimOwner(owner string) error {
	err := r.database.WithTx(func(tx *sql.Tx) error {
		_, err := r.local.ClaimOwner(tx, owner)
		return err
	})
	if err != nil {
		return err
	}
	r.notify()
	return nil
}

// Subscribe registers a callback that receives the full current collection
// immediately and again after every local mutation or accepted pull merge.
// The returned func cancels the subscription.
func (r *Repository[T]) Subscribe(fn func([]T)) (func(), error) {
	recs, err := r.GetAll()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	fn(recs)

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}, nil
}

// notify pushes the refreshed collection to all subscribers. Failures to
// read are swallowed; subscribers simply miss one update.
func (r *Repository[T]) notify() {
	r.mu.Lock()
	fns := make([]func([]T), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	recs, err := r.GetAll()
	if err != nil {
		return
	}
	for _, fn := range fns {
		fn(recs)
	}
}

// isNil reports whether a pointer-typed entity value is nil. Entities are
// always pointer types (*models.Goal etc), so a nil store result arrives
// here as a typed nil.
func isNil[T models.Entity](rec T) bool {
	v := any(rec)
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsNil()
}
