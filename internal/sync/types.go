package sync

import (
	"errors"
	"strings"
)

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// ErrSyncInProgress is returned when FullSync is called while a sync cycle
// is already running. Concurrent syncs are rejected, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// AuthContext provides the authenticated identity. It is a leaf dependency
// injected into the sync layer; the sync layer never reaches back into auth.
type AuthContext interface {
	// Owner returns the current owner id, or nil before first sign-in.
	Owner() *string
}

// Result summarises one full sync cycle. Errors are aggregated rather than
// thrown so callers can display partial success.
type Result struct {
	Success      bool
	Pushed       int
	Pulled       int
	DeadLettered int
	Errors       []string
}

// ErrorMessage joins the accumulated errors into one display string.
func (r Result) ErrorMessage() string {
	return strings.Join(r.Errors, "; ")
}
