package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/morlinbrot/goaldy/internal/models"
	"github.com/morlinbrot/goaldy/internal/serverdb"
)

const maxSnapshotBytes = 1 << 20 // 1 MiB per record is already generous

type contextKey int

const ctxKeyOwner contextKey = iota

// ownerFromContext returns the authenticated owner id set by requireAuth.
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ctxKeyOwner).(string)
	return owner
}

// requireAuth resolves the bearer API key to an owner id and stores it in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || key == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}
		owner, err := s.store.OwnerForKey(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "auth lookup failed")
			return
		}
		if owner == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid api key")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyOwner, owner)
		next(w, r.WithContext(ctx))
	}
}

// handleWhoAmI echoes the owner id the API key resolves to. Clients use it
// at login to verify a key and learn their identity.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerFromContext(r.Context())})
}

// tableFromRequest validates the {table} path segment.
func tableFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	table := r.PathValue("table")
	if !models.ValidTable(table) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown table")
		return "", false
	}
	return table, true
}

// handleUpsert stores a full record snapshot. PUT /v1/{table}/{id}
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	table, ok := tableFromRequest(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	owner := ownerFromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "read body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "body is not valid JSON")
		return
	}

	if err := s.store.UpsertRecord(table, id, owner, body); err != nil {
		if errors.Is(err, serverdb.ErrInvalidSnapshot) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		// storage failure: keep it retryable for the client
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// tombstoneRequest is the body for POST /v1/{table}/{id}/delete.
type tombstoneRequest struct {
	DeletedAt time.Time `json:"deleted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleSoftDelete sets the tombstone on a record.
func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	table, ok := tableFromRequest(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	owner := ownerFromContext(r.Context())

	var req tombstoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "decode body")
		return
	}
	if req.DeletedAt.IsZero() || req.UpdatedAt.IsZero() {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "deleted_at and updated_at are required")
		return
	}

	err := s.store.SoftDeleteRecord(table, id, owner, req.DeletedAt, req.UpdatedAt)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// changesResponse is the response from GET /v1/{table}/changes.
type changesResponse struct {
	Records []json.RawMessage `json:"records"`
}

// handleChanges returns the owner's records changed since the given
// watermark, tombstones included.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	table, ok := tableFromRequest(w, r)
	if !ok {
		return
	}
	owner := ownerFromContext(r.Context())

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid since timestamp")
			return
		}
		since = &t
	}

	records, err := s.store.ChangedSince(table, owner, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, changesResponse{Records: records})
}
