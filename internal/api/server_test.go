package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morlinbrot/goaldy/internal/serverdb"
)

func testServer(t *testing.T) (*httptest.Server, *serverdb.ServerDB) {
	t.Helper()
	store, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateAPIKey("key-alice", "alice"); err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if err := store.CreateAPIKey("key-bob", "bob"); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	s := NewServer(Config{}, store)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, key, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func goalSnapshot(id, owner string, target int64, updatedAt time.Time) string {
	return fmt.Sprintf(`{"id":%q,"owner":%q,"name":"Bike","target_cents":%d,"saved_cents":0,"created_at":%q,"updated_at":%q}`,
		id, owner, target,
		updatedAt.Add(-time.Hour).Format(time.RFC3339Nano),
		updatedAt.Format(time.RFC3339Nano))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	resp, body := doRequest(t, srv, "GET", "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := doRequest(t, srv, "GET", "/v1/goals/changes", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}

	resp, body := doRequest(t, srv, "GET", "/v1/goals/changes", "wrong-key", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj == nil || errObj["code"] != ErrCodeUnauthorized {
		t.Errorf("error body = %v, want code %s", body, ErrCodeUnauthorized)
	}
}

func TestWhoAmIEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	resp, body := doRequest(t, srv, "GET", "/v1/whoami", "key-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["owner_id"] != "alice" {
		t.Errorf("owner_id = %v, want alice", body["owner_id"])
	}
}

func TestUpsertStorageFailureIs500(t *testing.T) {
	store, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.Close()
	s := NewServer(Config{}, store)

	// Straight to the handler: the failure under test happens after auth.
	req := httptest.NewRequest("PUT", "/v1/goals/g-1", strings.NewReader(goalSnapshot("g-1", "alice", 1000, time.Now().UTC())))
	req.SetPathValue("table", "goals")
	req.SetPathValue("id", "g-1")
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyOwner, "alice"))
	rr := httptest.NewRecorder()

	s.handleUpsert(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the client retries", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj == nil || errObj["code"] != ErrCodeInternal {
		t.Errorf("error body = %v, want code %s", body, ErrCodeInternal)
	}
}

func TestUpsertAndChanges(t *testing.T) {
	srv, _ := testServer(t)
	now := time.Now().UTC()

	resp, _ := doRequest(t, srv, "PUT", "/v1/goals/g-1", "key-alice", goalSnapshot("g-1", "alice", 50000, now))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", resp.StatusCode)
	}

	resp, body := doRequest(t, srv, "GET", "/v1/goals/changes", "key-alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("changes status = %d, want 200", resp.StatusCode)
	}
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec, _ := records[0].(map[string]any)
	if rec["id"] != "g-1" || rec["owner"] != "alice" {
		t.Errorf("record = %v", rec)
	}
}

func TestUpsertValidation(t *testing.T) {
	srv, _ := testServer(t)
	now := time.Now().UTC()

	// body/path id mismatch
	resp, _ := doRequest(t, srv, "PUT", "/v1/goals/g-other", "key-alice", goalSnapshot("g-1", "alice", 1, now))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("id mismatch: status = %d, want 400", resp.StatusCode)
	}

	// missing updated_at
	resp, _ = doRequest(t, srv, "PUT", "/v1/goals/g-1", "key-alice", `{"id":"g-1","name":"Bike"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("no updated_at: status = %d, want 400", resp.StatusCode)
	}

	// invalid JSON
	resp, _ = doRequest(t, srv, "PUT", "/v1/goals/g-1", "key-alice", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON: status = %d, want 400", resp.StatusCode)
	}

	// unknown table
	resp, _ = doRequest(t, srv, "PUT", "/v1/issues/g-1", "key-alice", goalSnapshot("g-1", "alice", 1, now))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown table: status = %d, want 400", resp.StatusCode)
	}
}

func TestUpsertRestampsOwner(t *testing.T) {
	srv, _ := testServer(t)
	now := time.Now().UTC()

	// Snapshot claims bob; the authenticated key is alice's. The stored
	// record must belong to alice.
	resp, _ := doRequest(t, srv, "PUT", "/v1/goals/g-1", "key-alice", goalSnapshot("g-1", "bob", 1, now))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d, want 200", resp.StatusCode)
	}

	_, body := doRequest(t, srv, "GET", "/v1/goals/changes", "key-alice", "")
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("alice should see the record she wrote")
	}
	rec, _ := records[0].(map[string]any)
	if rec["owner"] != "alice" {
		t.Errorf("owner = %v, must be re-stamped to alice", rec["owner"])
	}

	_, body = doRequest(t, srv, "GET", "/v1/goals/changes", "key-bob", "")
	records, _ = body["records"].([]any)
	if len(records) != 0 {
		t.Error("bob must not see alice's records")
	}
}

func TestSoftDelete(t *testing.T) {
	srv, _ := testServer(t)
	now := time.Now().UTC()
	doRequest(t, srv, "PUT", "/v1/goals/g-1", "key-alice", goalSnapshot("g-1", "alice", 1, now))

	tomb := fmt.Sprintf(`{"deleted_at":%q,"updated_at":%q}`,
		now.Add(time.Minute).Format(time.RFC3339Nano),
		now.Add(time.Minute).Format(time.RFC3339Nano))

	resp, _ := doRequest(t, srv, "POST", "/v1/goals/g-1/delete", "key-alice", tomb)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}

	// Tombstone is included in changes
	_, body := doRequest(t, srv, "GET", "/v1/goals/changes", "key-alice", "")
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %d, want the tombstone", len(records))
	}
	rec, _ := records[0].(map[string]any)
	if rec["deleted_at"] == nil {
		t.Error("changed record must carry its tombstone")
	}

	// Unknown record 404s
	resp, _ = doRequest(t, srv, "POST", "/v1/goals/nope/delete", "key-alice", tomb)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown record: status = %d, want 404", resp.StatusCode)
	}

	// Another owner's record 404s rather than leaking existence
	resp, _ = doRequest(t, srv, "POST", "/v1/goals/g-1/delete", "key-bob", tomb)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other owner: status = %d, want 404", resp.StatusCode)
	}

	// Missing timestamps 400
	resp, _ = doRequest(t, srv, "POST", "/v1/goals/g-1/delete", "key-alice", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing timestamps: status = %d, want 400", resp.StatusCode)
	}
}

func TestChangesSinceFilter(t *testing.T) {
	srv, _ := testServer(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	doRequest(t, srv, "PUT", "/v1/goals/g-old", "key-alice", goalSnapshot("g-old", "alice", 1, old))
	doRequest(t, srv, "PUT", "/v1/goals/g-new", "key-alice", goalSnapshot("g-new", "alice", 1, recent))

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	_, body := doRequest(t, srv, "GET", "/v1/goals/changes?since="+since, "key-alice", "")
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec, _ := records[0].(map[string]any)
	if rec["id"] != "g-new" {
		t.Errorf("id = %v, want g-new", rec["id"])
	}

	// Strictly greater: since equal to a record's updated_at excludes it
	_, body = doRequest(t, srv, "GET", "/v1/goals/changes?since="+recent.Format(time.RFC3339Nano), "key-alice", "")
	records, _ = body["records"].([]any)
	if len(records) != 0 {
		t.Errorf("records = %d, want 0 for equal watermark", len(records))
	}

	// Bad since
	resp, _ := doRequest(t, srv, "GET", "/v1/goals/changes?since=yesterday", "key-alice", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", resp.StatusCode)
	}

	// Empty result is an empty array, never null
	_, body = doRequest(t, srv, "GET", "/v1/contributions/changes", "key-alice", "")
	if records, ok := body["records"].([]any); !ok || records == nil {
		t.Error("records must decode as an empty array")
	}
}
