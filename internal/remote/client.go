// Package remote is the HTTP client for the Goaldy sync backend. All
// methods operate on one table at a time and speak full-snapshot JSON;
// deletes are always remote soft-deletes so tombstones propagate.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
)

// IsPermanent reports whether a push error can never succeed without
// operator or user intervention (re-auth, data fix). Permanent errors
// bypass the retry counter and dead-letter immediately; everything else
// (network unreachability, timeouts, 5xx) is retryable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest)
}

// Client is an HTTP client for the goaldy sync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// TombstoneRequest is the body for POST /v1/{table}/{id}/delete.
type TombstoneRequest struct {
	DeletedAt time.Time `json:"deleted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangesResponse is the response from GET /v1/{table}/changes.
type ChangesResponse struct {
	Records []json.RawMessage `json:"records"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WhoAmI verifies the API key and returns the owner id it resolves to.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var resp struct {
		OwnerID string `json:"owner_id"`
	}
	if err := c.do(ctx, "GET", "/v1/whoami", nil, &resp); err != nil {
		return "", err
	}
	return resp.OwnerID, nil
}

// Upsert writes a full record snapshot keyed by id. Used for both insert
// and update mutations; the server treats them identically.
func (c *Client) Upsert(ctx context.Context, table, id string, record json.RawMessage) error {
	return c.do(ctx, "PUT", fmt.Sprintf("/v1/%s/%s", table, id), record, nil)
}

// SoftDelete sets the tombstone on a remote record. The timestamps come
// from the queued snapshot so the remote row converges to the same
// tombstone the local row carries.
func (c *Client) SoftDelete(ctx context.Context, table, id string, req *TombstoneRequest) error {
	return c.do(ctx, "POST", fmt.Sprintf("/v1/%s/%s/delete", table, id), req, nil)
}

// ChangedSince returns all of the owner's records in a table with
// updated_at strictly greater than since. A nil since fetches everything.
func (c *Client) ChangedSince(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	params := url.Values{}
	if since != nil {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/v1/%s/changes", table)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp ChangesResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		var data []byte
		switch b := body.(type) {
		case json.RawMessage:
			data = b
		default:
			var err error
			data, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		var apiErr apiError
		if json.Unmarshal(respBody, &struct {
			Error *apiError `json:"error"`
		}{Error: &apiErr}) == nil && apiErr.Code != "" {
			msg = apiErr.Error()
		}
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrBadRequest, msg)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		default:
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
