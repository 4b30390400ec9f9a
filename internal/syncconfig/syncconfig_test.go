package syncconfig

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the config dir at a fresh temp home and clears every
// GOALDY_* override so tests see only what they set themselves.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"GOALDY_SYNC_URL", "GOALDY_AUTH_KEY", "GOALDY_OWNER_ID",
		"GOALDY_SYNC_DEBOUNCE", "GOALDY_SYNC_INTERVAL", "GOALDY_SYNC_MAX_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	isolate(t)

	if got := GetServerURL(); got != defaultServerURL {
		t.Errorf("GetServerURL() = %q, want %q", got, defaultServerURL)
	}
	if got := GetDebounce(); got != 2*time.Second {
		t.Errorf("GetDebounce() = %v, want 2s", got)
	}
	if got := GetInterval(); got != 60*time.Second {
		t.Errorf("GetInterval() = %v, want 60s", got)
	}
	if got := GetMaxAttempts(); got != 3 {
		t.Errorf("GetMaxAttempts() = %d, want 3", got)
	}
	if IsAuthenticated() {
		t.Error("fresh home must not be authenticated")
	}
	if got := GetOwnerID(); got != "" {
		t.Errorf("GetOwnerID() = %q, want empty", got)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	isolate(t)

	err := SaveConfig(&Config{Sync: SyncConfig{
		URL:      "http://from-file:9090",
		Debounce: "5s",
		Interval: "3m",
	}})
	if err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	if got := GetServerURL(); got != "http://from-file:9090" {
		t.Errorf("GetServerURL() = %q, want config file value", got)
	}
	if got := GetDebounce(); got != 5*time.Second {
		t.Errorf("GetDebounce() = %v, want 5s from config", got)
	}

	t.Setenv("GOALDY_SYNC_URL", "http://from-env:7070")
	t.Setenv("GOALDY_SYNC_DEBOUNCE", "250ms")
	t.Setenv("GOALDY_SYNC_INTERVAL", "10s")
	t.Setenv("GOALDY_SYNC_MAX_ATTEMPTS", "7")

	if got := GetServerURL(); got != "http://from-env:7070" {
		t.Errorf("GetServerURL() = %q, env must win", got)
	}
	if got := GetDebounce(); got != 250*time.Millisecond {
		t.Errorf("GetDebounce() = %v, env must win", got)
	}
	if got := GetInterval(); got != 10*time.Second {
		t.Errorf("GetInterval() = %v, env must win", got)
	}
	if got := GetMaxAttempts(); got != 7 {
		t.Errorf("GetMaxAttempts() = %d, env must win", got)
	}
}

func TestInvalidEnvValuesFallThrough(t *testing.T) {
	isolate(t)

	t.Setenv("GOALDY_SYNC_DEBOUNCE", "soon")
	t.Setenv("GOALDY_SYNC_INTERVAL", "whenever")
	t.Setenv("GOALDY_SYNC_MAX_ATTEMPTS", "-2")

	if got := GetDebounce(); got != 2*time.Second {
		t.Errorf("GetDebounce() = %v, bad env must fall back to default", got)
	}
	if got := GetInterval(); got != 60*time.Second {
		t.Errorf("GetInterval() = %v, bad env must fall back to default", got)
	}
	if got := GetMaxAttempts(); got != 3 {
		t.Errorf("GetMaxAttempts() = %d, non-positive env must fall back", got)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	isolate(t)

	creds, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth failed: %v", err)
	}
	if creds != nil {
		t.Fatal("fresh home must have no credentials")
	}

	saved := &AuthCredentials{
		APIKey:    "key-test",
		OwnerID:   "owner-1",
		Email:     "dev@example.com",
		ServerURL: "http://localhost:8080",
		DeviceID:  "abcd1234",
	}
	if err := SaveAuth(saved); err != nil {
		t.Fatalf("SaveAuth failed: %v", err)
	}

	loaded, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth failed: %v", err)
	}
	if loaded == nil || loaded.APIKey != "key-test" || loaded.OwnerID != "owner-1" {
		t.Errorf("loaded = %+v, want saved credentials", loaded)
	}
	if !IsAuthenticated() {
		t.Error("IsAuthenticated must be true after SaveAuth")
	}
	if got := GetOwnerID(); got != "owner-1" {
		t.Errorf("GetOwnerID() = %q, want owner-1", got)
	}

	// credentials are private to the user
	dir, _ := ConfigDir()
	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatalf("stat auth.json: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("auth.json perms = %o, want 0600", perm)
	}

	if err := ClearAuth(); err != nil {
		t.Fatalf("ClearAuth failed: %v", err)
	}
	if IsAuthenticated() {
		t.Error("IsAuthenticated must be false after ClearAuth")
	}
	// clearing twice is fine
	if err := ClearAuth(); err != nil {
		t.Fatalf("second ClearAuth failed: %v", err)
	}
}

func TestGetDeviceID(t *testing.T) {
	isolate(t)

	// no auth file: generates a fresh one
	id, err := GetDeviceID()
	if err != nil {
		t.Fatalf("GetDeviceID failed: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("device id %q, want 32 hex chars", id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("device id %q is not hex: %v", id, err)
	}

	// stored id wins over generation
	if err := SaveAuth(&AuthCredentials{APIKey: "k", DeviceID: "stored-device"}); err != nil {
		t.Fatalf("SaveAuth failed: %v", err)
	}
	id, err = GetDeviceID()
	if err != nil {
		t.Fatalf("GetDeviceID failed: %v", err)
	}
	if id != "stored-device" {
		t.Errorf("GetDeviceID() = %q, want stored id", id)
	}
}

func TestGenerateDeviceIDIsUnique(t *testing.T) {
	a, err := GenerateDeviceID()
	if err != nil {
		t.Fatalf("GenerateDeviceID failed: %v", err)
	}
	b, err := GenerateDeviceID()
	if err != nil {
		t.Fatalf("GenerateDeviceID failed: %v", err)
	}
	if a == b {
		t.Error("two generated device ids collided")
	}
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg == nil || cfg.Sync.URL != "" {
		t.Errorf("cfg = %+v, want empty config", cfg)
	}
}
