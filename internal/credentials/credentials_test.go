package credentials

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	t.Setenv("SHELLPILOT_CREDENTIALS_PATH", path)
	return NewManager()
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	m := newTestManager(t)

	creds, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.APIKey != "" {
		t.Errorf("Expected empty credentials, got %+v", creds)
	}
	if m.Exists() {
		t.Error("Exists must be false before the first save")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)

	if err := m.Save(&Credentials{APIKey: "sk-or-test-123"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !m.Exists() {
		t.Error("Exists must be true after save")
	}

	creds, err := m.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.APIKey != "sk-or-test-123" {
		t.Errorf("Expected the saved key, got %q", creds.APIKey)
	}
}

func TestSaveRestrictsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	m := newTestManager(t)

	if err := m.Save(&Credentials{APIKey: "sk-secret"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(m.Path())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}
}

func TestAPIKeyEnvWins(t *testing.T) {
	m := newTestManager(t)
	if err := m.Save(&Credentials{APIKey: "sk-from-file"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	t.Setenv("OPENROUTER_API_KEY", "sk-from-env")

	key, err := m.APIKey()
	if err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if key != "sk-from-env" {
		t.Errorf("Expected the environment key to win, got %q", key)
	}
}

func TestAPIKeyFallsBackToFile(t *testing.T) {
	m := newTestManager(t)
	t.Setenv("OPENROUTER_API_KEY", "")
	if err := m.Save(&Credentials{APIKey: "sk-from-file"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	key, err := m.APIKey()
	if err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if key != "sk-from-file" {
		t.Errorf("Expected the stored key, got %q", key)
	}
}

func TestManagerPathOverride(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "elsewhere", "creds.yaml")
	t.Setenv("SHELLPILOT_CREDENTIALS_PATH", custom)

	m := NewManager()
	if m.Path() != custom {
		t.Errorf("Expected path override %q, got %q", custom, m.Path())
	}
}
