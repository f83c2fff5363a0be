// Package credentials keeps the OpenRouter API key out of the config
// file, in a user-only file that the setup wizard writes.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials stores the provider API key.
type Credentials struct {
	APIKey string `yaml:"api_key"`
}

// Manager handles credential storage and retrieval.
type Manager struct {
	path string
}

// NewManager creates a new credential manager.
// Checks SHELLPILOT_CREDENTIALS_PATH environment variable first.
// If not set, defaults to ~/.shellpilot/credentials.yaml.
func NewManager() *Manager {
	credPath := os.Getenv("SHELLPILOT_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = filepath.Join(getConfigDir(), "credentials.yaml")
	}
	return &Manager{path: credPath}
}

func getConfigDir() string {
	if configDir := os.Getenv("SHELLPILOT_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellpilot"
	}
	return filepath.Join(home, ".shellpilot")
}

// Load reads credentials from disk. A missing file yields empty
// credentials, not an error.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// Save writes credentials to disk with user-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Exists checks if the credentials file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the credentials file path.
func (m *Manager) Path() string {
	return m.path
}

// APIKey resolves the key to use: the OPENROUTER_API_KEY environment
// variable wins over the stored file. Empty means unconfigured.
func (m *Manager) APIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); key != "" {
		return key, nil
	}
	creds, err := m.Load()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(creds.APIKey), nil
}
