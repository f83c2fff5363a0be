package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel   = "nvidia/nemotron-nano-9b-v2:free"
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// Config captures the tunable runtime settings for the agent.
type Config struct {
	Model                 string  `yaml:"model"`
	BaseURL               string  `yaml:"base_url"`
	Temperature           float64 `yaml:"temperature"`
	TopP                  float64 `yaml:"top_p"`
	SystemPrompt          string  `yaml:"system_prompt"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	CommandTimeoutMS      int     `yaml:"command_timeout_ms"`
	AllowPipes            bool    `yaml:"allow_pipes"`
	ConfirmBeforeRun      *bool   `yaml:"confirm_before_run"`
	MaxHistoryMessages    int     `yaml:"max_history_messages"`
	WorkspaceRoot         string  `yaml:"workspace_root"`
	ConversationDir       string  `yaml:"conversation_dir"`
	PolicyPath            string  `yaml:"policy_path"`
	AuditLogPath          string  `yaml:"audit_log_path"`
	HistoryPath           string  `yaml:"history_path"`
	LogPath               string  `yaml:"log_path"`
}

// LoadUserConfig loads configuration from ~/.shellpilot/config.yaml.
// Checks SHELLPILOT_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("SHELLPILOT_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML configuration file from an explicit path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.TopP == 0 {
		c.TopP = 0.95
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.CommandTimeoutMS <= 0 {
		c.CommandTimeoutMS = 30000
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = 40
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		c.WorkspaceRoot = "."
	}
	if strings.TrimSpace(c.ConversationDir) == "" {
		c.ConversationDir = filepath.Join(GetConfigDir(), "sessions")
	}
	if strings.TrimSpace(c.PolicyPath) == "" {
		c.PolicyPath = filepath.Join(GetConfigDir(), "policy.yaml")
	}
	if strings.TrimSpace(c.AuditLogPath) == "" {
		c.AuditLogPath = filepath.Join(GetConfigDir(), "audit.db")
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), ".history")
	}
	if strings.TrimSpace(c.LogPath) == "" {
		c.LogPath = filepath.Join(GetConfigDir(), "logs", "shellpilot.log")
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %g)", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1.0 {
		return fmt.Errorf("top_p must be between 0 and 1.0 (got %g)", c.TopP)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.CommandTimeoutMS > 600000 {
		return fmt.Errorf("command_timeout_ms cannot exceed 600000 (10 minutes)")
	}
	if c.MaxHistoryMessages < 2 {
		return fmt.Errorf("max_history_messages must be at least 2 (got %d)", c.MaxHistoryMessages)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https:// (got %q)", c.BaseURL)
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CommandTimeout exposes the per-command deadline for the shell runner.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// ShouldConfirm reports whether the confirmation gate is active. The
// gate is on unless the file explicitly turns it off.
func (c Config) ShouldConfirm() bool {
	if c.ConfirmBeforeRun == nil {
		return true
	}
	return *c.ConfirmBeforeRun
}

// GetConfigDir resolves the directory holding config, credentials,
// sessions, and logs.
func GetConfigDir() string {
	if configDir := os.Getenv("SHELLPILOT_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellpilot"
	}
	return filepath.Join(home, ".shellpilot")
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configDir := GetConfigDir()
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Config{}
	cfg.applyDefaults()
	confirm := true
	cfg.ConfirmBeforeRun = &confirm

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	configPath := os.Getenv("SHELLPILOT_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
