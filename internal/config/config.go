// Package config loads and writes the sake workspace configuration.
// The config lives at <workspace>/.sake/config.yaml; a missing file means
// defaults, never an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sake configuration.
type Config struct {
	Name string `yaml:"name"`

	// Backend connection
	Network NetworkConfig `yaml:"network"`

	// UI bridge
	Bridge BridgeConfig `yaml:"bridge"`

	// State file and autosave
	Persistence PersistenceConfig `yaml:"persistence"`

	// Transaction history archive
	History HistoryConfig `yaml:"history"`

	// Compiled contract artifacts
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// NetworkConfig configures how adapters reach the sandbox backend.
type NetworkConfig struct {
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	DefaultAccounts int    `yaml:"default_accounts"`
	DefaultChainID  uint64 `yaml:"default_chain_id"`
	DefaultHardFork string `yaml:"default_hard_fork"`
}

// BridgeConfig configures the websocket bridge to the detached UI.
type BridgeConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	RestartAckTimeout string `yaml:"restart_ack_timeout"`
}

// PersistenceConfig configures session state persistence.
type PersistenceConfig struct {
	// StateFile is workspace-relative unless absolute.
	StateFile        string `yaml:"state_file"`
	AutosaveEnabled  bool   `yaml:"autosave_enabled"`
	AutosaveDebounce string `yaml:"autosave_debounce"`
}

// HistoryConfig configures the sqlite transaction archive.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// ArtifactsConfig configures compiled-contract artifact loading.
type ArtifactsConfig struct {
	// Dir is the build output directory scanned for artifact JSON files,
	// workspace-relative unless absolute.
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig configures the categorized file logging. Read both here and
// by internal/logging (which parses the file itself to avoid an import cycle).
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	DebugMode  bool            `yaml:"debug_mode"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "sake",

		Network: NetworkConfig{
			BaseURL:         "http://127.0.0.1:8455",
			Timeout:         "30s",
			DefaultAccounts: 10,
			DefaultChainID:  31337,
		},

		Bridge: BridgeConfig{
			ListenAddr:        "127.0.0.1:8456",
			RestartAckTimeout: "5s",
		},

		Persistence: PersistenceConfig{
			StateFile:        filepath.Join(".sake", "state.json"),
			AutosaveEnabled:  true,
			AutosaveDebounce: "1s",
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(".sake", "history.db"),
		},

		Artifacts: ArtifactsConfig{
			Dir:   "out",
			Watch: true,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".sake", "config.yaml")
}

// Load reads the workspace config, layering the file over defaults.
// A missing file returns defaults.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the workspace, creating .sake/ if needed.
func (c *Config) Save(workspace string) error {
	dir := filepath.Dir(Path(workspace))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(Path(workspace), data, 0644)
}

// StateFilePath resolves the state file against the workspace.
func (c *Config) StateFilePath(workspace string) string {
	if filepath.IsAbs(c.Persistence.StateFile) {
		return c.Persistence.StateFile
	}
	return filepath.Join(workspace, c.Persistence.StateFile)
}

// HistoryDBPath resolves the archive database path against the workspace.
func (c *Config) HistoryDBPath(workspace string) string {
	if filepath.IsAbs(c.History.DatabasePath) {
		return c.History.DatabasePath
	}
	return filepath.Join(workspace, c.History.DatabasePath)
}

// ArtifactsDir resolves the artifacts directory against the workspace.
func (c *Config) ArtifactsDir(workspace string) string {
	if filepath.IsAbs(c.Artifacts.Dir) {
		return c.Artifacts.Dir
	}
	return filepath.Join(workspace, c.Artifacts.Dir)
}

// ParseDuration parses a duration string with a fallback for empty or
// malformed values.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
