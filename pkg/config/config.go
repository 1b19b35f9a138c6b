// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all logsieve configuration.
type Config struct {
	Version int `yaml:"version"`

	Defaults   DefaultsConfig   `yaml:"defaults"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	S3         S3Config         `yaml:"s3"`

	// Aliases are named flag bundles, expanded in place of -a NAME
	// before flag parsing.
	Aliases map[string][]string `yaml:"aliases"`
}

// DefaultsConfig supplies flag defaults that a config file can override.
type DefaultsConfig struct {
	Parser       string `yaml:"parser"`        // auto | line | json | logfmt | syslog | combined | csv
	OutputFormat string `yaml:"output_format"` // default | json | logfmt | csv | duckdb
	Multiline    string `yaml:"multiline"`     // line | all | indent | timestamp | regex:...
	Join         string `yaml:"join"`          // newline | space | empty
	Threads      int    `yaml:"threads"`       // 0 = NumCPU
	BatchSize    int    `yaml:"batch_size"`
	BatchTimeout string `yaml:"batch_timeout"` // e.g. "25ms"
	Color        string `yaml:"color"`         // auto | always | never
}

// CheckpointConfig sets the default follow-mode checkpoint store.
type CheckpointConfig struct {
	Store string `yaml:"store"` // file path or redis:// URL
}

// S3Config supplies credentials for s3:// inputs.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the default configuration. Batch and thread tuning
// stay zero: the CLI flags carry the documented defaults, and only a
// config file or environment value may override them.
func Default() *Config {
	return &Config{
		Version: 1,
		Defaults: DefaultsConfig{
			Parser:       "auto",
			OutputFormat: "default",
			Multiline:    "line",
			Join:         "newline",
			Color:        "auto",
		},
		Aliases: map[string][]string{},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors in existing ones
			if !os.IsNotExist(err) {
				return fmt.Errorf("loading %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/logsieve/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".logsieve.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".logsieve.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Defaults
	if src.Defaults.Parser != "" {
		m.config.Defaults.Parser = src.Defaults.Parser
	}
	if src.Defaults.OutputFormat != "" {
		m.config.Defaults.OutputFormat = src.Defaults.OutputFormat
	}
	if src.Defaults.Multiline != "" {
		m.config.Defaults.Multiline = src.Defaults.Multiline
	}
	if src.Defaults.Join != "" {
		m.config.Defaults.Join = src.Defaults.Join
	}
	if src.Defaults.Threads != 0 {
		m.config.Defaults.Threads = src.Defaults.Threads
	}
	if src.Defaults.BatchSize != 0 {
		m.config.Defaults.BatchSize = src.Defaults.BatchSize
	}
	if src.Defaults.BatchTimeout != "" {
		m.config.Defaults.BatchTimeout = src.Defaults.BatchTimeout
	}
	if src.Defaults.Color != "" {
		m.config.Defaults.Color = src.Defaults.Color
	}

	// Checkpoint
	if src.Checkpoint.Store != "" {
		m.config.Checkpoint.Store = src.Checkpoint.Store
	}

	// S3
	if src.S3.Region != "" {
		m.config.S3.Region = src.S3.Region
	}
	if src.S3.Endpoint != "" {
		m.config.S3.Endpoint = src.S3.Endpoint
	}
	if src.S3.AccessKey != "" {
		m.config.S3.AccessKey = src.S3.AccessKey
	}
	if src.S3.SecretKey != "" {
		m.config.S3.SecretKey = src.S3.SecretKey
	}
	if src.S3.PathStyle {
		m.config.S3.PathStyle = true
	}

	// Aliases accumulate across files; later files win on name clashes
	for name, args := range src.Aliases {
		if m.config.Aliases == nil {
			m.config.Aliases = map[string][]string{}
		}
		m.config.Aliases[name] = args
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("LOGSIEVE_PARSER"); v != "" {
		m.config.Defaults.Parser = v
	}
	if v := os.Getenv("LOGSIEVE_OUTPUT_FORMAT"); v != "" {
		m.config.Defaults.OutputFormat = v
	}
	if v := os.Getenv("LOGSIEVE_THREADS"); v != "" {
		var threads int
		if _, err := fmt.Sscanf(v, "%d", &threads); err == nil {
			m.config.Defaults.Threads = threads
		}
	}
	if v := os.Getenv("LOGSIEVE_COLOR"); v != "" {
		m.config.Defaults.Color = v
	}
	if v := os.Getenv("LOGSIEVE_CHECKPOINT"); v != "" {
		m.config.Checkpoint.Store = v
	}
	if v := os.Getenv("LOGSIEVE_S3_ENDPOINT"); v != "" {
		m.config.S3.Endpoint = v
	}
	if v := os.Getenv("LOGSIEVE_S3_REGION"); v != "" {
		m.config.S3.Region = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Alias resolves a named flag bundle.
func (m *Manager) Alias(name string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	args, ok := m.config.Aliases[name]
	return args, ok
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(home, ".logsieve.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
