// Package config provides configuration loading and structs for the notebook
// server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. Provider API keys are
// deliberately not here: they come from the environment only.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Chat      ChatConfig      `yaml:"chat"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// IngestConfig holds extraction and chunking settings.
type IngestConfig struct {
	ChunkSize      int     `yaml:"chunk_size"`      // characters per chunk
	ChunkOverlap   float64 `yaml:"chunk_overlap"`   // fraction 0.0-1.0
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
}

// ChatConfig holds orchestrator settings.
type ChatConfig struct {
	Provider       string  `yaml:"provider"` // empty = first configured by priority
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TopK           int     `yaml:"top_k"`
	HistoryTurns   int     `yaml:"history_turns"`
	HistoryBudget  int     `yaml:"history_budget"` // characters of history in the prompt
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// RetrievalConfig selects the retrieval strategy.
type RetrievalConfig struct {
	// Semantic enables embedding-based retrieval when a configured provider
	// can embed; keyword retrieval is always the fallback.
	Semantic bool `yaml:"semantic"`
}

// WatchConfig holds auto-ingest drop directory settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, applies defaults, and
// expands relative paths. Returns an error if the file cannot be read or
// parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
func expandPath(path, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
