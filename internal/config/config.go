// Package config provides configuration loading and structs for the vecstore server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job repository backends.
const (
	JobsBackendFile   = "file"
	JobsBackendSQLite = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Graph     GraphConfig     `yaml:"graph"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data root. Stores, job records and uploads live below it.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// JobsConfig holds job queue settings.
type JobsConfig struct {
	Backend          string `yaml:"backend"`
	DefaultBatchSize int    `yaml:"default_batch_size"`
}

// EmbeddingConfig holds encoder settings.
type EmbeddingConfig struct {
	DefaultModel string `yaml:"default_model"`
	ModelsDir    string `yaml:"models_dir"`
	Dimensions   int    `yaml:"dimensions"`
	MaxTokens    int    `yaml:"max_tokens"`
	CacheSize    int    `yaml:"cache_size"`
	Concurrency  int    `yaml:"concurrency"`
}

// GraphConfig holds defaults for proximity graph construction.
type GraphConfig struct {
	K              int `yaml:"k"`
	EfConstruction int `yaml:"ef_construction"`
	M              int `yaml:"m"`
	InsertChunk    int `yaml:"insert_chunk"`
}

// WatchConfig holds inbox watch settings.
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled"`
	InboxDir   string   `yaml:"inbox_dir"`
	Extensions []string `yaml:"extensions"`
}

// StoresDir is the directory holding one subdirectory per store.
func (c *Config) StoresDir() string { return filepath.Join(c.Storage.DataDir, "stores") }

// JobsDir is the directory holding job records for the file backend.
func (c *Config) JobsDir() string { return filepath.Join(c.Storage.DataDir, "jobs") }

// JobsDBPath is the database file for the sqlite backend.
func (c *Config) JobsDBPath() string { return filepath.Join(c.Storage.DataDir, "jobs.db") }

// UploadsDir is where uploaded ingest sources are kept until their job finishes.
func (c *Config) UploadsDir() string { return filepath.Join(c.Storage.DataDir, "uploads") }

// Validate reports settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Jobs.Backend {
	case JobsBackendFile, JobsBackendSQLite:
	default:
		return fmt.Errorf("unknown jobs backend %q", c.Jobs.Backend)
	}
	if c.Jobs.DefaultBatchSize < 1 {
		return fmt.Errorf("jobs.default_batch_size must be positive, got %d", c.Jobs.DefaultBatchSize)
	}
	if c.Graph.M < 2 {
		return fmt.Errorf("graph.m must be at least 2, got %d", c.Graph.M)
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	expandPaths(&cfg, filepath.Dir(path))

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults, with paths relative to the
// file's directory, when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = &Config{}
	ApplyDefaults(cfg)
	expandPaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Embedding.ModelsDir = expandPath(cfg.Embedding.ModelsDir, configDir)
	cfg.Watch.InboxDir = expandPath(cfg.Watch.InboxDir, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
