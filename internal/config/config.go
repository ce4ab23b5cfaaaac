package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/flume"
)

type Config struct {
	Storage   StorageConfig  `toml:"storage"`
	Workflows WorkflowConfig `toml:"workflows"`
	Log       LogConfig      `toml:"log"`
	Observer  ObserverConfig `toml:"observer"`
}

type StorageConfig struct {
	// Backend selects where run journals live: "fs", "sqlite", "postgres",
	// or "memory".
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`  // fs: base directory
	Path    string `toml:"path"` // sqlite: database file
	DSN     string `toml:"dsn"`  // postgres: connection string
}

type WorkflowConfig struct {
	Dir string `toml:"dir"` // directory holding workflow JSON documents
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Storage:   StorageConfig{Backend: "fs", Dir: flume.DefaultStorageDir, Path: "flume.db"},
		Workflows: WorkflowConfig{Dir: "."},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "flume.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("FLUME_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FLUME_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("FLUME_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FLUME_POSTGRES_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("FLUME_WORKFLOW_DIR"); v != "" {
		cfg.Workflows.Dir = v
	}
	if v := os.Getenv("FLUME_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if os.Getenv("FLUME_OBSERVER_ENABLED") == "true" || os.Getenv("FLUME_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// LogLevel maps the configured level name onto a slog.Level.
// Unknown names fall back to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
