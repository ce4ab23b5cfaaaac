package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != "fs" {
		t.Errorf("expected fs, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.Dir != "flume_data" {
		t.Errorf("expected flume_data, got %s", cfg.Storage.Dir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected info, got %s", cfg.Log.Level)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[storage]
backend = "sqlite"
path = "runs.db"

[log]
level = "debug"
`), 0644)

	cfg := Load(path)
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.Path != "runs.db" {
		t.Errorf("expected runs.db, got %s", cfg.Storage.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
	// Defaults preserved
	if cfg.Workflows.Dir != "." {
		t.Errorf("default should be preserved, got %s", cfg.Workflows.Dir)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FLUME_STORAGE_BACKEND", "postgres")
	t.Setenv("FLUME_POSTGRES_DSN", "postgres://localhost/flume")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.DSN != "postgres://localhost/flume" {
		t.Errorf("expected dsn from env, got %s", cfg.Storage.DSN)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{Log: LogConfig{Level: tt.name}}
		if got := cfg.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
