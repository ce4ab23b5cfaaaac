package flume

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Storage persists step journals keyed by workflow id and run id. The engine
// hands the full journal to SaveState after every step, so implementations
// must replace the stored run atomically rather than append to it.
//
// The flume module ships four implementations: FileStorage in this package
// (the default), and the sqlite, postgres, and memory backends under store/.
type Storage interface {
	// SaveState atomically replaces the journal stored for the run.
	SaveState(ctx context.Context, workflowID, runID string, steps []json.RawMessage) error
	// LoadState returns the journal stored for the run, or ErrRunNotFound.
	LoadState(ctx context.Context, workflowID, runID string) ([]json.RawMessage, error)
	// ListRuns returns the run ids recorded for a workflow, newest first.
	// A workflow with no runs yields an empty slice, not an error.
	ListRuns(ctx context.Context, workflowID string) ([]string, error)
	// ListWorkflows returns the ids of every workflow with at least one run.
	ListWorkflows(ctx context.Context) ([]string, error)
}

// stateDocument is the JSON envelope FileStorage writes per run. The sqlite
// and postgres backends store the same shape in their state_json column.
type stateDocument struct {
	WorkflowID string            `json:"workflow_id"`
	RunID      string            `json:"run_id"`
	Steps      []json.RawMessage `json:"steps"`
}

// FileStorage keeps one directory per run under a base directory, with the
// journal at <base>/<workflow_id>/<run_id>/state.json. Writes go to a temp
// file in the run directory and are renamed into place, so a crash mid-save
// leaves the previous journal intact.
type FileStorage struct {
	baseDir string
	logger  *slog.Logger
}

// FileStorageOption configures a FileStorage.
type FileStorageOption func(*FileStorage)

// WithFileStorageLogger sets the logger for storage diagnostics. By default
// FileStorage is silent.
func WithFileStorageLogger(logger *slog.Logger) FileStorageOption {
	return func(fs *FileStorage) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// NewFileStorage returns a FileStorage rooted at baseDir. The directory is
// created lazily on the first save.
func NewFileStorage(baseDir string, opts ...FileStorageOption) *FileStorage {
	fs := &FileStorage{baseDir: baseDir, logger: nopLogger}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (fs *FileStorage) runDir(workflowID, runID string) string {
	return filepath.Join(fs.baseDir, workflowID, runID)
}

// SaveState implements Storage.
func (fs *FileStorage) SaveState(ctx context.Context, workflowID, runID string, steps []json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := fs.runDir(workflowID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	doc := stateDocument{WorkflowID: workflowID, RunID: runID, Steps: steps}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, "state.json")); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	fs.logger.Debug("state saved", "workflow_id", workflowID, "run_id", runID, "steps", len(steps))
	return nil
}

// LoadState implements Storage.
func (fs *FileStorage) LoadState(ctx context.Context, workflowID, runID string) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(fs.runDir(workflowID, runID), "state.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("run %s/%s: %w", workflowID, runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	return doc.Steps, nil
}

// ListRuns implements Storage. Run ids embed their creation timestamp, so
// reverse-lexicographic order is newest first.
func (fs *FileStorage) ListRuns(ctx context.Context, workflowID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, workflowID))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", workflowID, err)
	}
	runs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			runs = append(runs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// ListWorkflows implements Storage.
func (fs *FileStorage) ListWorkflows(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(fs.baseDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	workflows := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			workflows = append(workflows, entry.Name())
		}
	}
	sort.Strings(workflows)
	return workflows, nil
}

var _ Storage = (*FileStorage)(nil)
