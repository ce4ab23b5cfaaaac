// Package sqlite implements flume.Storage using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/flume"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements flume.Storage backed by a local SQLite file. Each run's
// step journal is one row holding the serialized state document, replaced
// wholesale on every save.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ flume.Storage = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the workflow_states table. It is idempotent and safe to call
// on every startup.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS workflow_states (
		workflow_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, run_id)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// stateDocument mirrors the envelope flume.FileStorage writes to disk, so a
// row's state_json is interchangeable with a state.json file.
type stateDocument struct {
	WorkflowID string            `json:"workflow_id"`
	RunID      string            `json:"run_id"`
	Steps      []json.RawMessage `json:"steps"`
}

// SaveState upserts the run's full journal.
func (s *Store) SaveState(ctx context.Context, workflowID, runID string, steps []json.RawMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: save state", "workflow_id", workflowID, "run_id", runID, "steps", len(steps))

	data, err := json.Marshal(stateDocument{WorkflowID: workflowID, RunID: runID, Steps: steps})
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflow_states (workflow_id, run_id, state_json, updated_at)
		 VALUES (?, ?, ?, ?)`,
		workflowID, runID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		s.logger.Error("sqlite: save state failed", "workflow_id", workflowID, "run_id", runID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save state: %w", err)
	}
	s.logger.Debug("sqlite: save state ok", "workflow_id", workflowID, "run_id", runID, "duration", time.Since(start))
	return nil
}

// LoadState returns the run's journal, or flume.ErrRunNotFound.
func (s *Store) LoadState(ctx context.Context, workflowID, runID string) ([]json.RawMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load state", "workflow_id", workflowID, "run_id", runID)

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM workflow_states WHERE workflow_id = ? AND run_id = ?`,
		workflowID, runID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: load state not found", "workflow_id", workflowID, "run_id", runID, "duration", time.Since(start))
		return nil, fmt.Errorf("run %s/%s: %w", workflowID, runID, flume.ErrRunNotFound)
	}
	if err != nil {
		s.logger.Error("sqlite: load state failed", "workflow_id", workflowID, "run_id", runID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	s.logger.Debug("sqlite: load state ok", "workflow_id", workflowID, "run_id", runID, "steps", len(doc.Steps), "duration", time.Since(start))
	return doc.Steps, nil
}

// ListRuns returns the run ids recorded for a workflow, newest first. Run
// ids embed their creation timestamp, so descending id order sorts newest
// first.
func (s *Store) ListRuns(ctx context.Context, workflowID string) ([]string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list runs", "workflow_id", workflowID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM workflow_states WHERE workflow_id = ? ORDER BY run_id DESC`,
		workflowID,
	)
	if err != nil {
		s.logger.Error("sqlite: list runs failed", "workflow_id", workflowID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	s.logger.Debug("sqlite: list runs ok", "workflow_id", workflowID, "count", len(runs), "duration", time.Since(start))
	return runs, nil
}

// ListWorkflows returns the ids of every workflow with at least one run,
// in sorted order.
func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list workflows")

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT workflow_id FROM workflow_states ORDER BY workflow_id`,
	)
	if err != nil {
		s.logger.Error("sqlite: list workflows failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow id: %w", err)
		}
		workflows = append(workflows, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	s.logger.Debug("sqlite: list workflows ok", "count", len(workflows), "duration", time.Since(start))
	return workflows, nil
}

// DB returns the underlying *sql.DB, for hosts that keep run journals in
// the same database as their own tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}
