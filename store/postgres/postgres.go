// Package postgres implements flume.Storage using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/flume"
)

// Store implements flume.Storage backed by PostgreSQL. Each run's step
// journal is one row in workflow_states, replaced wholesale on every save.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	table string // "" = "workflow_states"
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithTable overrides the table name, for hosts that keep several engines'
// journals in one database. Only affects table creation and queries; the
// name is interpolated into SQL, so it must be a trusted identifier.
func WithTable(name string) Option {
	return func(c *pgConfig) { c.table = name }
}

var _ flume.Storage = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{table: "workflow_states"}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Init creates the journal table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		workflow_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		state_json JSONB NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (workflow_id, run_id)
	)`, s.cfg.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
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
	data, err := json.Marshal(stateDocument{WorkflowID: workflowID, RunID: runID, Steps: steps})
	if err != nil {
		return fmt.Errorf("postgres: marshal state document: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (workflow_id, run_id, state_json, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workflow_id, run_id)
		 DO UPDATE SET state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`,
		s.cfg.table)
	if _, err := s.pool.Exec(ctx, stmt, workflowID, runID, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("postgres: save state: %w", err)
	}
	return nil
}

// LoadState returns the run's journal, or flume.ErrRunNotFound.
func (s *Store) LoadState(ctx context.Context, workflowID, runID string) ([]json.RawMessage, error) {
	stmt := fmt.Sprintf(`SELECT state_json FROM %s WHERE workflow_id = $1 AND run_id = $2`, s.cfg.table)

	var raw string
	err := s.pool.QueryRow(ctx, stmt, workflowID, runID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("run %s/%s: %w", workflowID, runID, flume.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode state document: %w", err)
	}
	return doc.Steps, nil
}

// ListRuns returns the run ids recorded for a workflow, newest first. Run
// ids embed their creation timestamp, so descending id order sorts newest
// first.
func (s *Store) ListRuns(ctx context.Context, workflowID string) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT run_id FROM %s WHERE workflow_id = $1 ORDER BY run_id DESC`, s.cfg.table)

	rows, err := s.pool.Query(ctx, stmt, workflowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan run id: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate runs: %w", err)
	}
	return runs, nil
}

// ListWorkflows returns the ids of every workflow with at least one run,
// in sorted order.
func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT DISTINCT workflow_id FROM %s ORDER BY workflow_id`, s.cfg.table)

	rows, err := s.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan workflow id: %w", err)
		}
		workflows = append(workflows, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate workflows: %w", err)
	}
	return workflows, nil
}
