// Package memory implements flume.Storage with in-process maps. Journals
// are lost when the process exits, which makes it a fit for tests and for
// short-lived workflows that never resume across restarts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nevindra/flume"
)

// Store implements flume.Storage backed by process memory.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	runs map[string]map[string][]json.RawMessage // workflow id -> run id -> journal
}

var _ flume.Storage = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{runs: make(map[string]map[string][]json.RawMessage)}
}

// SaveState replaces the journal stored for the run. Steps are copied, so
// later mutation by the caller does not reach the store.
func (s *Store) SaveState(_ context.Context, workflowID, runID string, steps []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs[workflowID] == nil {
		s.runs[workflowID] = make(map[string][]json.RawMessage)
	}
	s.runs[workflowID][runID] = copySteps(steps)
	return nil
}

// LoadState returns a copy of the run's journal, or flume.ErrRunNotFound.
func (s *Store) LoadState(_ context.Context, workflowID, runID string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps, ok := s.runs[workflowID][runID]
	if !ok {
		return nil, fmt.Errorf("run %s/%s: %w", workflowID, runID, flume.ErrRunNotFound)
	}
	return copySteps(steps), nil
}

// ListRuns returns the run ids recorded for a workflow, newest first. Run
// ids embed their creation timestamp, so reverse-lexicographic order is
// newest first.
func (s *Store) ListRuns(_ context.Context, workflowID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.runs[workflowID]))
	for runID := range s.runs[workflowID] {
		runs = append(runs, runID)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// ListWorkflows returns the ids of every workflow with at least one run,
// in sorted order.
func (s *Store) ListWorkflows(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflows := make([]string, 0, len(s.runs))
	for workflowID, runs := range s.runs {
		if len(runs) > 0 {
			workflows = append(workflows, workflowID)
		}
	}
	sort.Strings(workflows)
	return workflows, nil
}

func copySteps(steps []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(steps))
	for i, step := range steps {
		dup := make(json.RawMessage, len(step))
		copy(dup, step)
		out[i] = dup
	}
	return out
}
