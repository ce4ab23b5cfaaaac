package flume

import (
	"encoding/json"
	"fmt"
)

// journal is the append-only snapshot list for one run: entry 0 is the state
// the run started from and entry n is the state after step n. Entries are
// kept as raw JSON so fields written by a newer version of this package
// survive a load-save round-trip of untouched entries.
type journal struct {
	steps []json.RawMessage
}

func newJournal(steps []json.RawMessage) *journal {
	return &journal{steps: steps}
}

// append marshals state and adds it as the newest entry. Marshaling doubles
// as the deep copy and as the serializability check for shared-state values.
func (j *journal) append(state *ExecutionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	j.steps = append(j.steps, raw)
	return nil
}

// snapshot decodes entry k into a fresh ExecutionState.
func (j *journal) snapshot(k int) (*ExecutionState, error) {
	if k < 0 || k >= len(j.steps) {
		return nil, fmt.Errorf("snapshot %d out of range: journal has %d entries", k, len(j.steps))
	}
	return decodeState(j.steps[k])
}

// truncateTo drops every entry after index k, making entry k the head.
func (j *journal) truncateTo(k int) {
	if k < 0 {
		j.steps = j.steps[:0]
		return
	}
	if k+1 < len(j.steps) {
		j.steps = j.steps[:k+1]
	}
}

func (j *journal) len() int { return len(j.steps) }

// entries exposes the raw snapshot list for persistence. Callers must treat
// the returned slice and its entries as read-only.
func (j *journal) entries() []json.RawMessage { return j.steps }
