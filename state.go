package flume

import (
	"encoding/json"
	"fmt"
)

// AwaitingInput describes a pending input request. It is present on an
// ExecutionState exactly while the workflow status is WAITING_FOR_INPUT.
type AwaitingInput struct {
	// NodeID is the node that asked for input.
	NodeID string `json:"node_id"`
	// RequestID is the key under which the answer must be delivered to
	// Step or Run. Defaults to the node id unless the node overrode it.
	RequestID string `json:"request_id"`
	// Prompt is the question to put to whoever supplies the input.
	Prompt string `json:"prompt"`
	// Options lists the valid choices for select-style requests. Nil for
	// free-form input.
	Options []any `json:"options"`
	// Type tags the kind of input wanted: InputTypeText, InputTypeSelect,
	// or any caller-defined tag.
	Type string `json:"input_type"`
}

// ExecutionState is one snapshot of a run between steps: the shared state,
// where execution goes next, and the statuses that got it there. Snapshots
// are deep-copied into the journal after every step; the journal is the
// run's ground truth.
//
// While a run is active, exactly one of NextNodeID and AwaitingInput is
// set. Both nil means the run completed.
type ExecutionState struct {
	Shared         map[string]any        `json:"shared"`
	NextNodeID     *string               `json:"next_node_id"`
	WorkflowStatus WorkflowStatus        `json:"workflow_status"`
	NodeStatuses   map[string]NodeStatus `json:"node_statuses"`
	AwaitingInput  *AwaitingInput        `json:"awaiting_input"`
	PreviousNodeID *string               `json:"previous_node_id"`
	Metadata       map[string]any        `json:"metadata"`
}

// newExecutionState returns an IDLE state pointing at the start node.
func newExecutionState(start string, shared map[string]any) *ExecutionState {
	if shared == nil {
		shared = map[string]any{}
	}
	return &ExecutionState{
		Shared:         shared,
		NextNodeID:     &start,
		WorkflowStatus: StatusIdle,
		NodeStatuses:   map[string]NodeStatus{},
		Metadata:       map[string]any{},
	}
}

// clone deep-copies the state through its JSON encoding. The round-trip
// doubles as the serializability check: a shared-state value that cannot
// be marshaled fails the step rather than corrupting the journal.
func (s *ExecutionState) clone() (*ExecutionState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	var out ExecutionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	out.normalize()
	return &out, nil
}

// decodeState parses one journal entry.
func decodeState(raw json.RawMessage) (*ExecutionState, error) {
	var s ExecutionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize replaces nil maps so snapshots always serialize them as objects.
func (s *ExecutionState) normalize() {
	if s.Shared == nil {
		s.Shared = map[string]any{}
	}
	if s.NodeStatuses == nil {
		s.NodeStatuses = map[string]NodeStatus{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
}

// active reports whether the run can still advance.
func (s *ExecutionState) active() bool {
	if s.WorkflowStatus == StatusFailed {
		return false
	}
	return s.NextNodeID != nil || s.AwaitingInput != nil
}
