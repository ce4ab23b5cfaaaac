package flume

import (
	"encoding/json"
	"testing"
)

func TestExecutionStateWireFormat(t *testing.T) {
	next := "review"
	prev := "draft"
	state := &ExecutionState{
		Shared:         map[string]any{"count": 2},
		NextNodeID:     &next,
		WorkflowStatus: StatusWaitingForInput,
		NodeStatuses:   map[string]NodeStatus{"draft": NodeCompleted},
		AwaitingInput: &AwaitingInput{
			NodeID:    "review",
			RequestID: "approval",
			Prompt:    "approve?",
			Options:   []any{"yes", "no"},
			Type:      InputTypeSelect,
		},
		PreviousNodeID: &prev,
		Metadata:       map[string]any{"step": 2},
	}

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{
		"shared", "next_node_id", "workflow_status", "node_statuses",
		"awaiting_input", "previous_node_id", "metadata",
	} {
		if _, ok := doc[key]; !ok {
			t.Errorf("wire format missing key %q", key)
		}
	}
	if doc["workflow_status"] != "WAITING_FOR_INPUT" {
		t.Errorf("workflow_status = %v, want WAITING_FOR_INPUT", doc["workflow_status"])
	}
	statuses := doc["node_statuses"].(map[string]any)
	if statuses["draft"] != "completed" {
		t.Errorf("node status = %v, want completed", statuses["draft"])
	}
	awaiting := doc["awaiting_input"].(map[string]any)
	if awaiting["input_type"] != "select" || awaiting["request_id"] != "approval" {
		t.Errorf("awaiting_input = %v", awaiting)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	state := newExecutionState("a", map[string]any{"list": []any{"x"}})
	state.NodeStatuses["a"] = NodeCompleted

	clone, err := state.clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	state.Shared["list"].([]any)[0] = "mutated"
	state.NodeStatuses["a"] = NodeFailed
	*state.NextNodeID = "elsewhere"

	if got := clone.Shared["list"].([]any)[0]; got != "x" {
		t.Errorf("clone shared mutated: %v", got)
	}
	if clone.NodeStatuses["a"] != NodeCompleted {
		t.Errorf("clone node status mutated: %v", clone.NodeStatuses["a"])
	}
	if *clone.NextNodeID != "a" {
		t.Errorf("clone next node mutated: %v", *clone.NextNodeID)
	}
}

func TestCloneRejectsUnserializable(t *testing.T) {
	state := newExecutionState("a", map[string]any{"bad": func() {}})
	if _, err := state.clone(); err == nil {
		t.Error("clone accepted an unserializable shared value")
	}
}

func TestDecodeStateNormalizesNilMaps(t *testing.T) {
	state, err := decodeState(json.RawMessage(`{"workflow_status":"IDLE","next_node_id":"a"}`))
	if err != nil {
		t.Fatalf("decodeState: %v", err)
	}
	if state.Shared == nil || state.NodeStatuses == nil || state.Metadata == nil {
		t.Error("decodeState left nil maps in place")
	}
}

func TestActive(t *testing.T) {
	next := "a"
	tests := []struct {
		name  string
		state ExecutionState
		want  bool
	}{
		{"next set", ExecutionState{NextNodeID: &next, WorkflowStatus: StatusIdle}, true},
		{"awaiting set", ExecutionState{AwaitingInput: &AwaitingInput{NodeID: "a"}, WorkflowStatus: StatusWaitingForInput}, true},
		{"completed", ExecutionState{WorkflowStatus: StatusCompleted}, false},
		{"failed beats next", ExecutionState{NextNodeID: &next, WorkflowStatus: StatusFailed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.active(); got != tt.want {
				t.Errorf("active() = %v, want %v", got, tt.want)
			}
		})
	}
}
