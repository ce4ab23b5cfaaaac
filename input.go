package flume

import "context"

// Input type tags carried in the awaiting-input record. Hosts may use any
// other tag they like; the engine treats the value as opaque.
const (
	InputTypeText   = "text"
	InputTypeSelect = "select"
)

// InputRequest describes what a node needs from outside the run.
type InputRequest struct {
	// Prompt is the question shown to whoever supplies the input.
	Prompt string
	// Options provides the valid choices. Empty = free-form input.
	Options []any
	// Type tags the kind of input wanted (InputTypeText, InputTypeSelect,
	// or a caller-defined tag). Empty defaults to InputTypeText.
	Type string
	// RequestID is the key under which the answer must be delivered.
	// Empty defaults to the id of the requesting node. Override it when a
	// node may have several outstanding requests across a run's lifetime.
	RequestID string
}

// RequestInputFunc is the capability the engine hands to a node's Prepare
// phase. Calling it suspends the run: the current state is checkpointed
// with status waiting_for_input and the call blocks until the answer is
// delivered via Step or Run, then returns it. If the engine already holds
// input for the request id, the value is returned without suspending.
//
// A node that wants input during Execute threads the capability through
// its prepared value. Errors (checkpoint failure, engine closed) must be
// propagated by the node, not swallowed.
type RequestInputFunc func(ctx context.Context, req InputRequest) (any, error)
