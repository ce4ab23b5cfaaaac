package flume

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned by Storage implementations when no journal
// exists for the requested (workflow_id, run_id).
var ErrRunNotFound = errors.New("run not found")

// ErrEngineClosed is returned by engine operations after Close, and by a
// pending input request whose engine was closed while it waited.
var ErrEngineClosed = errors.New("engine closed")

// LoadError reports a problem constructing a workflow graph from a document:
// malformed JSON, missing start node, unknown class tags, dangling edges.
type LoadError struct {
	WorkflowID string
	Message    string
	Err        error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load workflow %q: %s: %v", e.WorkflowID, e.Message, e.Err)
	}
	return fmt.Sprintf("load workflow %q: %s", e.WorkflowID, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ResumeError reports a failed attempt to resume or fork an existing run:
// the run is missing, the requested step is out of range, or a node named
// by the snapshot no longer exists in the loaded graph.
type ResumeError struct {
	WorkflowID string
	RunID      string
	Message    string
	Err        error
}

func (e *ResumeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resume %s/%s: %s: %v", e.WorkflowID, e.RunID, e.Message, e.Err)
	}
	return fmt.Sprintf("resume %s/%s: %s", e.WorkflowID, e.RunID, e.Message)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// NodeError reports a terminal node failure: prepare or cleanup returned an
// error, or execute exhausted its retries and the fallback failed too. The
// workflow is marked failed and the failing snapshot is persisted before
// the error is returned.
type NodeError struct {
	NodeID string
	Phase  string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q %s: %v", e.NodeID, e.Phase, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
