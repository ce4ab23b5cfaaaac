package flume

import (
	"context"
	"time"
)

// Node is the unit of work in a workflow. The engine drives the three
// phases in order for each step:
//
//  1. Prepare gathers what Execute needs. It receives the shared state and
//     the input-request capability; it is the only phase handed the
//     capability directly.
//  2. Execute does the work. It is the only phase wrapped by the retry
//     policy and must not touch the shared state.
//  3. Cleanup writes results back into the shared state. Its return value
//     is the node's final output (discarded by the engine).
//
// Prepare and Cleanup failures are terminal immediately; Execute failures
// are retried per the node's policy and fall back to ExecFallback when the
// node implements Fallback.
type Node interface {
	Prepare(ctx context.Context, shared map[string]any, input RequestInputFunc) (any, error)
	Execute(ctx context.Context, prepared any) (any, error)
	Cleanup(ctx context.Context, shared map[string]any, prepared, result any) (any, error)
}

// Fallback is implemented by nodes that can supply a stand-in execution
// result after the final retry fails. The fallback's return value becomes
// the execution result handed to Cleanup; a fallback error is terminal.
type Fallback interface {
	ExecFallback(ctx context.Context, prepared any, execErr error) (any, error)
}

// ExecFunc applies a node's retry and fallback policy to one payload.
type ExecFunc func(ctx context.Context, payload any) (any, error)

// MultiExecutor is implemented by nodes that fan the execute phase out over
// several payloads derived from the prepared value. The engine calls
// ExecuteMulti instead of Execute, passing exec so each payload gets the
// node's full retry and fallback treatment. Batch and Parallel are the
// bundled implementations; custom strategies compose the same way.
type MultiExecutor interface {
	ExecuteMulti(ctx context.Context, prepared any, exec ExecFunc) (any, error)
}

// NodeFactory constructs a node instance from its document identity and
// config. The loader calls it once to validate registration; the engine
// calls it again for every step so no instance state leaks between steps.
type NodeFactory func(id string, config map[string]any) (Node, error)

// FuncNode adapts plain functions to the Node interface. Nil fields get
// the default behavior: Prepare returns nil, Cleanup passes the execution
// result through, and a nil Fallback means no fallback at all.
type FuncNode struct {
	PrepareFunc  func(ctx context.Context, shared map[string]any, input RequestInputFunc) (any, error)
	ExecuteFunc  func(ctx context.Context, prepared any) (any, error)
	CleanupFunc  func(ctx context.Context, shared map[string]any, prepared, result any) (any, error)
	FallbackFunc func(ctx context.Context, prepared any, execErr error) (any, error)
}

func (f *FuncNode) Prepare(ctx context.Context, shared map[string]any, input RequestInputFunc) (any, error) {
	if f.PrepareFunc == nil {
		return nil, nil
	}
	return f.PrepareFunc(ctx, shared, input)
}

func (f *FuncNode) Execute(ctx context.Context, prepared any) (any, error) {
	if f.ExecuteFunc == nil {
		return nil, nil
	}
	return f.ExecuteFunc(ctx, prepared)
}

func (f *FuncNode) Cleanup(ctx context.Context, shared map[string]any, prepared, result any) (any, error) {
	if f.CleanupFunc == nil {
		return result, nil
	}
	return f.CleanupFunc(ctx, shared, prepared, result)
}

func (f *FuncNode) ExecFallback(ctx context.Context, prepared any, execErr error) (any, error) {
	if f.FallbackFunc == nil {
		return nil, execErr
	}
	return f.FallbackFunc(ctx, prepared, execErr)
}

var _ Node = (*FuncNode)(nil)
var _ Fallback = (*FuncNode)(nil)

// Guard sentinels. "True" short-circuits edge selection, "None" marks the
// default edge taken when no guard matches, "False" is never taken.
const (
	condTrue  = "True"
	condFalse = "False"
	condNone  = "None"
)

// transition is one guarded edge, immutable after loading.
type transition struct {
	From      string
	To        string
	Condition string
}

// nodeDef is the static definition of a node in a loaded graph: identity,
// config, retry policy, and outgoing transitions in document order. Defs
// are immutable after loading and shared across steps; per-step execution
// state lives in the runner.
type nodeDef struct {
	ID          string
	Class       string
	Config      map[string]any
	MaxRetries  int
	Wait        time.Duration
	Transitions []transition

	factory NodeFactory
}

// instantiate builds the transient node instance for one step execution.
func (n *nodeDef) instantiate() (Node, error) {
	return n.factory(n.ID, n.Config)
}

// nextNodeID selects the destination of the first matching outgoing edge:
// a literal "True" guard wins outright, then non-sentinel guards are
// evaluated in document order, then the first "None" edge is the default.
// ok is false when nothing matches and the workflow may complete.
func (n *nodeDef) nextNodeID(ev *condEvaluator, state *ExecutionState) (string, bool) {
	for _, t := range n.Transitions {
		if t.Condition == condTrue {
			return t.To, true
		}
	}

	var fallback *transition
	for i := range n.Transitions {
		t := &n.Transitions[i]
		switch t.Condition {
		case condNone:
			if fallback == nil {
				fallback = t
			}
		case condTrue, condFalse:
			// "True" was handled above; "False" is never taken.
		default:
			if ev.Evaluate(t.Condition, state.Shared) {
				return t.To, true
			}
		}
	}

	if fallback != nil {
		return fallback.To, true
	}
	return "", false
}

// graph is a loaded workflow: defs by id plus the start node.
type graph struct {
	start string
	nodes map[string]*nodeDef
}
