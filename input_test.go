package flume

import (
	"context"
	"testing"
)

// promptNode requests input with the given request shape during prepare and
// stores the answer under shared["got"].
func promptNode(req InputRequest) NodeFactory {
	return func(string, map[string]any) (Node, error) {
		return &FuncNode{
			PrepareFunc: func(ctx context.Context, _ map[string]any, input RequestInputFunc) (any, error) {
				return input(ctx, req)
			},
			CleanupFunc: func(_ context.Context, shared map[string]any, prepared, _ any) (any, error) {
				shared["got"] = prepared
				return nil, nil
			},
		}, nil
	}
}

func TestRequestIDDefaultsToNodeID(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ask", promptNode(InputRequest{Prompt: "pick"}))

	e := newTestEngine(t, reg, &Document{
		Start: "approval",
		Nodes: []DocumentNode{{ID: "approval", Class: "Ask"}},
	})
	result, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.AwaitingInput.RequestID != "approval" {
		t.Errorf("request id = %q, want the node id", result.AwaitingInput.RequestID)
	}
	if result.AwaitingInput.Type != InputTypeText {
		t.Errorf("input type = %q, want default %q", result.AwaitingInput.Type, InputTypeText)
	}
}

func TestRequestIDOverrideAndOptions(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ask", promptNode(InputRequest{
		Prompt:    "approve the draft?",
		Options:   []any{"yes", "no"},
		Type:      InputTypeSelect,
		RequestID: "draft_approval",
	}))

	e := newTestEngine(t, reg, &Document{
		Start: "review",
		Nodes: []DocumentNode{{ID: "review", Class: "Ask"}},
	})
	ctx := context.Background()
	result, err := e.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	aw := result.AwaitingInput
	if aw.NodeID != "review" || aw.RequestID != "draft_approval" {
		t.Errorf("awaiting = %+v, want node review with request id draft_approval", aw)
	}
	if aw.Prompt != "approve the draft?" || aw.Type != InputTypeSelect {
		t.Errorf("awaiting = %+v, prompt or type wrong", aw)
	}
	if len(aw.Options) != 2 || aw.Options[0] != "yes" {
		t.Errorf("options = %v, want [yes no]", aw.Options)
	}

	// Delivery keyed by the node id must not resolve an overridden request.
	continuing, err := e.Step(ctx, map[string]any{"review": "yes"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !continuing || e.Status() != StatusWaitingForInput {
		t.Fatal("delivery under the node id resolved an overridden request id")
	}

	if _, err := e.Run(ctx, map[string]any{"draft_approval": "yes"}); err != nil {
		t.Fatalf("Run with input: %v", err)
	}
	if got := sharedValue(t, e, "got"); got != "yes" {
		t.Errorf("answer = %v, want %q", got, "yes")
	}
}

func TestPreSuppliedInputShortCircuits(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ask", promptNode(InputRequest{Prompt: "name?"}))

	e := newTestEngine(t, reg, &Document{
		Start: "ask",
		Nodes: []DocumentNode{{ID: "ask", Class: "Ask"}},
	})
	ctx := context.Background()

	continuing, err := e.Step(ctx, map[string]any{"ask": "Ada"})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if continuing {
		t.Error("single-node workflow should complete in one step")
	}
	if e.Status() != StatusCompleted {
		t.Errorf("status = %q, want %q (no suspension)", e.Status(), StatusCompleted)
	}
	if got := sharedValue(t, e, "got"); got != "Ada" {
		t.Errorf("answer = %v, want %q", got, "Ada")
	}
	if got := e.StepCount(); got != 2 {
		t.Errorf("journal has %d entries, want 2 (no suspension snapshot)", got)
	}
}

func TestNilPreSuppliedInputStillSuspends(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ask", promptNode(InputRequest{Prompt: "name?"}))

	e := newTestEngine(t, reg, &Document{
		Start: "ask",
		Nodes: []DocumentNode{{ID: "ask", Class: "Ask"}},
	})
	ctx := context.Background()

	continuing, err := e.Step(ctx, map[string]any{"ask": nil})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !continuing || e.Status() != StatusWaitingForInput {
		t.Fatalf("nil answer should not satisfy a request, status = %q", e.Status())
	}

	// A nil value delivered to a live suspension does resolve it.
	if _, err := e.Step(ctx, map[string]any{"ask": nil}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if e.Status() != StatusCompleted {
		t.Errorf("status = %q, want %q", e.Status(), StatusCompleted)
	}
}

func TestInputDuringExecutePhase(t *testing.T) {
	reg := NewRegistry()
	reg.Register("LateAsk", func(string, map[string]any) (Node, error) {
		return &FuncNode{
			// Thread the capability through the prepared value and call
			// it mid-execute.
			PrepareFunc: func(_ context.Context, _ map[string]any, input RequestInputFunc) (any, error) {
				return input, nil
			},
			ExecuteFunc: func(ctx context.Context, prepared any) (any, error) {
				input := prepared.(RequestInputFunc)
				return input(ctx, InputRequest{Prompt: "mid-flight?"})
			},
			CleanupFunc: func(_ context.Context, shared map[string]any, _, result any) (any, error) {
				shared["got"] = result
				return nil, nil
			},
		}, nil
	})

	e := newTestEngine(t, reg, &Document{
		Start: "late",
		Nodes: []DocumentNode{{ID: "late", Class: "LateAsk"}},
	})
	ctx := context.Background()

	result, err := e.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusWaitingForInput {
		t.Fatalf("status = %q, want %q", result.Status, StatusWaitingForInput)
	}
	if _, err := e.Run(ctx, map[string]any{"late": "caught"}); err != nil {
		t.Fatalf("Run with input: %v", err)
	}
	if got := sharedValue(t, e, "got"); got != "caught" {
		t.Errorf("answer = %v, want %q", got, "caught")
	}
}

func TestSuspensionSnapshotIsDurable(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Ask", promptNode(InputRequest{Prompt: "name?", RequestID: "who"}))

	storage := NewFileStorage(t.TempDir())
	ctx := context.Background()
	e, err := New(ctx,
		WithDocument("wf", &Document{Start: "ask", Nodes: []DocumentNode{{ID: "ask", Class: "Ask"}}}),
		WithRegistry(reg), WithStorage(storage))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	steps, err := storage.LoadState(ctx, "wf", e.RunID())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	head, err := decodeState(steps[len(steps)-1])
	if err != nil {
		t.Fatalf("decode head: %v", err)
	}
	if head.WorkflowStatus != StatusWaitingForInput {
		t.Errorf("persisted status = %q, want %q", head.WorkflowStatus, StatusWaitingForInput)
	}
	if head.AwaitingInput == nil || head.AwaitingInput.RequestID != "who" {
		t.Errorf("persisted awaiting = %+v, want request id %q", head.AwaitingInput, "who")
	}
	if got := head.NodeStatuses["ask"]; got != NodeWaitingForInput {
		t.Errorf("persisted node status = %q, want %q", got, NodeWaitingForInput)
	}
}
