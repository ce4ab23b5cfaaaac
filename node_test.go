package flume

import (
	"context"
	"testing"
)

func selectionState(shared map[string]any) *ExecutionState {
	s := newExecutionState("start", shared)
	return s
}

func TestNextNodeIDOrderAndSentinels(t *testing.T) {
	ev := newCondEvaluator(nil)

	tests := []struct {
		name        string
		transitions []transition
		shared      map[string]any
		want        string
		wantOK      bool
	}{
		{
			name: "true sentinel wins even when declared last",
			transitions: []transition{
				{From: "a", To: "m", Condition: "shared['x'] > 0"},
				{From: "a", To: "t", Condition: "True"},
			},
			shared: map[string]any{"x": 1},
			want:   "t",
			wantOK: true,
		},
		{
			name: "first matching guard in document order",
			transitions: []transition{
				{From: "a", To: "first", Condition: "shared['x'] > 0"},
				{From: "a", To: "second", Condition: "shared['x'] > 0"},
			},
			shared: map[string]any{"x": 1},
			want:   "first",
			wantOK: true,
		},
		{
			name: "none is the default when no guard matches",
			transitions: []transition{
				{From: "a", To: "guarded", Condition: "shared['x'] > 10"},
				{From: "a", To: "default", Condition: "None"},
			},
			shared: map[string]any{"x": 1},
			want:   "default",
			wantOK: true,
		},
		{
			name: "first none wins among several",
			transitions: []transition{
				{From: "a", To: "d1", Condition: "None"},
				{From: "a", To: "d2", Condition: "None"},
			},
			shared: map[string]any{},
			want:   "d1",
			wantOK: true,
		},
		{
			name: "matching guard beats an earlier none",
			transitions: []transition{
				{From: "a", To: "default", Condition: "None"},
				{From: "a", To: "matched", Condition: "shared['x'] > 0"},
			},
			shared: map[string]any{"x": 1},
			want:   "matched",
			wantOK: true,
		},
		{
			name: "false sentinel is never taken",
			transitions: []transition{
				{From: "a", To: "never", Condition: "False"},
			},
			shared: map[string]any{},
			wantOK: false,
		},
		{
			name:        "no transitions means the workflow may complete",
			transitions: nil,
			shared:      map[string]any{},
			wantOK:      false,
		},
		{
			name: "failing guards without default complete too",
			transitions: []transition{
				{From: "a", To: "x", Condition: "shared['x'] > 10"},
			},
			shared: map[string]any{"x": 1},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &nodeDef{ID: "a", Transitions: tt.transitions}
			got, ok := def.nextNodeID(ev, selectionState(tt.shared))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("next = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFuncNodeDefaults(t *testing.T) {
	n := &FuncNode{}
	ctx := context.Background()

	prepared, err := n.Prepare(ctx, map[string]any{}, nil)
	if prepared != nil || err != nil {
		t.Errorf("default Prepare = (%v, %v), want (nil, nil)", prepared, err)
	}
	result, err := n.Execute(ctx, "ignored")
	if result != nil || err != nil {
		t.Errorf("default Execute = (%v, %v), want (nil, nil)", result, err)
	}
	out, err := n.Cleanup(ctx, map[string]any{}, nil, "result")
	if out != "result" || err != nil {
		t.Errorf("default Cleanup = (%v, %v), want the execution result through", out, err)
	}

	execErr := context.DeadlineExceeded
	if _, err := n.ExecFallback(ctx, nil, execErr); err != execErr {
		t.Errorf("default ExecFallback error = %v, want the execute error back", err)
	}
}
