package flume

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func rawSteps(n int) []json.RawMessage {
	steps := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		steps = append(steps, json.RawMessage(`{"shared":{},"workflow_status":"IDLE"}`))
	}
	return steps
}

func TestFileStorageRoundTrip(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	ctx := context.Background()

	in := []json.RawMessage{
		json.RawMessage(`{"shared":{"x":1},"workflow_status":"IDLE","extra":"kept"}`),
		json.RawMessage(`{"shared":{"x":2},"workflow_status":"COMPLETED"}`),
	}
	if err := fs.SaveState(ctx, "wf", "run1", in); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	out, err := fs.LoadState(ctx, "wf", "run1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("loaded %d steps, want 2", len(out))
	}
	var decoded map[string]any
	if err := json.Unmarshal(out[0], &decoded); err != nil {
		t.Fatalf("unmarshal step: %v", err)
	}
	if decoded["extra"] != "kept" {
		t.Error("round-trip dropped a field the engine does not know")
	}
}

func TestFileStorageOverwrites(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	ctx := context.Background()

	if err := fs.SaveState(ctx, "wf", "run1", rawSteps(3)); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := fs.SaveState(ctx, "wf", "run1", rawSteps(1)); err != nil {
		t.Fatalf("SaveState again: %v", err)
	}
	out, err := fs.LoadState(ctx, "wf", "run1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("loaded %d steps after overwrite, want 1", len(out))
	}
}

func TestFileStorageRunNotFound(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	_, err := fs.LoadState(context.Background(), "wf", "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadState error = %v, want ErrRunNotFound", err)
	}
}

func TestFileStorageListRunsNewestFirst(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	ctx := context.Background()

	// Run ids sort lexicographically by creation time.
	ids := []string{
		"20260101_090000_aaaaaaaa",
		"20260301_090000_cccccccc",
		"20260201_090000_bbbbbbbb",
	}
	for _, id := range ids {
		if err := fs.SaveState(ctx, "wf", id, rawSteps(1)); err != nil {
			t.Fatalf("SaveState(%s): %v", id, err)
		}
	}

	runs, err := fs.ListRuns(ctx, "wf")
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	want := []string{
		"20260301_090000_cccccccc",
		"20260201_090000_bbbbbbbb",
		"20260101_090000_aaaaaaaa",
	}
	if len(runs) != len(want) {
		t.Fatalf("ListRuns returned %d runs, want %d", len(runs), len(want))
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("runs[%d] = %q, want %q", i, runs[i], want[i])
		}
	}

	empty, err := fs.ListRuns(ctx, "never_ran")
	if err != nil {
		t.Fatalf("ListRuns on unknown workflow: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown workflow has %d runs, want 0", len(empty))
	}
}

func TestFileStorageListWorkflows(t *testing.T) {
	fs := NewFileStorage(t.TempDir())
	ctx := context.Background()

	for _, wf := range []string{"beta", "alpha"} {
		if err := fs.SaveState(ctx, wf, "20260101_090000_aaaaaaaa", rawSteps(1)); err != nil {
			t.Fatalf("SaveState: %v", err)
		}
	}
	workflows, err := fs.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(workflows) != 2 || workflows[0] != "alpha" || workflows[1] != "beta" {
		t.Errorf("ListWorkflows = %v, want [alpha beta]", workflows)
	}
}

func TestFileStorageLeavesNoTempFiles(t *testing.T) {
	base := t.TempDir()
	fs := NewFileStorage(base)
	ctx := context.Background()

	if err := fs.SaveState(ctx, "wf", "run1", rawSteps(2)); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(base, "wf", "run1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("run directory = %v, want only state.json", names)
	}
}
