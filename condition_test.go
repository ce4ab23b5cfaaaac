package flume

import "testing"

func TestCondEvaluator(t *testing.T) {
	shared := map[string]any{
		"count":  10,
		"name":   "ada",
		"ok":     true,
		"tags":   []any{"alpha", "beta"},
		"limits": map[string]any{"max": 5},
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"shared['count'] > 5", true},
		{"shared['count'] > 50", false},
		{"shared['name'] == 'ada'", true},
		{"shared['ok']", true},
		{"shared.count >= 10 && shared.name != ''", true},
		{"'alpha' in shared.tags", true},
		{"'gamma' in shared.tags", false},
		{"shared.limits.max < shared.count", true},
		// Python-style literals stay meaningful.
		{"True", true},
		{"False", false},
		{"shared['missing'] == None", true},
	}
	ev := newCondEvaluator(nil)
	for _, tt := range tests {
		if got := ev.Evaluate(tt.condition, shared); got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.condition, got, tt.want)
		}
	}
}

func TestCondEvaluatorFailSafe(t *testing.T) {
	shared := map[string]any{"count": 1}

	tests := []struct {
		name      string
		condition string
	}{
		{"parse error", "shared['count' >"},
		{"missing key comparison", "shared['missing'] > 5"},
		{"non-boolean result", "shared['count']"},
		{"unknown identifier", "nonsense > 1"},
	}
	ev := newCondEvaluator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ev.Evaluate(tt.condition, shared) {
				t.Errorf("Evaluate(%q) = true, want false on error", tt.condition)
			}
		})
	}
}

func TestCondEvaluatorCachesPrograms(t *testing.T) {
	ev := newCondEvaluator(nil)
	shared := map[string]any{"x": 1}
	for i := 0; i < 5; i++ {
		ev.Evaluate("shared['x'] == 1", shared)
		ev.Evaluate("shared['x'] == 2", shared)
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if got := len(ev.programs); got != 2 {
		t.Errorf("program cache has %d entries, want 2", got)
	}
}

func TestCondEvaluatorDoesNotMutateShared(t *testing.T) {
	shared := map[string]any{"x": 1}
	ev := newCondEvaluator(nil)
	ev.Evaluate("shared['x'] == 1", shared)
	if len(shared) != 1 || shared["x"] != 1 {
		t.Errorf("evaluation mutated shared state: %v", shared)
	}
}
