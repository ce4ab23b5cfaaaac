package flume

import (
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// condEvaluator evaluates edge guard expressions against the shared state.
// Guards are compiled once and cached by source text; compiled programs are
// reusable because the environment shape never changes.
//
// Evaluation is fail-safe: any compile or runtime error logs a diagnostic
// and counts as false. The evaluator cannot mutate the shared state; the
// expression language has no assignment and the environment exposes no
// host functions.
type condEvaluator struct {
	logger *slog.Logger

	mu       sync.Mutex
	programs map[string]*vm.Program
}

func newCondEvaluator(logger *slog.Logger) *condEvaluator {
	if logger == nil {
		logger = nopLogger
	}
	return &condEvaluator{
		logger:   logger,
		programs: make(map[string]*vm.Program),
	}
}

// condEnv binds the names visible to guard expressions. True, False, and
// None are bound so documents written with Python-style literals keep
// evaluating; everything else resolves against the shared map.
func condEnv(shared map[string]any) map[string]any {
	return map[string]any{
		"shared": shared,
		"True":   true,
		"False":  false,
		"None":   nil,
	}
}

// Evaluate reports whether the guard holds over the shared state.
func (c *condEvaluator) Evaluate(condition string, shared map[string]any) bool {
	env := condEnv(shared)

	program, err := c.compile(condition, env)
	if err != nil {
		c.logger.Warn("edge condition failed to compile", "condition", condition, "error", err)
		return false
	}

	result, err := expr.Run(program, env)
	if err != nil {
		c.logger.Warn("edge condition failed to evaluate", "condition", condition, "error", err)
		return false
	}

	ok, isBool := result.(bool)
	if !isBool {
		c.logger.Warn("edge condition is not boolean", "condition", condition, "result", result)
		return false
	}
	return ok
}

func (c *condEvaluator) compile(condition string, env map[string]any) (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.programs[condition]; ok {
		return p, nil
	}
	p, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}
	c.programs[condition] = p
	return p, nil
}
