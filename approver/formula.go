package approver

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// GojaEngine evaluates approver formulas with an embedded JavaScript
// runtime. Every evaluation gets a fresh runtime so formulas cannot leak
// state into each other, and evaluation is interrupted when it exceeds the
// configured budget.
type GojaEngine struct {
	timeout time.Duration
}

var _ ExpressionEngine = (*GojaEngine)(nil)

// NewGojaEngine creates an expression engine with the given per-evaluation
// time budget. A zero timeout defaults to one second.
func NewGojaEngine(timeout time.Duration) *GojaEngine {
	if timeout <= 0 {
		timeout = time.Second
	}

	return &GojaEngine{timeout: timeout}
}

// Evaluate runs the formula with the given bindings and returns the user id
// it yields. Non-string results are rejected.
func (e *GojaEngine) Evaluate(ctx context.Context, formula string, bindings map[string]any) (string, error) {
	vm := goja.New()

	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return "", fmt.Errorf("binding %q: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("formula evaluation timed out")
		case <-done:
		}
	}()

	value, err := vm.RunString(formula)
	if err != nil {
		return "", fmt.Errorf("running formula: %w", err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "", nil
	}

	userID, ok := value.Export().(string)
	if !ok {
		return "", fmt.Errorf("formula must return a user id string, got %T", value.Export())
	}

	return userID, nil
}
