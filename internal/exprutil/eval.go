// Package exprutil wraps github.com/expr-lang/expr with the compiled-program
// caching the rest of the runtime relies on: conditions and effect guards
// are authored as expression strings and evaluated many times per tick
// against different namespaces, so compilation is cached by source text.
package exprutil

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and caches expr programs keyed by source text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New returns an Evaluator with an empty compiled-program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[source]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", source, err)
	}

	e.mu.Lock()
	e.cache[source] = program
	e.mu.Unlock()
	return program, nil
}

// EvalBool compiles (or reuses) source and runs it against ns, coercing the
// result to bool. Used for VALIDATE handlers and edge/requirement guards.
func (e *Evaluator) EvalBool(source string, ns map[string]any) (bool, error) {
	if source == "" {
		return true, nil
	}
	result, err := e.Eval(source, ns)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a bool, got %T", source, result)
	}
	return b, nil
}

// Eval compiles (or reuses) source and runs it against ns, returning the
// raw result.
func (e *Evaluator) Eval(source string, ns map[string]any) (any, error) {
	program, err := e.compile(source)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(program, ns)
	if err != nil {
		return nil, fmt.Errorf("run expression %q: %w", source, err)
	}
	return result, nil
}
