package expr

import "sync"

// Engine parses expressions once per unique source string and caches
// the AST, so repeated evaluation of the same rule's pre_filter never
// re-parses.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]Node
}

// NewEngine returns a ready-to-use Expression Engine.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]Node)}
}

// Evaluate parses (or fetches from cache) expression and evaluates it
// against vars, returning a boolean result or an EvalError. The result
// must be boolean; a well-typed non-boolean result is itself an
// evaluation error.
func (e *Engine) Evaluate(expression string, vars map[string]interface{}) (bool, error) {
	node, err := e.parseCached(expression)
	if err != nil {
		return false, err
	}
	result, err := evaluate(node, vars)
	if err != nil {
		return false, err
	}
	if result.kind != 'b' {
		return false, evalErr("expression did not evaluate to a boolean")
	}
	return result.b, nil
}

func (e *Engine) parseCached(expression string) (Node, error) {
	e.mu.RLock()
	node, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return node, nil
	}

	node, err := parse(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = node
	e.mu.Unlock()
	return node, nil
}
