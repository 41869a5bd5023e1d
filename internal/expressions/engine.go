package expressions

import "context"

// Engine evaluates a single expression against scope data.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Name returns the engine identifier ("cel", "expr", "jq").
	Name() string

	// Evaluate evaluates the expression with the given data and returns the result.
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
