package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// exprPrefix selects the expr-lang engine for a condition instead of the
// CEL default.
const exprPrefix = "expr:"

// Resolver bundles the interpolator and expression engines behind the single
// surface the engine consumes: input resolution, condition gating, and
// output transforms.
type Resolver struct {
	interp *Interpolator
	cel    *CELEngine
	expr   *ExprEngine
	jq     *GoJQEngine
}

// NewResolver constructs a Resolver with all engines initialized.
func NewResolver() (*Resolver, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		interp: NewInterpolator(),
		cel:    celEngine,
		expr:   NewExprEngine(),
		jq:     NewGoJQEngine(),
	}, nil
}

// ResolveInput interpolates a task's input template against the scope and
// returns the resolved input map.
func (r *Resolver) ResolveInput(template json.RawMessage, scope *Scope) (map[string]any, error) {
	return r.interp.ResolveInput(template, scope)
}

// EvaluateCondition evaluates a gating condition against the scope. CEL is
// the default; the "expr:" prefix selects the expr-lang engine. The result
// must be a boolean.
func (r *Resolver) EvaluateCondition(ctx context.Context, condition string, scope *Scope) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	var (
		engine Engine = r.cel
		expr          = condition
	)
	if strings.HasPrefix(condition, exprPrefix) {
		engine = r.expr
		expr = strings.TrimSpace(strings.TrimPrefix(condition, exprPrefix))
	}

	result, err := engine.Evaluate(ctx, expr, scope.Data())
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q must evaluate to a boolean, got %T", condition, result).
			WithDetails(map[string]any{"condition": condition, "engine": engine.Name()})
	}
	return b, nil
}

// Transform applies a jq transform expression to a task output.
func (r *Resolver) Transform(ctx context.Context, expression string, output map[string]any) (map[string]any, error) {
	return r.jq.Transform(ctx, expression, output)
}
