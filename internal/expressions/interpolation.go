package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// Interpolator resolves ${{...}} references in task input templates against
// the live execution scope.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Resolve scans raw JSON for ${{...}} tokens, resolves each against the
// scope, and returns the interpolated JSON bytes.
func (interp *Interpolator) Resolve(raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	input := string(raw)
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		// Look for ${{ marker.
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		// Write everything before the marker.
		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		// Find the closing }}.
		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested ${{ inside the expression.
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveExpr(expr, scope)
		if err != nil {
			return nil, err
		}

		// Embed the resolved value into the JSON string.
		result.WriteString(marshalInline(val))

		i = end + 2 // skip "}}".
	}

	return json.RawMessage(result.String()), nil
}

// ResolveInput interpolates a task input template and unmarshals the result
// into the resolved input map handed to the component action.
func (interp *Interpolator) ResolveInput(template json.RawMessage, scope *Scope) (map[string]any, error) {
	if len(template) == 0 {
		return map[string]any{}, nil
	}

	resolved, err := interp.Resolve(template, scope)
	if err != nil {
		return nil, err
	}

	var input map[string]any
	if err := json.Unmarshal(resolved, &input); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"resolved input is not a JSON object: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"resolved": string(resolved)})
	}
	return input, nil
}

// resolveExpr resolves a single expression path like "tasks.fetch.output.url".
func (interp *Interpolator) resolveExpr(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "tasks":
		return interp.resolveTasks(expr, scope)
	case "input":
		return interp.resolveNamespace(scope.Input, expr, "input")
	case "workflow":
		return interp.resolveNamespace(scope.Workflow, expr, "workflow")
	case "execution":
		return interp.resolveNamespace(scope.Execution, expr, "execution")
	case "context":
		return interp.resolveNamespace(scope.Context, expr, "context")
	default:
		available := []string{"input", "tasks", "workflow", "execution", "context"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveTasks resolves tasks.<id>.output[.<field>...] and tasks.<id>.status.
func (interp *Interpolator) resolveTasks(expr string, scope *Scope) (any, error) {
	// Expected: tasks.<id>.output[.<field>...] or tasks.<id>.status
	parts := strings.SplitN(expr, ".", 4) // [tasks, id, output|status, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid task reference %q: expected tasks.<id>.output[.<field>] or tasks.<id>.status", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	taskID := parts[1]
	if scope.Tasks == nil {
		return nil, interp.missingTaskErr(expr, taskID, scope)
	}

	entry, ok := scope.Tasks[taskID]
	if !ok {
		return nil, interp.missingTaskErr(expr, taskID, scope)
	}

	result, ok := entry.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"malformed task result for %q in ${{%s}}", taskID, expr).
			WithDetails(map[string]any{"expression": expr})
	}

	switch parts[2] {
	case "status":
		if len(parts) > 3 {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"invalid task reference %q: status has no sub-fields", expr).
				WithDetails(map[string]any{"expression": expr})
		}
		return result["status"], nil
	case "output":
		output := result["output"]
		// tasks.<id>.output returns the whole output map.
		if len(parts) == 3 {
			return output, nil
		}
		// tasks.<id>.output.<field>[.<subfield>...]
		return interp.traversePath(output, parts[3], expr)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid task reference %q: only 'output' and 'status' are supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}
}

// resolveNamespace resolves <namespace>.<field>[.<subfield>...] from a map.
func (interp *Interpolator) resolveNamespace(data map[string]any, expr, namespace string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid %s reference %q: expected %s.<field>", namespace, expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	fieldPath := parts[1]
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	// Traverse by splitting on dots.
	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// missingTaskErr builds an error for missing task references with available tasks listed.
func (interp *Interpolator) missingTaskErr(expr, id string, scope *Scope) *schema.Error {
	available := mapKeys(scope.Tasks)
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"task %q not found in ${{%s}}; available tasks: [%s]", id, expr, strings.Join(available, ", ")).
		WithDetails(map[string]any{"expression": expr, "available_tasks": available})
}

// marshalInline converts a resolved value into its inline JSON representation.
// Strings are embedded bare (the surrounding template supplies any quotes);
// complex types are JSON-encoded inline.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort for small slices.
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if a JSON blob contains any ${{...}} references.
func HasInterpolation(raw json.RawMessage) bool {
	return strings.Contains(string(raw), "${{")
}
