package expressions

// Scope holds all data available for variable resolution during one
// execution: workflow input, per-task outputs recorded so far, workflow and
// execution metadata, and the free-form execution context.
type Scope struct {
	Input     map[string]any // workflow input parameters
	Tasks     map[string]any // task ID -> frozen result view ({output, status})
	Workflow  map[string]any // workflow metadata (id, name, version)
	Execution map[string]any // execution metadata (id, start_time, ...)
	Context   map[string]any // free-form execution context
}

// Data flattens the scope into the map shape the expression engines expose
// as top-level variables.
func (s *Scope) Data() map[string]any {
	return map[string]any{
		"input":     orEmpty(s.Input),
		"tasks":     orEmpty(s.Tasks),
		"workflow":  orEmpty(s.Workflow),
		"execution": orEmpty(s.Execution),
		"context":   orEmpty(s.Context),
	}
}

// FreezeTaskResult deep-copies a task's output and status into the tasks
// namespace so later mutations by the engine cannot alias into resolved
// expressions.
func (s *Scope) FreezeTaskResult(taskID string, output map[string]any, status string) {
	if s.Tasks == nil {
		s.Tasks = make(map[string]any)
	}
	s.Tasks[taskID] = map[string]any{
		"output": deepCopyMap(output),
		"status": status,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// deepCopyMap recursively copies a map so the copy shares no mutable
// structure with the original. Scalars are copied by value.
func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyAny(v)
	}
	return dst
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyAny(item)
		}
		return out
	default:
		return val
	}
}
