package components

import (
	"context"
	"encoding/json"
)

// Component is a named bundle of actions a task can invoke. Implementations
// must be safe for concurrent Execute calls across tasks and executions.
type Component interface {
	Name() string
	Actions() []ActionInfo
	Execute(ctx context.Context, action string, input map[string]any) (map[string]any, error)
}

// ActionInfo describes one action of a component for introspection and
// validation tooling.
type ActionInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
