package components

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// Registry is the thread-safe component lookup the engine dispatches through.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]Component),
	}
}

// Register adds a component to the registry. Returns error on duplicate name.
func (r *Registry) Register(c Component) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "component is nil")
	}
	name := c.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "component name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "component %q already registered", name)
	}

	r.components[name] = c
	return nil
}

// Get retrieves a component by name.
func (r *Registry) Get(name string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "component %q not registered", name)
	}
	return c, nil
}

// Components returns the registered component names, sorted.
func (r *Registry) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns the action descriptors of a component, sorted by name.
func (r *Registry) Actions(component string) ([]ActionInfo, error) {
	c, err := r.Get(component)
	if err != nil {
		return nil, err
	}

	infos := c.Actions()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// ActionSchema returns the declared input schema of one action.
func (r *Registry) ActionSchema(component, action string) (json.RawMessage, error) {
	c, err := r.Get(component)
	if err != nil {
		return nil, err
	}
	for _, info := range c.Actions() {
		if info.Name == action {
			return info.InputSchema, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound,
		"action %q not found in component %q", action, component)
}

// Has checks whether a component exposes the given action.
func (r *Registry) Has(component, action string) bool {
	c, err := r.Get(component)
	if err != nil {
		return false
	}
	for _, info := range c.Actions() {
		if info.Name == action {
			return true
		}
	}
	return false
}

// Execute resolves the component and invokes the named action.
func (r *Registry) Execute(ctx context.Context, component, action string, input map[string]any) (map[string]any, error) {
	c, err := r.Get(component)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, action, input)
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}
