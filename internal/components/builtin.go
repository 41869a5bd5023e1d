package components

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// CoreComponent is the built-in "core" component: small utility actions used
// for wiring checks, examples, and scheduled no-op workflows.
type CoreComponent struct{}

// NewCoreComponent creates the built-in core component.
func NewCoreComponent() *CoreComponent {
	return &CoreComponent{}
}

func (c *CoreComponent) Name() string { return "core" }

func (c *CoreComponent) Actions() []ActionInfo {
	return []ActionInfo{
		{
			Name:        "echo",
			Description: "Returns its input unchanged.",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		{
			Name:        "sleep",
			Description: "Sleeps for the given duration, honoring cancellation.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"duration":{"type":"string"}},"required":["duration"]}`),
		},
		{
			Name:        "fail",
			Description: "Always fails with the given message. Used to exercise retry and skip paths.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`),
		},
		{
			Name:        "merge",
			Description: "Merges the objects listed under 'sources' into one map; later keys win.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"sources":{"type":"array","items":{"type":"object"}}},"required":["sources"]}`),
		},
	}
}

func (c *CoreComponent) Execute(ctx context.Context, action string, input map[string]any) (map[string]any, error) {
	switch action {
	case "echo":
		return input, nil
	case "sleep":
		return c.sleep(ctx, input)
	case "fail":
		msg, _ := input["message"].(string)
		if msg == "" {
			msg = "core.fail invoked"
		}
		return nil, schema.NewError(schema.ErrCodeExecution, msg)
	case "merge":
		return c.merge(input)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not found in component %q", action, c.Name())
	}
}

func (c *CoreComponent) sleep(ctx context.Context, input map[string]any) (map[string]any, error) {
	raw, _ := input["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid duration %q", raw).WithCause(err)
	}

	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCanceled, "sleep canceled").WithCause(ctx.Err())
	}
}

func (c *CoreComponent) merge(input map[string]any) (map[string]any, error) {
	sources, ok := input["sources"].([]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "merge requires a 'sources' array")
	}

	out := make(map[string]any)
	for _, src := range sources {
		obj, ok := src.(map[string]any)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "merge sources must be objects")
		}
		for k, v := range obj {
			out[k] = v
		}
	}
	return out, nil
}

var _ Component = (*CoreComponent)(nil)

// RegisterBuiltins registers all built-in components in the given registry.
func RegisterBuiltins(reg *Registry) error {
	if err := reg.Register(NewCoreComponent()); err != nil {
		return err
	}
	return reg.Register(NewHTTPComponent(HTTPConfig{}))
}
