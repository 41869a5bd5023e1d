package validation

import "github.com/harmonia-labs/harmonia/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for input/output validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ComponentLookup answers whether a component action is registered.
// Implemented by the component registry.
type ComponentLookup interface {
	Has(component, action string) bool
}
