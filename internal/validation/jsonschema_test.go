package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf-valid",
		Name: "valid",
		Tasks: map[string]*schema.TaskDefinition{
			"fetch": {ID: "fetch", Component: "core", Action: "echo"},
			"store": {ID: "store", Component: "core", Action: "echo", DependsOn: []string{"fetch"}},
		},
	}
}

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateDefinition(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidateDefinition_NoTasks(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{ID: "wf-empty", Tasks: map[string]*schema.TaskDefinition{}}
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidateDefinition_MissingComponent(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.Tasks["fetch"].Component = ""
	err := v.ValidateDefinition(def)
	require.Error(t, err)
}

func TestValidateDefinition_TaskKeyMismatch(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.Tasks["fetch"].ID = "other"
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match task id")
}

func TestValidateDefinition_BadRetryDuration(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{MaxRetries: 2, InitialDelay: "fast"}
	err := v.ValidateDefinition(def)
	require.Error(t, err)
}

func TestValidateDefinition_NegativeMaxRetries(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{MaxRetries: -1}
	err := v.ValidateDefinition(def)
	require.Error(t, err)
}

func TestValidateInput_Valid(t *testing.T) {
	v := newValidator(t)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["region"],
		"properties": {
			"region": {"type": "string"},
			"count": {"type": "integer", "minimum": 0}
		}
	}`)

	err := v.ValidateInput(map[string]any{"region": "eu", "count": 3}, inputSchema)
	assert.NoError(t, err)
}

func TestValidateInput_MissingRequired(t *testing.T) {
	v := newValidator(t)

	inputSchema := []byte(`{"type": "object", "required": ["region"]}`)
	err := v.ValidateInput(map[string]any{"count": 3}, inputSchema)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidateInput_NoSchema(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateInput(map[string]any{"anything": true}, nil))
}

func TestValidateInput_NilInput(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateInput(nil, []byte(`{"type":"object"}`))
	require.Error(t, err)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateInput(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestValidateInput_SchemaCacheReuse(t *testing.T) {
	v := newValidator(t)

	inputSchema := []byte(`{"type": "object", "properties": {"n": {"type": "integer"}}}`)
	require.NoError(t, v.ValidateInput(map[string]any{"n": 1}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"n": 2}, inputSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateDefinition_InputSchemaPassthrough(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.InputSchema = json.RawMessage(`{"type":"object"}`)
	def.Tasks["fetch"].Input = json.RawMessage(`{"msg":"${{input.region}}"}`)
	assert.NoError(t, v.ValidateDefinition(def))
}
