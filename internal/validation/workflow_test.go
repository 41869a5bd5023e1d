package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

func newPipeline(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator(coreOnly)
	require.NoError(t, err)
	return wv
}

func TestPipeline_ValidWorkflow(t *testing.T) {
	wv := newPipeline(t)

	result := wv.Validate(validDefinition())
	assert.True(t, result.Valid())
	assert.NoError(t, wv.ValidateDefinition(validDefinition()))
}

func TestPipeline_NilDefinition(t *testing.T) {
	wv := newPipeline(t)

	result := wv.Validate(nil)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestPipeline_StructuralShortCircuits(t *testing.T) {
	wv := newPipeline(t)

	// Missing component is a structural error; the dangling dependency
	// (semantic) must not be reported.
	def := validDefinition()
	def.Tasks["fetch"].Component = ""
	def.Tasks["store"].DependsOn = []string{"ghost"}

	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotContains(t, issue.Message, "ghost")
	}
}

func TestPipeline_SemanticBlocksDAGStage(t *testing.T) {
	wv := newPipeline(t)

	// Dangling ref is semantic; the cycle between b and c must not be
	// double-reported by the DAG stage.
	def := defWithDeps(map[string][]string{
		"a": {"ghost"},
		"b": {"c"},
		"c": {"b"},
	})

	result := wv.Validate(def)
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.NotEqual(t, schema.ErrCodeCycleDetected, issue.Code)
	}
}

func TestPipeline_CycleReported(t *testing.T) {
	wv := newPipeline(t)

	def := defWithDeps(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, result.Errors[0].Code)

	err := wv.ValidateDefinition(def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestPipeline_ValidateInput(t *testing.T) {
	wv := newPipeline(t)

	inputSchema := []byte(`{"type": "object", "required": ["region"]}`)
	assert.NoError(t, wv.ValidateInput(map[string]any{"region": "eu"}, inputSchema))
	assert.Error(t, wv.ValidateInput(map[string]any{}, inputSchema))
}
