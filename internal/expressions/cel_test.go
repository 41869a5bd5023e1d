package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCEL(t *testing.T) *CELEngine {
	t.Helper()
	engine, err := NewCELEngine()
	require.NoError(t, err)
	return engine
}

func TestCELEngine_Name(t *testing.T) {
	assert.Equal(t, "cel", newTestCEL(t).Name())
}

func TestCELEngine_SimpleComparison(t *testing.T) {
	engine := newTestCEL(t)

	result, err := engine.Evaluate(context.Background(), `input.count > 3`, map[string]any{
		"input": map[string]any{"count": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestCELEngine_TaskOutputAccess(t *testing.T) {
	engine := newTestCEL(t)

	data := map[string]any{
		"tasks": map[string]any{
			"fetch": map[string]any{
				"output": map[string]any{"code": 200},
				"status": "completed",
			},
		},
	}

	result, err := engine.Evaluate(context.Background(), `tasks.fetch.output.code == 200`, data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = engine.Evaluate(context.Background(), `tasks.fetch.status == "completed"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestCELEngine_MissingKeysDefaultToEmptyMaps(t *testing.T) {
	engine := newTestCEL(t)

	// No activation data at all; membership checks still work.
	result, err := engine.Evaluate(context.Background(), `"region" in input`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestCELEngine_CompileError(t *testing.T) {
	engine := newTestCEL(t)

	_, err := engine.Evaluate(context.Background(), `input.count >`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CEL compile error")
}

func TestCELEngine_EmptyExpression(t *testing.T) {
	engine := newTestCEL(t)

	_, err := engine.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCELEngine_CacheReuse(t *testing.T) {
	engine := newTestCEL(t)
	data := map[string]any{"input": map[string]any{"x": 1}}

	for i := 0; i < 3; i++ {
		result, err := engine.Evaluate(context.Background(), `input.x == 1`, data)
		require.NoError(t, err)
		assert.Equal(t, true, result)
	}
	assert.Len(t, engine.cache, 1)
}
