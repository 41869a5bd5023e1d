package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func testScope(tasks map[string]any, input, workflow, ctxData map[string]any) *Scope {
	return &Scope{
		Input:    input,
		Tasks:    tasks,
		Workflow: workflow,
		Context:  ctxData,
	}
}

func taskResult(output map[string]any, status string) map[string]any {
	return map[string]any{"output": output, "status": status}
}

// --- Resolve tests ---

func TestInterpolator_NoInterpolation(t *testing.T) {
	interp := NewInterpolator()
	raw := json.RawMessage(`{"url":"https://example.com","count":42}`)

	result, err := interp.Resolve(raw, testScope(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com","count":42}`, string(result))
}

func TestInterpolator_EmptyTemplate(t *testing.T) {
	interp := NewInterpolator()

	result, err := interp.Resolve(nil, testScope(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = interp.Resolve(json.RawMessage(``), testScope(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestInterpolator_TaskOutput_Full(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(
		map[string]any{"fetch": taskResult(map[string]any{"url": "https://api.example.com", "code": float64(200)}, "completed")},
		nil, nil, nil,
	)

	raw := json.RawMessage(`{"data":${{tasks.fetch.output}}}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	// The full output map is serialized as JSON inline.
	assert.JSONEq(t, `{"data":{"url":"https://api.example.com","code":200}}`, string(result))
}

func TestInterpolator_TaskOutput_NestedField(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(
		map[string]any{"fetch": taskResult(map[string]any{"url": "https://api.example.com"}, "completed")},
		nil, nil, nil,
	)

	raw := json.RawMessage(`{"target":"${{tasks.fetch.output.url}}"}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"https://api.example.com"}`, string(result))
}

func TestInterpolator_TaskStatus(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(
		map[string]any{"fetch": taskResult(map[string]any{}, "completed")},
		nil, nil, nil,
	)

	raw := json.RawMessage(`{"prev":"${{tasks.fetch.status}}"}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prev":"completed"}`, string(result))
}

func TestInterpolator_InputReference(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(nil, map[string]any{"region": "eu-west-1", "retries": float64(2)}, nil, nil)

	raw := json.RawMessage(`{"region":"${{input.region}}","n":${{input.retries}}}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":"eu-west-1","n":2}`, string(result))
}

func TestInterpolator_WorkflowAndContext(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(nil, nil,
		map[string]any{"name": "nightly-sync"},
		map[string]any{"restored_from_checkpoint": true},
	)

	raw := json.RawMessage(`{"wf":"${{workflow.name}}","restored":${{context.restored_from_checkpoint}}}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wf":"nightly-sync","restored":true}`, string(result))
}

func TestInterpolator_EmbeddedInString(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(nil, map[string]any{"name": "world"}, nil, nil)

	raw := json.RawMessage(`{"greeting":"hello ${{input.name}}!"}`)
	result, err := interp.Resolve(raw, scope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"greeting":"hello world!"}`, string(result))
}

func TestInterpolator_UnknownNamespace(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.Resolve(json.RawMessage(`{"v":"${{bogus.key}}"}`), testScope(nil, nil, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown namespace")
}

func TestInterpolator_MissingTask(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(map[string]any{"a": taskResult(nil, "completed")}, nil, nil, nil)

	_, err := interp.Resolve(json.RawMessage(`{"v":"${{tasks.b.output}}"}`), scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `task "b" not found`)
}

func TestInterpolator_MissingField(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(nil, map[string]any{"present": 1}, nil, nil)

	_, err := interp.Resolve(json.RawMessage(`{"v":"${{input.absent}}"}`), scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInterpolator_UnclosedExpression(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.Resolve(json.RawMessage(`{"v":"${{input.x"}`), testScope(nil, nil, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed")
}

func TestInterpolator_NestedExpressionRejected(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.Resolve(json.RawMessage(`{"v":"${{input.${{input.k}}}}"}`), testScope(nil, nil, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested interpolation")
}

func TestInterpolator_ResolveInput(t *testing.T) {
	interp := NewInterpolator()
	scope := testScope(
		map[string]any{"extract": taskResult(map[string]any{"rows": float64(10)}, "completed")},
		map[string]any{"table": "events"},
		nil, nil,
	)

	input, err := interp.ResolveInput(json.RawMessage(`{"table":"${{input.table}}","rows":${{tasks.extract.output.rows}}}`), scope)
	require.NoError(t, err)
	assert.Equal(t, "events", input["table"])
	assert.Equal(t, float64(10), input["rows"])
}

func TestInterpolator_ResolveInput_EmptyTemplate(t *testing.T) {
	interp := NewInterpolator()

	input, err := interp.ResolveInput(nil, testScope(nil, nil, nil, nil))
	require.NoError(t, err)
	assert.Empty(t, input)
}

func TestInterpolator_ResolveInput_NotAnObject(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.ResolveInput(json.RawMessage(`[1,2,3]`), testScope(nil, nil, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON object")
}

func TestHasInterpolation(t *testing.T) {
	assert.True(t, HasInterpolation(json.RawMessage(`{"v":"${{input.x}}"}`)))
	assert.False(t, HasInterpolation(json.RawMessage(`{"v":"plain"}`)))
}

func TestScope_FreezeTaskResult(t *testing.T) {
	scope := &Scope{}
	output := map[string]any{"nested": map[string]any{"k": "v"}}

	scope.FreezeTaskResult("a", output, "completed")

	// Mutating the original must not leak into the frozen copy.
	output["nested"].(map[string]any)["k"] = "mutated"

	frozen := scope.Tasks["a"].(map[string]any)["output"].(map[string]any)
	assert.Equal(t, "v", frozen["nested"].(map[string]any)["k"])
	assert.Equal(t, "completed", scope.Tasks["a"].(map[string]any)["status"])
}
