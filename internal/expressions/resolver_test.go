package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver()
	require.NoError(t, err)
	return r
}

func TestResolver_EvaluateCondition_CELDefault(t *testing.T) {
	r := newTestResolver(t)
	scope := &Scope{Input: map[string]any{"enabled": true}}

	ok, err := r.EvaluateCondition(context.Background(), `input.enabled == true`, scope)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_EvaluateCondition_ExprPrefix(t *testing.T) {
	r := newTestResolver(t)
	scope := &Scope{Input: map[string]any{"items": []any{float64(1), float64(2)}}}

	ok, err := r.EvaluateCondition(context.Background(), `expr: len(input.items) == 2`, scope)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_EvaluateCondition_EmptyIsTrue(t *testing.T) {
	r := newTestResolver(t)

	ok, err := r.EvaluateCondition(context.Background(), "", &Scope{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_EvaluateCondition_NonBoolean(t *testing.T) {
	r := newTestResolver(t)
	scope := &Scope{Input: map[string]any{"count": 3}}

	_, err := r.EvaluateCondition(context.Background(), `input.count`, scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to a boolean")
}

func TestResolver_ResolveInput(t *testing.T) {
	r := newTestResolver(t)
	scope := &Scope{Input: map[string]any{"name": "alpha"}}

	input, err := r.ResolveInput(json.RawMessage(`{"who":"${{input.name}}"}`), scope)
	require.NoError(t, err)
	assert.Equal(t, "alpha", input["who"])
}

func TestResolver_Transform(t *testing.T) {
	r := newTestResolver(t)

	out, err := r.Transform(context.Background(), `{n: (.values | length)}`, map[string]any{
		"values": []any{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 3}, out)
}
