package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

func graphDef(tasks ...*schema.TaskDefinition) *schema.WorkflowDefinition {
	def := &schema.WorkflowDefinition{
		ID:    "wf-graph",
		Tasks: make(map[string]*schema.TaskDefinition, len(tasks)),
	}
	for _, t := range tasks {
		def.Tasks[t.ID] = t
	}
	return def
}

func graphTask(id string, deps ...string) *schema.TaskDefinition {
	return &schema.TaskDefinition{
		ID:        id,
		Component: "core",
		Action:    "echo",
		DependsOn: deps,
	}
}

func TestBuildGraph_LinearChain(t *testing.T) {
	g, err := BuildGraph(graphDef(
		graphTask("a"),
		graphTask("b", "a"),
		graphTask("c", "b"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.Sorted)
	assert.Equal(t, []string{"a"}, g.Roots)
	assert.Equal(t, []string{"b"}, g.Edges["c"])
	assert.Equal(t, []string{"b"}, g.Reverse["a"])
}

func TestBuildGraph_DiamondTopologicalOrder(t *testing.T) {
	g, err := BuildGraph(graphDef(
		graphTask("a"),
		graphTask("b", "a"),
		graphTask("c", "a"),
		graphTask("d", "b", "c"),
	))
	require.NoError(t, err)

	pos := make(map[string]int, len(g.Sorted))
	for i, id := range g.Sorted {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["a"], pos["c"])
	assert.Less(t, pos["b"], pos["d"])
	assert.Less(t, pos["c"], pos["d"])
}

func TestBuildGraph_NilDefinition(t *testing.T) {
	_, err := BuildGraph(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestBuildGraph_EmptyTasks(t *testing.T) {
	_, err := BuildGraph(&schema.WorkflowDefinition{ID: "wf-empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tasks")
}

func TestBuildGraph_KeyIDMismatch(t *testing.T) {
	def := graphDef(graphTask("a"))
	def.Tasks["wrong"] = &schema.TaskDefinition{ID: "b", Component: "core", Action: "echo"}

	_, err := BuildGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestBuildGraph_MissingComponent(t *testing.T) {
	def := graphDef(&schema.TaskDefinition{ID: "a", Action: "echo"})

	_, err := BuildGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component")
}

func TestBuildGraph_SelfDependency(t *testing.T) {
	_, err := BuildGraph(graphDef(graphTask("a", "a")))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.ErrorCode(err))
}

func TestBuildGraph_DanglingDependency(t *testing.T) {
	_, err := BuildGraph(graphDef(graphTask("a", "ghost")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-existent")
}

func TestBuildGraph_DuplicateDependency(t *testing.T) {
	_, err := BuildGraph(graphDef(
		graphTask("a"),
		graphTask("b", "a", "a"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestBuildGraph_CycleDetected(t *testing.T) {
	_, err := BuildGraph(graphDef(
		graphTask("seed"),
		graphTask("a", "seed", "c"),
		graphTask("b", "a"),
		graphTask("c", "b"),
	))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.ErrorCode(err))
}

func TestBuildGraph_NoRoots(t *testing.T) {
	_, err := BuildGraph(graphDef(
		graphTask("a", "b"),
		graphTask("b", "a"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no root tasks")
}

func TestGraph_DependentsTransitiveClosure(t *testing.T) {
	g, err := BuildGraph(graphDef(
		graphTask("a"),
		graphTask("b", "a"),
		graphTask("c", "b"),
		graphTask("d", "a"),
		graphTask("e"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "d"}, g.Dependents("a"))
	assert.Equal(t, []string{"c"}, g.Dependents("b"))
	assert.Empty(t, g.Dependents("e"))
}

func TestSortStrings(t *testing.T) {
	s := []string{"c", "a", "b", "a"}
	sortStrings(s)
	assert.Equal(t, []string{"a", "a", "b", "c"}, s)
}
