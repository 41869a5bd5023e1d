package engine

import (
	"fmt"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// Graph is the in-memory dependency graph of a workflow definition.
// Built once per execution; the driver uses it to decide dispatch order.
type Graph struct {
	Tasks   map[string]*schema.TaskDefinition // task ID → definition
	Edges   map[string][]string               // task ID → dependencies (depends_on)
	Reverse map[string][]string               // task ID → dependents (who depends on me)
	Sorted  []string                          // topological order
	Roots   []string                          // tasks with no dependencies
}

// BuildGraph builds an executable graph from a WorkflowDefinition.
// It validates the task set, builds adjacency lists, performs topological
// sorting using Kahn's algorithm, and detects cycles. All errors here are
// construction errors: the execution never starts.
func BuildGraph(def *schema.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	if len(def.Tasks) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no tasks")
	}

	g := &Graph{
		Tasks:   make(map[string]*schema.TaskDefinition, len(def.Tasks)),
		Edges:   make(map[string][]string, len(def.Tasks)),
		Reverse: make(map[string][]string, len(def.Tasks)),
	}

	// First pass: register all tasks.
	for key, task := range def.Tasks {
		if task == nil || task.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "task %q has empty ID", key)
		}
		if task.ID != key {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "task key %q does not match task id %q", key, task.ID)
		}
		if task.Component == "" || task.Action == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "task %s has no component action", task.ID)
		}
		g.Tasks[task.ID] = task
	}

	// Second pass: build adjacency lists and validate dependencies.
	for id, task := range g.Tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		deps := make([]string, 0, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "task %s depends on itself", id)
			}
			if _, exists := g.Tasks[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "task %s depends on non-existent task: %s", id, dep)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "task %s has duplicate dependency: %s", id, dep)
			}
			seen[dep] = true
			deps = append(deps, dep)
			g.Reverse[dep] = append(g.Reverse[dep], id)
		}
		g.Edges[id] = deps
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Tasks))
	for id := range g.Tasks {
		inDegree[id] = len(g.Edges[id])
	}

	// Queue tasks with in-degree 0 (roots).
	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	if len(queue) == 0 {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow has no root tasks")
	}

	// Sort roots for deterministic ordering.
	sortStrings(queue)
	g.Roots = make([]string, len(queue))
	copy(g.Roots, queue)

	sorted := make([]string, 0, len(g.Tasks))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		// For each dependent of this node, decrement its in-degree.
		dependents := make([]string, len(g.Reverse[node]))
		copy(dependents, g.Reverse[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.Tasks) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a dependency cycle")
	}

	g.Sorted = sorted

	return g, nil
}

// Dependents returns the transitive closure of tasks that depend on id.
func (g *Graph) Dependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(node string) {
		for _, dep := range g.Reverse[node] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)

	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sortStrings(out)
	return out
}

// String renders the graph edges for debugging.
func (g *Graph) String() string {
	return fmt.Sprintf("graph{tasks=%d roots=%v}", len(g.Tasks), g.Roots)
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
