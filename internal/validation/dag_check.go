package validation

import (
	"fmt"
	"sort"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// validateDAG performs graph analysis on the task set:
// cycle detection (Kahn's algorithm) and dead-task reachability (BFS from roots).
func validateDAG(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// edges[id] = dependencies of task id, reverse[id] = dependents of task id.
	edges := make(map[string][]string, len(def.Tasks))
	reverse := make(map[string][]string, len(def.Tasks))

	for id, task := range def.Tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			if _, ok := def.Tasks[dep]; !ok || seen[dep] || dep == id {
				continue // invalid refs already caught by semantic
			}
			seen[dep] = true
			edges[id] = append(edges[id], dep)
			reverse[dep] = append(reverse[dep], id)
		}
	}

	// Kahn's algorithm for cycle detection.
	inDegree := make(map[string]int, len(def.Tasks))
	for id := range def.Tasks {
		inDegree[id] = len(edges[id])
	}

	queue := make([]string, 0, len(def.Tasks))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range reverse[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(def.Tasks) {
		result.AddError("tasks", schema.ErrCodeCycleDetected, "workflow contains a dependency cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from root tasks (no dependencies) through reverse edges.
	roots := make([]string, 0)
	for id := range def.Tasks {
		if len(edges[id]) == 0 {
			roots = append(roots, id)
		}
	}

	reachable := make(map[string]bool, len(def.Tasks))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, dep := range reverse[node] {
			if !reachable[dep] {
				reachable[dep] = true
				bfsQueue = append(bfsQueue, dep)
			}
		}
	}

	for _, id := range sortedTaskIDs(def) {
		if !reachable[id] {
			result.AddWarning(fmt.Sprintf("tasks[%s]", id),
				schema.ErrCodeValidation,
				fmt.Sprintf("task %q is unreachable from any root task", id))
		}
	}

	return result
}
