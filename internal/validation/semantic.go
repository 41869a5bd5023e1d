package validation

import (
	"fmt"
	"sort"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: component actions registered, depends_on refs valid, retry policy
// durations parseable, condition expressions well-typed.
func validateSemantic(def *schema.WorkflowDefinition, lookup ComponentLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for _, id := range sortedTaskIDs(def) {
		path := fmt.Sprintf("tasks[%s]", id)
		validateTaskSemantic(def.Tasks[id], path, def.Tasks, lookup, result)
	}

	return result
}

// validateTaskSemantic checks a single task definition.
func validateTaskSemantic(task *schema.TaskDefinition, path string, tasks map[string]*schema.TaskDefinition, lookup ComponentLookup, result *schema.ValidationResult) {
	// Component action existence.
	if lookup != nil && task.Component != "" && task.Action != "" {
		if !lookup.Has(task.Component, task.Action) {
			result.AddError(path+".action", schema.ErrCodeNotFound,
				fmt.Sprintf("action %q not registered on component %q", task.Action, task.Component))
		}
	}

	// depends_on references.
	for j, dep := range task.DependsOn {
		depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
		if dep == task.ID {
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("task %q depends on itself", task.ID))
			continue
		}
		if _, ok := tasks[dep]; !ok {
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent task %q", dep))
		}
	}

	// Retry policy durations and bounds.
	if task.Retry != nil {
		validateRetryPolicy(task.Retry, path+".retry", result)
	}

	// Condition must be a string when present.
	if task.Metadata != nil {
		if raw, ok := task.Metadata["condition"]; ok {
			if _, isStr := raw.(string); !isStr {
				result.AddError(path+".metadata.condition", schema.ErrCodeValidation,
					"condition must be a string expression")
			}
		}
	}
}

// validateRetryPolicy checks duration strings and backoff bounds.
func validateRetryPolicy(rp *schema.RetryPolicy, path string, result *schema.ValidationResult) {
	if rp.MaxRetries < 0 {
		result.AddError(path+".max_retries", schema.ErrCodeValidation,
			"max_retries must be >= 0")
	}
	if rp.MaxRetries > 10 {
		result.AddWarning(path+".max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", rp.MaxRetries))
	}

	var initial, max time.Duration
	if rp.InitialDelay != "" {
		d, err := time.ParseDuration(rp.InitialDelay)
		if err != nil {
			result.AddError(path+".initial_delay", schema.ErrCodeValidation,
				fmt.Sprintf("invalid duration %q", rp.InitialDelay))
		} else {
			initial = d
		}
	}
	if rp.MaxDelay != "" {
		d, err := time.ParseDuration(rp.MaxDelay)
		if err != nil {
			result.AddError(path+".max_delay", schema.ErrCodeValidation,
				fmt.Sprintf("invalid duration %q", rp.MaxDelay))
		} else {
			max = d
		}
	}
	if initial > 0 && max > 0 && initial > max {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("initial_delay (%s) exceeds max_delay (%s)", rp.InitialDelay, rp.MaxDelay))
	}

	if rp.BackoffMultiplier != 0 && rp.BackoffMultiplier < 1 {
		result.AddError(path+".backoff_multiplier", schema.ErrCodeValidation,
			"backoff_multiplier must be >= 1")
	}
}

// sortedTaskIDs returns task IDs in lexical order for deterministic output.
func sortedTaskIDs(def *schema.WorkflowDefinition) []string {
	ids := make([]string, 0, len(def.Tasks))
	for id := range def.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
