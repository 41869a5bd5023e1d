package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// staticLookup is a ComponentLookup backed by a fixed set of component/action pairs.
type staticLookup map[string]map[string]bool

func (l staticLookup) Has(component, action string) bool {
	return l[component][action]
}

var coreOnly = staticLookup{
	"core": {"echo": true, "sleep": true},
}

func TestSemantic_AllRegistered(t *testing.T) {
	def := validDefinition()

	result := validateSemantic(def, coreOnly)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_UnregisteredAction(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Action = "teleport"

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `"teleport"`)
	assert.Equal(t, schema.ErrCodeNotFound, result.Errors[0].Code)
}

func TestSemantic_UnregisteredComponent(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Component = "warp"

	result := validateSemantic(def, coreOnly)
	assert.False(t, result.Valid())
}

func TestSemantic_NilLookupSkipsActionCheck(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Action = "teleport"

	result := validateSemantic(def, nil)
	assert.True(t, result.Valid())
}

func TestSemantic_DanglingDependency(t *testing.T) {
	def := validDefinition()
	def.Tasks["store"].DependsOn = []string{"fetch", "ghost"}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, `"ghost"`)
}

func TestSemantic_SelfDependency(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].DependsOn = []string{"fetch"}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "depends on itself")
}

func TestSemantic_RetryDurations(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: "soon",
		MaxDelay:     "later",
	}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Len(t, result.Errors, 2)
}

func TestSemantic_InitialDelayExceedsMax(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: "2m",
		MaxDelay:     "30s",
	}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "exceeds max_delay")
}

func TestSemantic_HighRetryCountWarns(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{MaxRetries: 50}

	result := validateSemantic(def, coreOnly)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "high retry count")
}

func TestSemantic_BackoffMultiplierBelowOne(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Retry = &schema.RetryPolicy{MaxRetries: 2, BackoffMultiplier: 0.5}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "backoff_multiplier")
}

func TestSemantic_ConditionMustBeString(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Metadata = map[string]any{"condition": 42}

	result := validateSemantic(def, coreOnly)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "condition must be a string")
}

func TestSemantic_StringConditionAccepted(t *testing.T) {
	def := validDefinition()
	def.Tasks["fetch"].Metadata = map[string]any{"condition": `input.region == "eu"`}

	result := validateSemantic(def, coreOnly)
	assert.True(t, result.Valid())
}
