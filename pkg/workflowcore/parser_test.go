package workflowcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkflowBytesValid(t *testing.T) {
	src := `
[workflow]
name = "index-docs"
description = "map then index"

[inputs.source_dir]
type = "string"
required = true

[steps.map]
type = "map"

[steps.fetch]
type = "fetch"
depends_on = ["map"]

[steps.llm]
type = "llm"
depends_on = ["fetch"]
`
	def, err := ParseWorkflowBytes([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, "index-docs", def.Workflow.Name)
	require.Contains(t, def.Inputs, "source_dir")
	assert.True(t, def.Inputs["source_dir"].Required)
	require.Contains(t, def.Steps, "llm")
	assert.Equal(t, []string{"fetch"}, def.Steps["llm"].DependsOn)
}

func TestParseWorkflowBytesMissingName(t *testing.T) {
	src := `
[workflow]
description = "no name"
`
	_, err := ParseWorkflowBytes([]byte(src))
	require.Error(t, err)
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestParseWorkflowBytesUnknownStepType(t *testing.T) {
	src := `
[workflow]
name = "bad"

[steps.oops]
type = "not-a-real-type"
`
	_, err := ParseWorkflowBytes([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestParseWorkflowBytesFunctionStepRequiresFunctionKey(t *testing.T) {
	src := `
[workflow]
name = "bad"

[steps.custom]
type = "function"
`
	_, err := ParseWorkflowBytes([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required 'function' key")
}

func TestParseWorkflowBytesUnknownDependency(t *testing.T) {
	src := `
[workflow]
name = "bad"

[steps.a]
type = "map"
depends_on = ["ghost"]
`
	_, err := ParseWorkflowBytes([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step: ghost")
}

func TestParseWorkflowBytesCircularDependency(t *testing.T) {
	src := `
[workflow]
name = "bad"

[steps.a]
type = "map"
depends_on = ["b"]

[steps.b]
type = "map"
depends_on = ["a"]
`
	_, err := ParseWorkflowBytes([]byte(src))
	require.Error(t, err)
	var cycleErr *CycleDetectedError
	assert.True(t, errors.As(err, &cycleErr))
}

func TestResolveStepTypeAlias(t *testing.T) {
	assert.Equal(t, "batch-llm", ResolveStepType("llm"))
	assert.Equal(t, "batch-embedding", ResolveStepType("embed"))
	assert.Equal(t, "fetch", ResolveStepType("fetch"))
}
