package workflowcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(dependsOn ...string) StepDef {
	return StepDef{Type: "map", DependsOn: dependsOn}
}

func stepWithPriority(priority int, dependsOn ...string) StepDef {
	return StepDef{Type: "map", DependsOn: dependsOn, Config: map[string]any{"priority": priority}}
}

func TestBuildDAGEmpty(t *testing.T) {
	plan, err := BuildDAG(map[string]StepDef{})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.TotalSteps)
	assert.Empty(t, plan.Levels)
	assert.False(t, plan.Parallelizable)
}

func TestBuildDAGFanOutFanIn(t *testing.T) {
	// a -> {b, c} -> d, the diamond shape from spec.md's parallel-plan example.
	steps := map[string]StepDef{
		"a": step(),
		"b": step("a"),
		"c": step("a"),
		"d": step("b", "c"),
	}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, plan.Levels)
	assert.Equal(t, 4, plan.TotalSteps)
	assert.True(t, plan.Parallelizable)
	require.Len(t, plan.CriticalPath, 3)
	assert.Equal(t, "a", plan.CriticalPath[0])
	assert.Equal(t, "d", plan.CriticalPath[2])
	assert.Contains(t, []string{"b", "c"}, plan.CriticalPath[1])
}

func TestBuildDAGLinearChain(t *testing.T) {
	steps := map[string]StepDef{
		"first":  step(),
		"second": step("first"),
		"third":  step("second"),
	}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"first"}, {"second"}, {"third"}}, plan.Levels)
	assert.False(t, plan.Parallelizable)
	assert.Equal(t, []string{"first", "second", "third"}, plan.CriticalPath)
}

func TestBuildDAGDetectsDirectCycle(t *testing.T) {
	steps := map[string]StepDef{
		"a": step("b"),
		"b": step("a"),
	}

	_, err := BuildDAG(steps)
	require.Error(t, err)

	var cycleErr *CycleDetectedError
	require.True(t, errors.As(err, &cycleErr))
	assert.Contains(t, cycleErr.Cycle, "a")
	assert.Contains(t, cycleErr.Cycle, "b")
}

func TestBuildDAGDetectsIndirectCycle(t *testing.T) {
	steps := map[string]StepDef{
		"a": step("c"),
		"b": step("a"),
		"c": step("b"),
	}

	_, err := BuildDAG(steps)
	require.Error(t, err)
	var cycleErr *CycleDetectedError
	require.True(t, errors.As(err, &cycleErr))
}

func TestBuildDAGIgnoresMissingDependencies(t *testing.T) {
	// A dangling depends_on is the parser's job to reject; BuildDAG
	// itself must not panic or loop on it.
	steps := map[string]StepDef{
		"a": step("nonexistent"),
	}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, plan.Levels)
}

func TestBuildDAGLevelOrderingByPriorityThenName(t *testing.T) {
	steps := map[string]StepDef{
		"zeta":  stepWithPriority(10),
		"alpha": stepWithPriority(50),
		"beta":  stepWithPriority(10),
	}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)

	require.Len(t, plan.Levels, 1)
	assert.Equal(t, []string{"beta", "zeta", "alpha"}, plan.Levels[0])
}

func TestBuildDAGCriticalPathPriorityTieBreak(t *testing.T) {
	// b and c both depend on a and both feed d; c has lower priority
	// (higher precedence) so the critical path must run through c.
	steps := map[string]StepDef{
		"a": step(),
		"b": stepWithPriority(100, "a"),
		"c": stepWithPriority(1, "a"),
		"d": step("b", "c"),
	}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, plan.CriticalPath)
}

func TestBuildDAGSingleStepNoDependencies(t *testing.T) {
	steps := map[string]StepDef{"only": step()}

	plan, err := BuildDAG(steps)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"only"}}, plan.Levels)
	assert.Equal(t, []string{"only"}, plan.CriticalPath)
}
