package workflowengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
	"github.com/boringdata/kurt/pkg/repository"
	"github.com/boringdata/kurt/pkg/workflowcore"
	"github.com/boringdata/kurt/pkg/workflowengine"
	"github.com/boringdata/kurt/pkg/workflowevents"
	testdatabase "github.com/boringdata/kurt/test/database"
)

func newRuntime(t *testing.T) (*workflowengine.Runtime, *workflowengine.Registry, *workflowengine.WorkflowRegistry) {
	t.Helper()
	client := testdatabase.NewTestClient(t)
	repos := repository.New(client.Pool)
	registry := workflowengine.NewRegistry()
	workflows := workflowengine.NewWorkflowRegistry()
	bus := workflowevents.NewBus()
	return workflowengine.NewRuntime(repos, registry, workflows, bus), registry, workflows
}

func defWithSteps(name string, steps map[string]workflowcore.StepDef) *workflowcore.WorkflowDefinition {
	return &workflowcore.WorkflowDefinition{
		Workflow: workflowcore.WorkflowMeta{Name: name},
		Inputs:   map[string]workflowcore.InputDef{},
		Steps:    steps,
	}
}

func echoStep(tag string) workflowengine.StepFunc {
	return func(_ context.Context, _ *workflowengine.StepContext, input workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		return &workflowengine.ToolResult{OutputData: tag}, nil
	}
}

func TestRunParallelPlanCompletes(t *testing.T) {
	rt, registry, workflows := newRuntime(t)
	registry.Register("noop", echoStep("ok"))

	def := defWithSteps("diamond", map[string]workflowcore.StepDef{
		"a": {Type: "noop"},
		"b": {Type: "noop", DependsOn: []string{"a"}},
		"c": {Type: "noop", DependsOn: []string{"a"}},
		"d": {Type: "noop", DependsOn: []string{"b", "c"}},
	})
	workflows.Register(def)

	handle, err := rt.Run(context.Background(), "diamond", nil, workflowengine.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, handle.Result)
	assert.Equal(t, models.WorkflowCompleted, handle.Result.Status)
}

func TestRunUnregisteredStepTypeIsValidationError(t *testing.T) {
	rt, _, workflows := newRuntime(t)
	workflows.Register(defWithSteps("missing-tool", map[string]workflowcore.StepDef{
		"a": {Type: "does-not-exist"},
	}))

	_, err := rt.Run(context.Background(), "missing-tool", nil, workflowengine.RunOptions{})
	require.Error(t, err)
	assert.True(t, kurterrors.IsValidationError(err))
}

func TestRunUnknownWorkflowIsNotFound(t *testing.T) {
	rt, _, _ := newRuntime(t)
	_, err := rt.Run(context.Background(), "ghost", nil, workflowengine.RunOptions{})
	require.Error(t, err)
}

func TestRunStepFailureWithoutContinueOnErrorFailsWorkflowAndSkipsDownstream(t *testing.T) {
	rt, registry, workflows := newRuntime(t)
	registry.Register("noop", echoStep("ok"))
	registry.Register("boom", func(_ context.Context, _ *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		return nil, assertErr("permanent failure")
	})

	workflows.Register(defWithSteps("chain", map[string]workflowcore.StepDef{
		"a": {Type: "boom"},
		"b": {Type: "noop", DependsOn: []string{"a"}},
	}))

	handle, err := rt.Run(context.Background(), "chain", nil, workflowengine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowFailed, handle.Result.Status)
}

func TestRunStepFailureWithContinueOnErrorStillRunsDownstream(t *testing.T) {
	rt, registry, workflows := newRuntime(t)
	ran := make(chan struct{}, 1)
	registry.Register("boom", func(_ context.Context, _ *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		return nil, assertErr("transient-ish but exhausted")
	})
	registry.Register("mark", func(_ context.Context, _ *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		ran <- struct{}{}
		return &workflowengine.ToolResult{OutputData: "ran"}, nil
	})

	workflows.Register(defWithSteps("tolerant", map[string]workflowcore.StepDef{
		"a": {Type: "boom", ContinueOnError: true},
		"b": {Type: "mark", DependsOn: []string{"a"}},
	}))

	handle, err := rt.Run(context.Background(), "tolerant", nil, workflowengine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCompletedWithErrors, handle.Result.Status)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("downstream step never ran despite continue_on_error")
	}
}

func TestCancelStopsRemainingLevels(t *testing.T) {
	rt, registry, workflows := newRuntime(t)
	registry.Register("self-cancel", func(ctx context.Context, sc *workflowengine.StepContext, _ workflowengine.ToolInput) (*workflowengine.ToolResult, error) {
		_ = rt.Cancel(ctx, sc.RunID)
		return &workflowengine.ToolResult{OutputData: "a"}, nil
	})
	registry.Register("noop", echoStep("b"))

	workflows.Register(defWithSteps("cancelable", map[string]workflowcore.StepDef{
		"a": {Type: "self-cancel"},
		"b": {Type: "noop", DependsOn: []string{"a"}},
	}))

	handle, err := rt.Run(context.Background(), "cancelable", nil, workflowengine.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCanceled, handle.Result.Status)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
