// Package workflowengine executes the DAGs pkg/workflowcore compiles:
// level-by-level, durably checkpointed into step_logs, observable
// through pkg/workflowevents, cancellable at step boundaries. It plays
// the role the teacher's pkg/queue.WorkerPool and pkg/services.StageService
// play together — a worker that runs units of work to completion,
// recording durable status transitions and aggregating child outcomes
// into a single terminal status.
package workflowengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
	"github.com/boringdata/kurt/pkg/repository"
	"github.com/boringdata/kurt/pkg/retry"
	"github.com/boringdata/kurt/pkg/taskqueue"
	"github.com/boringdata/kurt/pkg/workflowcore"
	"github.com/boringdata/kurt/pkg/workflowevents"
)

// RunOptions configures one invocation of Runtime.Run.
type RunOptions struct {
	// Background runs the workflow on a detached goroutine; Run
	// returns immediately with only WorkflowID populated on the
	// handle. Synchronous runs block until the workflow reaches a
	// terminal status and return its final WorkflowRun.
	Background bool
	Priority   int
	// ParentWorkflowID links a sub-workflow run to its parent, stored
	// in workflow_runs.metadata for the list API's parent_id filter.
	ParentWorkflowID *string
}

// WorkflowHandle is returned by Run.
type WorkflowHandle struct {
	WorkflowID string
	Result     *models.WorkflowRun
}

// LiveStatus is the composite snapshot get_live_status reports.
type LiveStatus struct {
	WorkflowID   string
	Status       models.WorkflowStatus
	Stage        string
	StageTotal   int
	StageCurrent int
	LastMessage  string
	StepProgress map[string]models.StepStatus
}

// Runtime is the single worker that executes registered workflows
// against a registered set of step implementations.
type Runtime struct {
	repos     *repository.Repositories
	registry  *Registry
	workflows *WorkflowRegistry
	events    *workflowevents.Channels
	bus       *workflowevents.Bus

	retryPolicy retry.Policy

	mu           sync.Mutex
	activeQueues map[string][]*taskqueue.Queue
}

func NewRuntime(repos *repository.Repositories, registry *Registry, workflows *WorkflowRegistry, bus *workflowevents.Bus) *Runtime {
	return &Runtime{
		repos:        repos,
		registry:     registry,
		workflows:    workflows,
		events:       workflowevents.NewChannels(repos.Workflows),
		bus:          bus,
		retryPolicy:  retry.DefaultPolicy(),
		activeQueues: make(map[string][]*taskqueue.Queue),
	}
}

// Run validates workflowName/inputs against the registered definition,
// compiles its execution plan, creates the durable workflow_runs row,
// and either executes synchronously or hands execution to a detached
// goroutine when opts.Background is set.
func (rt *Runtime) Run(ctx context.Context, workflowName string, inputs map[string]any, opts RunOptions) (*WorkflowHandle, error) {
	def, ok := rt.workflows.Lookup(workflowName)
	if !ok {
		return nil, kurterrors.NewNotFoundError("workflow", workflowName)
	}
	if err := validateInputs(def, inputs); err != nil {
		return nil, err
	}
	for name, step := range def.Steps {
		key := dispatchKey(step)
		if _, ok := rt.registry.Lookup(key); !ok {
			return nil, kurterrors.NewValidationError("steps."+name+".type",
				fmt.Sprintf("step type %q is not registered", step.Type))
		}
	}

	plan, err := workflowcore.BuildDAG(def.Steps)
	if err != nil {
		var cycleErr *workflowcore.CycleDetectedError
		if errors.As(err, &cycleErr) {
			return nil, kurterrors.NewValidationError("workflow", cycleErr.Error())
		}
		return nil, err
	}

	workflowID := uuid.NewString()
	metadata := map[string]any{}
	if opts.ParentWorkflowID != nil {
		metadata["parent_workflow_id"] = *opts.ParentWorkflowID
	}
	if opts.Priority != 0 {
		metadata["priority"] = opts.Priority
	}
	startedAt := time.Now()
	run := &models.WorkflowRun{
		WorkflowID:   workflowID,
		WorkflowName: def.Workflow.Name,
		Status:       models.WorkflowPending,
		StartedAt:    &startedAt,
		Inputs:       inputs,
		Metadata:     metadata,
	}
	if err := rt.repos.Workflows.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}

	if opts.Background {
		go rt.execute(context.Background(), workflowID, def, plan)
		return &WorkflowHandle{WorkflowID: workflowID}, nil
	}

	rt.execute(ctx, workflowID, def, plan)
	final, err := rt.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &WorkflowHandle{WorkflowID: workflowID, Result: final}, nil
}

// Cancel marks workflowID canceling. The actual transition to canceled
// happens inside execute's own step-boundary check; Cancel also drains
// every sub-task queue a running step has opened, so queued-but-not-
// started sub-tasks never execute.
func (rt *Runtime) Cancel(ctx context.Context, workflowID string) error {
	run, err := rt.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if err := rt.repos.Workflows.UpdateStatus(ctx, workflowID, models.WorkflowCanceling, nil); err != nil {
		return err
	}

	rt.mu.Lock()
	queues := append([]*taskqueue.Queue(nil), rt.activeQueues[workflowID]...)
	rt.mu.Unlock()
	for _, q := range queues {
		q.Cancel()
	}
	return nil
}

// GetLiveStatus composes the current run status, per-step progress,
// and the stage/last-message events a long-running step reports via
// Channels.SetEvent.
func (rt *Runtime) GetLiveStatus(ctx context.Context, workflowID string) (*LiveStatus, error) {
	run, err := rt.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	logs, err := rt.repos.Workflows.ListStepLogs(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	progress := make(map[string]models.StepStatus, len(logs))
	for _, l := range logs {
		progress[l.StepID] = l.Status
	}

	status := &LiveStatus{
		WorkflowID:   workflowID,
		Status:       run.Status,
		StepProgress: progress,
	}
	_, _ = rt.events.GetEvent(ctx, workflowID, "stage", &status.Stage)
	_, _ = rt.events.GetEvent(ctx, workflowID, "stage_total", &status.StageTotal)
	_, _ = rt.events.GetEvent(ctx, workflowID, "stage_current", &status.StageCurrent)

	recent, err := rt.latestEvent(ctx, workflowID)
	if err == nil && recent != nil && recent.Message != nil {
		status.LastMessage = *recent.Message
	}
	return status, nil
}

func (rt *Runtime) latestEvent(ctx context.Context, workflowID string) (*models.StepEvent, error) {
	const batch = 500
	var cursor int64
	var last *models.StepEvent
	for {
		events, err := rt.repos.Workflows.ListEventsSince(ctx, workflowID, cursor, batch)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			return last, nil
		}
		last = events[len(events)-1]
		cursor = last.ID
		if len(events) < batch {
			return last, nil
		}
	}
}

// StreamEvents bridges the durable catchup log (every step_event with
// id > sinceID) with the live Bus, closing the returned channel once
// the workflow reaches a terminal status and no further events remain.
func (rt *Runtime) StreamEvents(ctx context.Context, workflowID string, sinceID int64) (<-chan *models.StepEvent, error) {
	if _, err := rt.repos.Workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	out := make(chan *models.StepEvent)
	go func() {
		defer close(out)
		cursor := sinceID
		live, unsubscribe := rt.bus.Subscribe(workflowID)
		defer unsubscribe()

		for {
			events, err := rt.repos.Workflows.ListEventsSince(ctx, workflowID, cursor, 500)
			if err != nil {
				return
			}
			for _, e := range events {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				cursor = e.ID
			}

			run, err := rt.repos.Workflows.GetByID(ctx, workflowID)
			if err != nil {
				return
			}
			if run.Status.IsTerminal() && len(events) == 0 {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-live:
			case <-time.After(time.Second):
			}
		}
	}()
	return out, nil
}

// execute runs every level of plan in order, fanning steps within a
// level out to goroutines and joining before moving to the next level.
// It is the sole place that advances a workflow's state machine.
func (rt *Runtime) execute(ctx context.Context, workflowID string, def *workflowcore.WorkflowDefinition, plan *workflowcore.ExecutionPlan) {
	defer rt.closeQueues(workflowID)

	if err := rt.repos.Workflows.UpdateStatus(ctx, workflowID, models.WorkflowRunning, nil); err != nil {
		return
	}
	rt.emitStep(ctx, workflowID, "", models.EventRunning, "workflow started")

	outputs := make(map[string]any, plan.TotalSteps)
	var outputsMu sync.Mutex
	anyStepErrored := false
	failed := false
	canceled := false

	for _, level := range plan.Levels {
		if !failed && !canceled && rt.isCanceling(ctx, workflowID) {
			canceled = true
		}
		if failed || canceled {
			for _, stepID := range level {
				rt.recordCanceledStep(ctx, workflowID, stepID, def.Steps[stepID])
			}
			continue
		}

		type outcome struct {
			output        any
			err           error
			hadItemErrors bool
		}
		results := make(map[string]outcome, len(level))
		var resultsMu sync.Mutex
		var wg sync.WaitGroup

		for _, stepID := range level {
			step := def.Steps[stepID]
			wg.Add(1)
			go func(stepID string, step workflowcore.StepDef) {
				defer wg.Done()
				output, hadItemErrors, err := rt.runStep(ctx, workflowID, stepID, step, outputs, &outputsMu)
				resultsMu.Lock()
				results[stepID] = outcome{output: output, err: err, hadItemErrors: hadItemErrors}
				resultsMu.Unlock()
			}(stepID, step)
		}
		wg.Wait()

		for stepID, r := range results {
			step := def.Steps[stepID]
			if r.err == nil {
				outputsMu.Lock()
				outputs[stepID] = r.output
				outputsMu.Unlock()
				if r.hadItemErrors {
					anyStepErrored = true
				}
				continue
			}
			anyStepErrored = true
			if !step.ContinueOnError {
				failed = true
			}
		}
	}

	final := models.WorkflowCompleted
	var errMsg *string
	switch {
	case canceled:
		final = models.WorkflowCanceled
	case failed:
		final = models.WorkflowFailed
		msg := "one or more steps failed"
		errMsg = &msg
	case anyStepErrored:
		final = models.WorkflowCompletedWithErrors
	}

	_ = rt.repos.Workflows.UpdateStatus(ctx, workflowID, final, errMsg)
	status := models.EventCompleted
	if final == models.WorkflowFailed || final == models.WorkflowCanceled {
		status = models.EventFailed
	}
	rt.emitStep(ctx, workflowID, "", status, "workflow "+string(final))
}

// runStep builds fan-in input from already-completed dependency
// outputs in depends_on order, checkpoints a running step_log,
// dispatches to the registered implementation (retried per
// rt.retryPolicy when the returned error is transient), and
// checkpoints the final step_log and step_event. A non-nil returned
// error means the step failed terminally; per-item failures travel in
// the ToolResult and never produce one.
func (rt *Runtime) runStep(ctx context.Context, workflowID, stepID string, step workflowcore.StepDef, outputs map[string]any, outputsMu *sync.Mutex) (any, bool, error) {
	inputData := make([]any, 0, len(step.DependsOn))
	outputsMu.Lock()
	for _, dep := range step.DependsOn {
		inputData = append(inputData, outputs[dep])
	}
	outputsMu.Unlock()

	started := time.Now()
	logRow := &models.StepLog{
		RunID:      workflowID,
		StepID:     stepID,
		Tool:       step.Type,
		Status:     models.StepRunning,
		StartedAt:  started,
		InputCount: len(inputData),
		Metadata:   map[string]any{"input_hash": hashInput(inputData)},
	}
	if err := rt.repos.Workflows.UpsertStepLog(ctx, logRow); err != nil {
		return nil, true, fmt.Errorf("checkpoint step %s start: %w", stepID, err)
	}
	rt.emitStep(ctx, workflowID, stepID, models.EventRunning, "step started")

	key := dispatchKey(step)
	fn, ok := rt.registry.Lookup(key)
	if !ok {
		err := fmt.Errorf("%w: %s", kurterrors.ErrStepNotRegistered, step.Type)
		rt.finishStep(ctx, workflowID, stepID, logRow, 0, 1, nil, err)
		return nil, true, err
	}

	sc := &StepContext{
		RunID:     workflowID,
		StepID:    stepID,
		Repos:     rt.repos,
		Events:    rt.events,
		Cancelled: func() bool { return rt.isCanceling(ctx, workflowID) },
		rt:        rt,
	}

	var result *ToolResult
	execErr := retry.Do(ctx, rt.retryPolicy, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx, sc, ToolInput{Data: inputData, Config: step.Config})
		return err
	})
	if execErr != nil {
		rt.finishStep(ctx, workflowID, stepID, logRow, 0, 1, nil, execErr)
		return nil, true, execErr
	}

	outputCount := 1
	if result.OutputData == nil {
		outputCount = 0
	}
	rt.finishStep(ctx, workflowID, stepID, logRow, outputCount, len(result.Errors), result.Errors, nil)
	return result.OutputData, len(result.Errors) > 0, nil
}

func (rt *Runtime) finishStep(ctx context.Context, workflowID, stepID string, logRow *models.StepLog, outputCount, errorCount int, itemErrors []models.ItemError, fatalErr error) {
	completed := time.Now()
	logRow.CompletedAt = &completed
	logRow.OutputCount = outputCount
	logRow.ErrorCount = errorCount
	logRow.Errors = itemErrors

	status := models.EventCompleted
	message := "step completed"
	if fatalErr != nil {
		logRow.Status = models.StepFailed
		logRow.Metadata["error"] = fatalErr.Error()
		status = models.EventFailed
		message = fatalErr.Error()
	} else {
		logRow.Status = models.StepCompleted
	}
	_ = rt.repos.Workflows.UpsertStepLog(ctx, logRow)
	rt.emitStep(ctx, workflowID, stepID, status, message)
}

func (rt *Runtime) recordCanceledStep(ctx context.Context, workflowID, stepID string, step workflowcore.StepDef) {
	now := time.Now()
	logRow := &models.StepLog{
		RunID:       workflowID,
		StepID:      stepID,
		Tool:        step.Type,
		Status:      models.StepCanceled,
		StartedAt:   now,
		CompletedAt: &now,
		Metadata:    map[string]any{},
	}
	_ = rt.repos.Workflows.UpsertStepLog(ctx, logRow)
	rt.emitStep(ctx, workflowID, stepID, models.EventFailed, "skipped: workflow canceled or failed upstream")
}

func (rt *Runtime) isCanceling(ctx context.Context, workflowID string) bool {
	run, err := rt.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return false
	}
	return run.Status == models.WorkflowCanceling
}

func (rt *Runtime) emitStep(ctx context.Context, workflowID, stepID string, status models.EventStatus, message string) {
	msg := message
	e := &models.StepEvent{
		RunID:    workflowID,
		StepID:   stepID,
		Status:   status,
		Message:  &msg,
		Metadata: map[string]any{},
	}
	id, err := rt.repos.Workflows.AppendEvent(ctx, e)
	if err != nil {
		return
	}
	e.ID = id
	rt.bus.Publish(e)
}

func (rt *Runtime) registerQueue(workflowID, name string, concurrency int) *taskqueue.Queue {
	q := taskqueue.New(workflowID+":"+name, concurrency)
	rt.mu.Lock()
	rt.activeQueues[workflowID] = append(rt.activeQueues[workflowID], q)
	rt.mu.Unlock()
	return q
}

func (rt *Runtime) closeQueues(workflowID string) {
	rt.mu.Lock()
	delete(rt.activeQueues, workflowID)
	rt.mu.Unlock()
}

// dispatchKey resolves a step's registry lookup key: its declared
// Function name for "function" steps, its alias-resolved type name
// otherwise.
func dispatchKey(step workflowcore.StepDef) string {
	if step.Type == "function" && step.Function != nil {
		return *step.Function
	}
	return workflowcore.ResolveStepType(step.Type)
}

func validateInputs(def *workflowcore.WorkflowDefinition, inputs map[string]any) error {
	for name, spec := range def.Inputs {
		v, present := inputs[name]
		if !present {
			if spec.Required && spec.Default == nil {
				return kurterrors.NewValidationError("inputs."+name, "required input missing")
			}
			continue
		}
		if !inputTypeMatches(spec.Type, v) {
			return kurterrors.NewValidationError("inputs."+name, fmt.Sprintf("expected type %s", spec.Type))
		}
	}
	return nil
}

func inputTypeMatches(t workflowcore.InputType, v any) bool {
	switch t {
	case workflowcore.InputString:
		_, ok := v.(string)
		return ok
	case workflowcore.InputInt:
		switch v.(type) {
		case int, int32, int64, float64:
			return true
		default:
			return false
		}
	case workflowcore.InputFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		default:
			return false
		}
	case workflowcore.InputBool:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

func hashInput(data []any) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
