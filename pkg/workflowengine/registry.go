package workflowengine

import (
	"context"
	"sync"

	"github.com/boringdata/kurt/pkg/models"
	"github.com/boringdata/kurt/pkg/workflowcore"
)

// WorkflowDefinition is the compiled-plan-ready parsed workflow this
// package executes; an alias onto workflowcore's parser output so
// callers don't need to import both packages for one type.
type WorkflowDefinition = workflowcore.WorkflowDefinition

// ToolInput is what a step receives when the runtime invokes it:
// the concatenation of its dependencies' outputs in depends_on
// declaration order, plus its own tool-specific config.
type ToolInput struct {
	Data   []any
	Config map[string]any
}

// ToolResult is what a step returns. Errors are per-item failures
// that stay on the step_log rather than escalating to a workflow
// failure; OutputData becomes the fan-in input for dependent steps.
type ToolResult struct {
	OutputData any
	Errors     []models.ItemError
	Metadata   map[string]any
}

// StepFunc is a registered tool implementation. It receives the
// workflow-scoped StepContext (durable channels, repositories,
// sub-task queue factory, cancellation) and its ToolInput.
type StepFunc func(ctx context.Context, sc *StepContext, input ToolInput) (*ToolResult, error)

// Registry maps a step's declared type to the Go function that
// implements it. A workflow referencing an unregistered type fails
// validation in Runtime.Run before any step runs, with a
// kurterrors.ValidationError.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]StepFunc
}

func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]StepFunc)}
}

// Register adds or replaces the implementation for stepType.
func (r *Registry) Register(stepType string, fn StepFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[stepType] = fn
}

// Lookup returns the implementation for stepType, if any.
func (r *Registry) Lookup(stepType string) (StepFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.steps[stepType]
	return fn, ok
}

// WorkflowRegistry maps a workflow name to its parsed definition, the
// lookup `run(workflow_name, ...)` consults before compiling a plan.
type WorkflowRegistry struct {
	mu   sync.RWMutex
	defs map[string]*WorkflowDefinition
}

func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{defs: make(map[string]*WorkflowDefinition)}
}

// Register adds def under its own Workflow.Name, overwriting any
// previous definition registered under that name.
func (wr *WorkflowRegistry) Register(def *WorkflowDefinition) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.defs[def.Workflow.Name] = def
}

func (wr *WorkflowRegistry) Lookup(name string) (*WorkflowDefinition, bool) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	def, ok := wr.defs[name]
	return def, ok
}
