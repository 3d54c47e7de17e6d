package workflowengine

import (
	"github.com/boringdata/kurt/pkg/repository"
	"github.com/boringdata/kurt/pkg/taskqueue"
	"github.com/boringdata/kurt/pkg/workflowevents"
)

// StepContext is the per-step handle a tool receives: durable
// repositories, the two observability channels, a sub-task queue
// factory, and a cancellation check. It replaces the ambient globals
// (db session, config) the Python source reads from module state —
// everything a step needs is passed in explicitly, per the design
// note on global mutable state.
type StepContext struct {
	RunID     string
	StepID    string
	Repos     *repository.Repositories
	Events    *workflowevents.Channels
	Cancelled func() bool
	rt        *Runtime
}

// NewQueue creates a bounded sub-task queue for this step's fan-out
// work, registered with the runtime so a workflow-level cancel drains
// it (stops accepting new submissions and drops queued sub-tasks that
// have not started) even while the step is still
// running. The step itself still calls Wait to join before returning,
// per the step execution contract.
func (sc *StepContext) NewQueue(name string, concurrency int) *taskqueue.Queue {
	return sc.rt.registerQueue(sc.RunID, sc.StepID+":"+name, concurrency)
}
