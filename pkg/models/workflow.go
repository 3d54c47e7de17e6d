package models

import "time"

// WorkflowStatus is the runtime's internal state machine. It is
// distinct from the display set {PENDING, SUCCESS, ERROR, WARNING,
// CANCELLED}; this module has no HTTP layer that maps between them.
type WorkflowStatus string

const (
	WorkflowPending             WorkflowStatus = "pending"
	WorkflowRunning             WorkflowStatus = "running"
	WorkflowCompleted           WorkflowStatus = "completed"
	WorkflowCompletedWithErrors WorkflowStatus = "completed_with_errors"
	WorkflowFailed              WorkflowStatus = "failed"
	WorkflowCanceling           WorkflowStatus = "canceling"
	WorkflowCanceled            WorkflowStatus = "canceled"
)

// IsTerminal reports whether s is one from which no further
// transition or step_event is expected.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowCompletedWithErrors, WorkflowFailed, WorkflowCanceled:
		return true
	default:
		return false
	}
}

// WorkflowRun is the durable record of one workflow execution.
// Inputs are stored verbatim so a canceled or failed run can be
// retried by starting a new run with the same inputs.
type WorkflowRun struct {
	WorkflowID   string
	WorkflowName string
	Status       WorkflowStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Inputs       map[string]any
	Error        *string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// StepStatus is the lifecycle of one step within a workflow run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCanceled  StepStatus = "canceled"
)

// ItemError is one per-item failure recorded on a StepLog, keeping
// per-item failures from escalating into step- or workflow-level
// failures.
type ItemError struct {
	ItemID  string `json:"item_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StepLog is the durable checkpoint for one step of one workflow run:
// written with status=running before the step executes, and updated
// in place with final counts and status after it returns.
type StepLog struct {
	ID          int64
	RunID       string
	StepID      string
	Tool        string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	InputCount  int
	OutputCount int
	ErrorCount  int
	Errors      []ItemError
	Metadata    map[string]any
}

// EventStatus is the state a single step_event reports.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventRunning   EventStatus = "running"
	EventProgress  EventStatus = "progress"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// StepEvent is one entry in the monotonic, append-only log that
// backs live status polling, SSE streaming, and log pagination. ID is
// strictly increasing per workflow and is the pagination cursor.
type StepEvent struct {
	ID        int64
	RunID     string
	StepID    string
	Substep   *string
	Status    EventStatus
	Current   *int
	Total     *int
	Message   *string
	Metadata  map[string]any
	CreatedAt time.Time
}
