package workflow

import (
	"context"
	"time"
)

// Repository is the persistence contract required by the orchestration
// core. Implementations must provide read-after-write consistency and
// atomic single-row updates; no cross-row transaction is required.
// JSON-valued fields (Definition, Parameters, Output) must round-trip
// byte-for-byte between Create/Update and the corresponding Get/List.
type Repository interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error)
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	CreateExecution(ctx context.Context, exec *Execution) error
	// UpdateExecution applies a partial set of field updates to the
	// execution row identified by id, atomically.
	UpdateExecution(ctx context.Context, id string, fields ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*Execution, error)

	CreateTask(ctx context.Context, task *TaskRecord) error
	UpdateTask(ctx context.Context, id string, fields TaskUpdate) error
	ListTasks(ctx context.Context, executionID string) ([]*TaskRecord, error)

	// LatestChainExecution returns the most recently created execution
	// for a workflow tagged chain, or nil if none exists.
	LatestChainExecution(ctx context.Context, workflowID string) (*Execution, error)
}

// ExecutionUpdate carries the fields an UpdateExecution call may set. A nil
// pointer/field means "leave unchanged".
type ExecutionUpdate struct {
	Status      *ExecutionStatus
	StartedAt   *TimeValue
	CompletedAt *TimeValue
	DurationMs  *int64
	Output      []byte
	ErrorMsg    *string
}

// TaskUpdate carries the fields an UpdateTask call may set.
type TaskUpdate struct {
	Status      *TaskRecordStatus
	RetryCount  *int
	StartedAt   *TimeValue
	CompletedAt *TimeValue
	Parameters  []byte
	Output      []byte
	ErrorMsg    *string
}

// TimeValue distinguishes "leave unchanged" (nil *TimeValue) from
// "explicitly set" carrying a time.Time, including the zero time.
type TimeValue struct {
	Value time.Time
}
