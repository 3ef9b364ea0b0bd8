package workflow

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a workflow definition. Only a
// workflow in StatusActive may be executed.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// OnError controls how the sequential orchestrator reacts when a task
// exhausts its retries.
type OnError string

const (
	// OnErrorStop finalizes the execution as failed and schedules nothing
	// further.
	OnErrorStop OnError = "stop"
	// OnErrorContinue records the failure and proceeds to the next task.
	OnErrorContinue OnError = "continue"
	// OnErrorRetry re-runs the whole workflow exactly once more when the
	// first pass fails; Workflow.MaxRetries does not change the number of
	// passes. The source material this
	// system was distilled from overloads "retry" with per-task
	// RetryPolicy.MaxAttempts; this implementation keeps the two
	// concepts distinct rather than aliasing one to the other.
	OnErrorRetry OnError = "retry"
)

// TriggerType enumerates the wire-visible reasons an execution was
// started. Any other value is rejected at execution creation.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
	TriggerSlack     TriggerType = "slack"
	TriggerChain     TriggerType = "chain"
	TriggerTrigger   TriggerType = "trigger"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerWebhook, TriggerSlack, TriggerChain, TriggerTrigger:
		return true
	default:
		return false
	}
}

// ExecutionStatus is the lifecycle state of a workflow execution. Every
// execution terminates in exactly one of Completed, Failed, or Cancelled.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// TaskRecordStatus is the lifecycle state of a single task's execution
// record within a workflow execution.
type TaskRecordStatus string

const (
	TaskRecordQueued    TaskRecordStatus = "queued"
	TaskRecordRunning   TaskRecordStatus = "running"
	TaskRecordCompleted TaskRecordStatus = "completed"
	TaskRecordFailed    TaskRecordStatus = "failed"
	TaskRecordSkipped   TaskRecordStatus = "skipped"
)

// TaskDefinition describes one task inside a Workflow's definition. Name is
// the dependency identifier other tasks reference via DependsOn.
type TaskDefinition struct {
	Name       string                 `json:"name"`
	AgentType  string                 `json:"agent_type"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	DependsOn  []string               `json:"depends_on,omitempty"`

	// MaxRetries overrides the owning workflow's MaxRetries for this task
	// only; zero means "use the workflow value". TimeoutSeconds bounds each
	// attempt of this task; zero means no per-task timeout (the workflow's
	// TimeoutSecs is not applied per task).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	MaxRetries     int `json:"max_retries,omitempty"`
}

// WorkflowDefinition is the JSON-encoded payload stored in Workflow.Definition.
type WorkflowDefinition struct {
	Tasks     []TaskDefinition       `json:"tasks"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	OnError   OnError                `json:"on_error,omitempty"`

	// Workflows is populated only for workflows tagged chain: the
	// ordered list of chained workflow entries. Nil for ordinary
	// workflows.
	Workflows []ChainEntry `json:"workflows,omitempty"`
}

// ChainEntry is one member of a workflow chain's definition.Workflows list.
type ChainEntry struct {
	WorkflowID  string          `json:"workflow_id"`
	Order       int             `json:"order"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Condition   *ChainCondition `json:"condition,omitempty"`
	DataMapping []DataMapping   `json:"data_mapping,omitempty"`
}

// ConditionType enumerates the chain-condition variants.
type ConditionType string

const (
	ConditionStatus     ConditionType = "status"
	ConditionOutput     ConditionType = "output"
	ConditionExpression ConditionType = "expression"
)

// ConditionOperator enumerates comparison operators for ConditionOutput.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greaterThan"
	OperatorLessThan    ConditionOperator = "lessThan"
)

// ChainCondition gates whether a chain entry runs. Exactly one of the
// Type-specific fields is meaningful for a given Type value.
type ChainCondition struct {
	Type ConditionType `json:"type"`

	// Field/Operator/Value apply when Type == ConditionOutput.
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    interface{}       `json:"value,omitempty"`

	// Expression applies when Type == ConditionExpression.
	Expression string `json:"expression,omitempty"`
}

// DataMapping copies a value out of one chained workflow's output into a
// variable passed to another. In a chain entry, From is
// "<workflow_id>.<dot.path>"; chain.Manager.PassData, which has a single
// source execution, reads From as a plain dot-path into that output.
type DataMapping struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a persisted workflow definition.
type Workflow struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OwnerID       string     `json:"owner_id"`
	WorkspaceID   string     `json:"workspace_id,omitempty"`
	Status        Status     `json:"status"`
	Version       int        `json:"version"`
	TimeoutSecs   int        `json:"timeout_seconds"`
	MaxRetries    int        `json:"max_retries"`
	Schedule      string     `json:"schedule,omitempty"`
	Type          string     `json:"type,omitempty"` // "chain" tags a workflow chain
	Definition    json.RawMessage `json:"definition"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsChain reports whether this workflow row represents a workflow chain.
func (w *Workflow) IsChain() bool {
	return w.Type == "chain"
}

// DecodeDefinition parses Definition into a typed WorkflowDefinition.
// Callers must not mutate the parsed structure and expect it to be
// reflected in a subsequent write: the definition is round-tripped through
// its original JSON bytes at the repository boundary.
func (w *Workflow) DecodeDefinition() (WorkflowDefinition, error) {
	var def WorkflowDefinition
	if len(w.Definition) == 0 {
		return def, nil
	}
	err := json.Unmarshal(w.Definition, &def)
	return def, err
}

// Execution is a persisted workflow execution record.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggerType TriggerType     `json:"trigger_type"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ErrorMsg    string          `json:"error_message,omitempty"`
}

// TaskRecord is a persisted per-task row belonging to an Execution.
type TaskRecord struct {
	ID         string           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Name       string           `json:"name"`
	AgentType  string           `json:"agent_type"`
	Action     string           `json:"action"`
	Parameters json.RawMessage  `json:"parameters,omitempty"`
	Status     TaskRecordStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	QueuedAt   time.Time        `json:"queued_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Output     json.RawMessage  `json:"output,omitempty"`
	ErrorMsg   string           `json:"error_message,omitempty"`
}

// ValidationError describes a single workflow-definition validation
// failure, surfaced as part of an InvalidDefinition error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a workflow definition.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}
