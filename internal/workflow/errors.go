package workflow

import "errors"

var (
	// ErrWorkflowNotFound is returned when a workflow id does not exist.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowNotActive is returned when execution is attempted
	// against a workflow whose status is not active.
	ErrWorkflowNotActive = errors.New("workflow is not active")
	// ErrExecutionNotFound is returned when an execution id does not exist.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrTaskNotFound is returned when a task record id does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidDefinition is returned when a workflow definition fails
	// schema or structural validation.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	// ErrChainValidation is returned when a chain's entries fail
	// structural or acyclicity validation.
	ErrChainValidation = errors.New("chain validation failed")
	// ErrInvalidTriggerType is returned when an execution is created with
	// an unrecognized trigger type.
	ErrInvalidTriggerType = errors.New("invalid trigger type")
)
