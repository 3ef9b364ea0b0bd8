package chain

import "errors"

var (
	// ErrDuplicateWorkflowID is returned when a chain's entries reference
	// the same workflow_id more than once.
	ErrDuplicateWorkflowID = errors.New("duplicate workflow id in chain")
	// ErrEntryNotFound is returned when a data mapping or dependency
	// references a workflow_id absent from the chain's entries.
	ErrEntryNotFound = errors.New("chain entry not found")
	// ErrSubExecutionFailed marks a chained sub-execution that finished in
	// ExecutionFailed.
	ErrSubExecutionFailed = errors.New("chained sub-execution failed")
)
