package chain

import "github.com/stackconsult/workflowcore/internal/workflow"

// ChainResult is the aggregate outcome of executing a workflow chain:
// how many entries ran, how many were skipped or failed, and each entry's
// own execution context.
type ChainResult struct {
	ChainExecutionID string
	Status           workflow.ExecutionStatus
	Total            int
	Executed         int
	Skipped          int
	Failed           int
	Workflows        map[string]*EntryContext
	TotalDurationMs  int64
}

// EntryContext is one chain entry's outcome: the sub-execution it produced
// (if it ran), its final status and output, and whether it was skipped.
type EntryContext struct {
	WorkflowID  string
	ExecutionID string
	Status      workflow.ExecutionStatus
	Output      map[string]interface{}
	Skipped     bool
	Err         error
}
