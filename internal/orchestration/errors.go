package orchestration

import "errors"

// Error taxonomy for the orchestration core. The DAG engine and sequential
// orchestrator wrap these with fmt.Errorf("...: %w", ...) so callers can
// still errors.Is against the sentinel.
var (
	// ErrCircularDependency is returned when a DAG or chain's declared
	// dependencies contain a cycle.
	ErrCircularDependency = errors.New("circular dependency")
	// ErrUnknownDependency is returned when depends_on references a task
	// or chain entry that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrAgentUnresolvable is returned when the agent registry has no
	// executor for a task's agent_type/action pair. This is a
	// deterministic failure and is never retried.
	ErrAgentUnresolvable = errors.New("agent unresolvable")
	// ErrTaskFailed wraps an executor's error after retries are
	// exhausted.
	ErrTaskFailed = errors.New("task failed")
	// ErrDependencyFailed marks a DAG node that was skipped because a
	// transitive dependency failed.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrExecutionTimeout is returned when a chain sub-execution does not
	// reach a terminal state within its poll cap.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrExecutionCancelled names the cancelled-execution error kind. No
	// operation in this module cancels an execution or returns this error.
	ErrExecutionCancelled = errors.New("execution cancelled")
	// ErrConditionEvaluation marks a condition evaluation failure. Per
	// the condition-evaluation contract this never aborts a chain run:
	// it is logged and the condition is treated as false.
	ErrConditionEvaluation = errors.New("condition evaluation error")
)
