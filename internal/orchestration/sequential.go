package orchestration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// SequentialOrchestrator runs a workflow's tasks one at a time in
// declaration order, honoring depends_on as a validation constraint rather
// than a scheduling input: tasks still run strictly in sequence, but a task
// whose dependency failed is skipped rather than attempted.
type SequentialOrchestrator struct {
	repo     workflow.Repository
	registry *agent.Registry
	logger   *logrus.Logger
}

// NewSequentialOrchestrator builds a SequentialOrchestrator.
func NewSequentialOrchestrator(repo workflow.Repository, registry *agent.Registry, logger *logrus.Logger) *SequentialOrchestrator {
	return &SequentialOrchestrator{repo: repo, registry: registry, logger: logger}
}

// retryDelay returns the backoff before retry attempt n (n starting at 1):
// 2^n seconds, uncapped. A workflow with MaxRetries large enough to matter
// is expected to also set a TimeoutSecs that bounds the whole run.
func retryDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Run executes every task in def.Tasks in order, recording a TaskRecord for
// each and leaving exec terminal (Completed or Failed) on return. The
// execution must already exist in the repository in ExecutionPending or
// ExecutionRunning status. When def.OnError is OnErrorRetry and the first
// pass fails, the whole task list runs a second time before the execution
// is finalized as failed; tasks from both passes are recorded, so a failed
// retried execution shows two TaskRecord rows for whichever task failed
// first.
func (o *SequentialOrchestrator) Run(ctx context.Context, exec *workflow.Execution, wf *workflow.Workflow, def workflow.WorkflowDefinition) error {
	log := o.logger.WithFields(logrus.Fields{"execution_id": exec.ID, "workflow_id": wf.ID})
	log.Info("sequential run starting")

	now := time.Now()
	if err := o.repo.UpdateExecution(ctx, exec.ID, workflow.ExecutionUpdate{
		Status:    statusPtr(workflow.ExecutionRunning),
		StartedAt: &workflow.TimeValue{Value: now},
	}); err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	tasks := make([]workflow.TaskDefinition, len(def.Tasks))
	for i, t := range def.Tasks {
		if t.MaxRetries == 0 {
			t.MaxRetries = wf.MaxRetries
		}
		tasks[i] = t
	}
	def.Tasks = tasks

	passes := 1
	if def.OnError == workflow.OnErrorRetry {
		passes = 2
	}

	var runErr error
	var taskResults map[string]interface{}
	for pass := 0; pass < passes; pass++ {
		taskResults, runErr = o.runPass(ctx, exec, def, log)
		if runErr == nil {
			break
		}
		if def.OnError != workflow.OnErrorRetry {
			break
		}
		log.WithField("pass", pass+1).Warn("workflow pass failed, re-running under on_error: retry")
	}

	completedAt := time.Now()
	durationMs := completedAt.Sub(now).Milliseconds()
	update := workflow.ExecutionUpdate{
		CompletedAt: &workflow.TimeValue{Value: completedAt},
		DurationMs:  &durationMs,
	}
	if outJSON, err := marshalOrNil(taskResults); err == nil {
		update.Output = outJSON
	}
	if runErr != nil {
		update.Status = statusPtr(workflow.ExecutionFailed)
		msg := runErr.Error()
		update.ErrorMsg = &msg
	} else {
		update.Status = statusPtr(workflow.ExecutionCompleted)
	}

	if err := o.repo.UpdateExecution(ctx, exec.ID, update); err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	log.WithField("status", *update.Status).Info("sequential run finished")
	return runErr
}

// runPass runs def.Tasks once in order, returning the accumulated
// task-results map (keyed by task name, becoming the execution's output)
// and the first task error encountered under OnErrorStop/OnErrorRetry, or
// the last one under OnErrorContinue.
func (o *SequentialOrchestrator) runPass(ctx context.Context, exec *workflow.Execution, def workflow.WorkflowDefinition, log *logrus.Entry) (map[string]interface{}, error) {
	taskResults := make(map[string]interface{}, len(def.Tasks))
	failedTasks := make(map[string]bool, len(def.Tasks))
	var passErr error

	for _, task := range def.Tasks {
		if dependencyFailed(task.DependsOn, failedTasks) {
			if err := o.recordSkipped(ctx, exec.ID, task); err != nil {
				log.WithError(err).Error("failed to record skipped task")
			}
			failedTasks[task.Name] = true
			continue
		}

		variables := mergeVariables(def.Variables, taskResults)
		output, taskErr := o.runTask(ctx, exec, task, variables, log)
		if taskErr != nil {
			failedTasks[task.Name] = true
			passErr = taskErr
			if def.OnError != workflow.OnErrorContinue {
				return taskResults, passErr
			}
			continue
		}
		taskResults[task.Name] = output
	}

	return taskResults, passErr
}

// mergeVariables layers task_results over the workflow's own variable set,
// per the {workflow.variables ∪ task_results ∪ caller_variables} resolution
// order: caller-supplied values are already folded into base by the time a
// workflow run starts, so task_results is the only thing merged in here.
func mergeVariables(base, taskResults map[string]interface{}) map[string]interface{} {
	if len(taskResults) == 0 {
		return base
	}
	merged := make(map[string]interface{}, len(base)+len(taskResults))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range taskResults {
		merged[k] = v
	}
	return merged
}

func dependencyFailed(dependsOn []string, failed map[string]bool) bool {
	for _, dep := range dependsOn {
		if failed[dep] {
			return true
		}
	}
	return false
}

func (o *SequentialOrchestrator) recordSkipped(ctx context.Context, executionID string, task workflow.TaskDefinition) error {
	rec := &workflow.TaskRecord{
		ExecutionID: executionID,
		Name:        task.Name,
		AgentType:   task.AgentType,
		Action:      task.Action,
		Status:      workflow.TaskRecordSkipped,
		QueuedAt:    time.Now(),
		ErrorMsg:    ErrDependencyFailed.Error(),
	}
	return o.repo.CreateTask(ctx, rec)
}

// runTask executes one task with retries, persisting a TaskRecord for it.
// It returns the task's output and a non-nil error only once retries (if
// any) are exhausted or the agent/executor cannot be resolved.
func (o *SequentialOrchestrator) runTask(ctx context.Context, exec *workflow.Execution, task workflow.TaskDefinition, variables map[string]interface{}, log *logrus.Entry) (map[string]interface{}, error) {
	params := ResolveParameters(task.Parameters, variables)
	paramsJSON, _ := marshalOrNil(params)

	rec := &workflow.TaskRecord{
		ExecutionID: exec.ID,
		Name:        task.Name,
		AgentType:   task.AgentType,
		Action:      task.Action,
		Parameters:  paramsJSON,
		Status:      workflow.TaskRecordRunning,
		QueuedAt:    time.Now(),
	}
	if err := o.repo.CreateTask(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create task record: %w", err)
	}

	executor, ok := o.registry.Resolve(task.AgentType, task.Action)
	if !ok {
		err := fmt.Errorf("%w: %s/%s", ErrAgentUnresolvable, task.AgentType, task.Action)
		_ = o.persistTaskResult(ctx, rec.ID, nil, 0, err, time.Now(), time.Now())
		return nil, err
	}

	maxRetries := task.MaxRetries

	var lastErr error
	startedAt := time.Now()
	var output map[string]interface{}
	attempt := 0

	for ; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		taskCtx := ctx
		var cancel context.CancelFunc
		if task.TimeoutSeconds > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
		}
		out, err := executor.Execute(taskCtx, params)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			output = out
			lastErr = nil
			break
		}
		lastErr = err
		log.WithFields(logrus.Fields{"task": task.Name, "attempt": attempt + 1}).WithError(err).Warn("task attempt failed")
	}

	completedAt := time.Now()
	if lastErr != nil {
		wrapped := fmt.Errorf("%w: %s: %v", ErrTaskFailed, task.Name, lastErr)
		_ = o.persistTaskResult(ctx, rec.ID, nil, maxRetries, wrapped, startedAt, completedAt)
		return nil, wrapped
	}
	return output, o.persistTaskResult(ctx, rec.ID, output, attempt, nil, startedAt, completedAt)
}

func (o *SequentialOrchestrator) persistTaskResult(ctx context.Context, taskID string, output map[string]interface{}, retryCount int, taskErr error, startedAt, completedAt time.Time) error {
	update := workflow.TaskUpdate{
		StartedAt:   &workflow.TimeValue{Value: startedAt},
		CompletedAt: &workflow.TimeValue{Value: completedAt},
		RetryCount:  &retryCount,
	}
	if taskErr != nil {
		status := workflow.TaskRecordFailed
		update.Status = &status
		msg := taskErr.Error()
		update.ErrorMsg = &msg
	} else {
		status := workflow.TaskRecordCompleted
		update.Status = &status
		if outJSON, err := marshalOrNil(output); err == nil {
			update.Output = outJSON
		}
	}
	return o.repo.UpdateTask(ctx, taskID, update)
}

func statusPtr(s workflow.ExecutionStatus) *workflow.ExecutionStatus {
	return &s
}
