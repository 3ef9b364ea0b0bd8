package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// DAGEngine executes a workflow's tasks level by level, running every task
// within a level concurrently (bounded by MaxConcurrency) and waiting for
// the whole level to finish before starting the next. A task failure rolls
// back every transitive dependent of that task rather than the nodes it
// happens to run alongside.
type DAGEngine struct {
	repo           workflow.Repository
	registry       *agent.Registry
	logger         *logrus.Logger
	MaxConcurrency int
}

// NewDAGEngine builds a DAGEngine. maxConcurrency <= 0 means unbounded.
func NewDAGEngine(repo workflow.Repository, registry *agent.Registry, logger *logrus.Logger, maxConcurrency int) *DAGEngine {
	return &DAGEngine{repo: repo, registry: registry, logger: logger, MaxConcurrency: maxConcurrency}
}

// taskResult is the outcome of running one task, carried back to the level
// barrier over a per-level channel buffered to the level's size.
type taskResult struct {
	name   string
	output map[string]interface{}
	err    error
}

// RollbackExecutor performs a compensating action for one rolled-back task.
// It is invoked with the task's own definition so it can look up whatever
// it needs to undo (parameters, recorded output) through the agent
// registry.
type RollbackExecutor func(ctx context.Context, task workflow.TaskDefinition) error

// Run builds the dependency graph for def.Tasks, validates it, then executes
// level by level. Average parallelism (the mean of currently_running,
// sampled roughly every 100ms across the run) is recorded on the returned
// RunStats for callers that want it; it has no bearing on scheduling.
func (e *DAGEngine) Run(ctx context.Context, exec *workflow.Execution, wf *workflow.Workflow, def workflow.WorkflowDefinition) (*RunStats, error) {
	log := e.logger.WithFields(logrus.Fields{"execution_id": exec.ID, "workflow_id": wf.ID})

	taskByName := make(map[string]workflow.TaskDefinition, len(def.Tasks))
	dependsOn := make(map[string][]string, len(def.Tasks))
	for _, t := range def.Tasks {
		if t.MaxRetries == 0 {
			t.MaxRetries = wf.MaxRetries
		}
		taskByName[t.Name] = t
		dependsOn[t.Name] = t.DependsOn
	}

	graph, err := BuildGraph(dependsOn)
	if err != nil {
		return nil, err
	}
	if err := graph.ValidateAcyclic(); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := e.repo.UpdateExecution(ctx, exec.ID, workflow.ExecutionUpdate{
		Status:    statusPtr(workflow.ExecutionRunning),
		StartedAt: &workflow.TimeValue{Value: now},
	}); err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	stats := &RunStats{}
	currentlyRunning := int32(0)
	sampleStop := make(chan struct{})
	var sampleWG sync.WaitGroup
	sampleWG.Add(1)
	go stats.sample(&currentlyRunning, sampleStop, &sampleWG)

	taskIDs := make(map[string]string, len(def.Tasks))           // name -> persisted record id
	taskResults := make(map[string]interface{}, len(def.Tasks)) // name -> output
	var resultsMu sync.Mutex

	failed := make(map[string]bool)

	var runErr error

levels:
	for _, level := range graph.Levels() {
		sem := make(chan struct{}, e.concurrencyLimit())
		results := make(chan taskResult, len(level))
		var wg sync.WaitGroup

		resultsMu.Lock()
		levelVariables := mergeVariables(def.Variables, taskResults)
		resultsMu.Unlock()

		for _, name := range level {
			task := taskByName[name]

			if dependencyFailed(task.DependsOn, failed) {
				failed[name] = true
				if id, err := e.recordDependencyFailed(ctx, exec.ID, task); err == nil {
					taskIDs[name] = id
				}
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			atomic.AddInt32(&currentlyRunning, 1)

			go func(task workflow.TaskDefinition) {
				defer wg.Done()
				defer func() { <-sem }()
				defer atomic.AddInt32(&currentlyRunning, -1)

				id, output, err := e.runTask(ctx, exec, task, levelVariables, log)
				if id != "" {
					resultsMu.Lock()
					taskIDs[task.Name] = id
					if err == nil {
						taskResults[task.Name] = output
					}
					resultsMu.Unlock()
				}
				results <- taskResult{name: task.Name, output: output, err: err}
			}(task)
		}

		wg.Wait()
		close(results)

		for r := range results {
			if r.err != nil {
				failed[r.name] = true
				if runErr == nil {
					runErr = r.err
				}
			}
		}

		if len(failed) > 0 {
			// mark every transitive dependent of a failed node as failed too
			// (per the "failed iff executor errored or any transitive
			// dependency is failed" property) and stop scheduling new
			// levels, since every remaining unscheduled node is downstream
			// of this failure.
			for name := range failed {
				for _, dependent := range graph.TransitiveDependents(name) {
					if failed[dependent] {
						continue
					}
					failed[dependent] = true
					if id, err := e.recordDependencyFailed(ctx, exec.ID, taskByName[dependent]); err == nil {
						taskIDs[dependent] = id
					}
				}
			}
			break levels
		}
	}

	close(sampleStop)
	sampleWG.Wait()

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
		if _, err := e.Rollback(ctx, graph, taskByName, failed, taskIDs, e.defaultRollbackExecutor); err != nil {
			log.WithError(err).Error("rollback failed")
		}
		update.Status = statusPtr(workflow.ExecutionFailed)
		msg := runErr.Error()
		update.ErrorMsg = &msg
	} else {
		update.Status = statusPtr(workflow.ExecutionCompleted)
	}

	if err := e.repo.UpdateExecution(ctx, exec.ID, update); err != nil {
		return stats, fmt.Errorf("failed to finalize execution: %w", err)
	}
	return stats, runErr
}

func (e *DAGEngine) concurrencyLimit() int {
	if e.MaxConcurrency <= 0 {
		return 1 << 20 // effectively unbounded
	}
	return e.MaxConcurrency
}

// recordDependencyFailed persists a TaskRecord for a node that is skipped
// because one of its dependencies failed: per the "failed iff executor
// errored or any transitive dependency is failed" property, this node is
// itself failed, never merely skipped.
func (e *DAGEngine) recordDependencyFailed(ctx context.Context, executionID string, task workflow.TaskDefinition) (string, error) {
	rec := &workflow.TaskRecord{
		ExecutionID: executionID,
		Name:        task.Name,
		AgentType:   task.AgentType,
		Action:      task.Action,
		Status:      workflow.TaskRecordFailed,
		QueuedAt:    time.Now(),
		ErrorMsg:    ErrDependencyFailed.Error(),
	}
	if err := e.repo.CreateTask(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// runTask executes a single task with no retries of its own beyond
// task.MaxRetries, returning the persisted TaskRecord id, its output, and
// any terminal error. DAG-level tasks share the same 2^attempt backoff as
// the sequential orchestrator.
func (e *DAGEngine) runTask(ctx context.Context, exec *workflow.Execution, task workflow.TaskDefinition, variables map[string]interface{}, log *logrus.Entry) (string, map[string]interface{}, error) {
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
	if err := e.repo.CreateTask(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("failed to create task record: %w", err)
	}

	executor, ok := e.registry.Resolve(task.AgentType, task.Action)
	if !ok {
		err := fmt.Errorf("%w: %s/%s", ErrAgentUnresolvable, task.AgentType, task.Action)
		_ = e.finishTask(ctx, rec.ID, nil, 0, err, time.Now(), time.Now())
		return rec.ID, nil, err
	}

	var lastErr error
	var output map[string]interface{}
	startedAt := time.Now()
	attempt := 0

	for ; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(attempt)):
			case <-ctx.Done():
				return rec.ID, nil, ctx.Err()
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
		_ = e.finishTask(ctx, rec.ID, nil, task.MaxRetries, wrapped, startedAt, completedAt)
		return rec.ID, nil, wrapped
	}
	return rec.ID, output, e.finishTask(ctx, rec.ID, output, attempt, nil, startedAt, completedAt)
}

func (e *DAGEngine) finishTask(ctx context.Context, taskID string, output map[string]interface{}, retryCount int, taskErr error, startedAt, completedAt time.Time) error {
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
	return e.repo.UpdateTask(ctx, taskID, update)
}

// Rollback marks every transitive dependent of a failed node that has a
// persisted task record as failed, whatever its current status, invoking
// rollbackExecutor for each one (in reverse
// topological order, so a node's compensating action always runs before
// the dependency it undoes) and returns the ids of the tasks rolled back.
func (e *DAGEngine) Rollback(ctx context.Context, graph *Graph, taskByName map[string]workflow.TaskDefinition, failed map[string]bool, taskIDs map[string]string, rollbackExecutor RollbackExecutor) ([]string, error) {
	toRollBack := make(map[string]bool)
	for name := range failed {
		for _, dependent := range graph.TransitiveDependents(name) {
			toRollBack[dependent] = true
		}
	}

	var rolledBack []string
	order := graph.TopologicalOrder()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if !toRollBack[name] {
			continue
		}
		id, ok := taskIDs[name]
		if !ok {
			continue
		}

		if rollbackExecutor != nil {
			if err := rollbackExecutor(ctx, taskByName[name]); err != nil {
				return rolledBack, fmt.Errorf("rollback executor failed for %s: %w", name, err)
			}
		}

		status := workflow.TaskRecordFailed
		msg := ErrDependencyFailed.Error()
		if err := e.repo.UpdateTask(ctx, id, workflow.TaskUpdate{Status: &status, ErrorMsg: &msg}); err != nil {
			return rolledBack, fmt.Errorf("failed to roll back task %s: %w", name, err)
		}
		rolledBack = append(rolledBack, id)
	}
	return rolledBack, nil
}

// defaultRollbackExecutor looks up a "<agent_type>/rollback" action in the
// registry and invokes it with the task's own parameters as a compensating
// action. A task whose agent type has no rollback action registered is
// left with no compensating action beyond the status flip Rollback always
// performs.
func (e *DAGEngine) defaultRollbackExecutor(ctx context.Context, task workflow.TaskDefinition) error {
	executor, ok := e.registry.Resolve(task.AgentType, "rollback")
	if !ok {
		return nil
	}
	_, err := executor.Execute(ctx, task.Parameters)
	return err
}

// RunStats carries engine-observed metrics for a single Run call.
type RunStats struct {
	mu               sync.Mutex
	sampleCount      int64
	sampleSum        int64
	AverageParallelism float64
}

func (s *RunStats) sample(currentlyRunning *int32, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			s.finalize()
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sampleCount++
			s.sampleSum += int64(atomic.LoadInt32(currentlyRunning))
			s.mu.Unlock()
		}
	}
}

func (s *RunStats) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleCount == 0 {
		s.AverageParallelism = 0
		return
	}
	s.AverageParallelism = float64(s.sampleSum) / float64(s.sampleCount)
}
