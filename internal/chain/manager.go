package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/orchestration"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// ExecutionRunner starts and polls sub-executions on behalf of a chain. The
// chain manager never runs tasks itself: each chain entry is a full
// workflow execution driven by whichever orchestrator (sequential or DAG)
// the target workflow is configured for.
type ExecutionRunner interface {
	Start(ctx context.Context, workflowID string, variables map[string]interface{}, triggeredBy string) (*workflow.Execution, error)
	Poll(ctx context.Context, executionID string) (*workflow.Execution, error)
}

// Manager validates and executes workflow chains.
type Manager struct {
	repo         workflow.Repository
	runner       ExecutionRunner
	logger       *logrus.Logger
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewManager builds a chain Manager with the given poll interval/timeout.
// Zero values fall back to a 500ms interval and a 10 minute timeout.
func NewManager(repo workflow.Repository, runner ExecutionRunner, logger *logrus.Logger, pollInterval, pollTimeout time.Duration) *Manager {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Minute
	}
	return &Manager{repo: repo, runner: runner, logger: logger, PollInterval: pollInterval, PollTimeout: pollTimeout}
}

// ValidateChain checks that a chain's entries name distinct workflow ids,
// that depends_on and data-mapping sources only reference entries present
// in the chain, and that the dependency graph those entries form is acyclic. It reuses the same
// DFS-with-recursion-stack algorithm the DAG execution engine uses for task
// dependencies, applied here to chain entries instead of tasks.
func ValidateChain(entries []workflow.ChainEntry) error {
	seen := make(map[string]bool, len(entries))
	dependsOn := make(map[string][]string, len(entries))
	for _, e := range entries {
		if seen[e.WorkflowID] {
			return fmt.Errorf("%w: %s", ErrDuplicateWorkflowID, e.WorkflowID)
		}
		seen[e.WorkflowID] = true
		dependsOn[e.WorkflowID] = e.DependsOn
	}
	for _, e := range entries {
		for _, dep := range e.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %w: %s", workflow.ErrChainValidation, ErrEntryNotFound, dep)
			}
		}
		for _, m := range e.DataMapping {
			if source, _, ok := splitDataMappingFrom(m.From); ok && !seen[source] {
				return fmt.Errorf("%w: %w: %s", workflow.ErrChainValidation, ErrEntryNotFound, source)
			}
		}
	}

	graph, err := orchestration.BuildGraph(dependsOn)
	if err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrChainValidation, err)
	}
	if err := graph.ValidateAcyclic(); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrChainValidation, err)
	}
	return nil
}

// entryResult is the outcome of running one chain entry.
type entryResult struct {
	workflowID string
	execution  *workflow.Execution
	output     map[string]interface{}
	skipped    bool
	err        error
}

// Execute runs a workflow chain to completion: entries are grouped into
// dependency levels and run concurrently within a level; a chain entry
// whose condition evaluates false, or whose dependency failed, is skipped
// rather than started. initialVariables seeds every entry's data-mapping
// input, so an entry with no dependencies can still see caller-supplied
// values.
func (m *Manager) Execute(ctx context.Context, chainWF *workflow.Workflow, def workflow.WorkflowDefinition, initialVariables map[string]interface{}, triggeredBy string) (*ChainResult, error) {
	if err := ValidateChain(def.Workflows); err != nil {
		return nil, err
	}

	log := m.logger.WithField("chain_workflow_id", chainWF.ID)

	exec := &workflow.Execution{
		WorkflowID:  chainWF.ID,
		Status:      workflow.ExecutionRunning,
		TriggerType: workflow.TriggerChain,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now(),
	}
	if err := m.repo.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create chain execution: %w", err)
	}
	startedAt := time.Now()
	_ = m.repo.UpdateExecution(ctx, exec.ID, workflow.ExecutionUpdate{StartedAt: &workflow.TimeValue{Value: startedAt}})

	entryByID := make(map[string]workflow.ChainEntry, len(def.Workflows))
	dependsOn := make(map[string][]string, len(def.Workflows))
	for _, e := range def.Workflows {
		entryByID[e.WorkflowID] = e
		dependsOn[e.WorkflowID] = e.DependsOn
	}
	graph, err := orchestration.BuildGraph(dependsOn)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]map[string]interface{})
	statuses := make(map[string]workflow.ExecutionStatus)
	executionIDs := make(map[string]string)
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	var mu sync.Mutex
	var chainErr error

	for _, level := range graph.Levels() {
		var wg sync.WaitGroup
		results := make(chan entryResult, len(level))

		for _, workflowID := range level {
			entry := entryByID[workflowID]

			if dependencyFailed(entry.DependsOn, failed) || dependencyFailed(entry.DependsOn, skipped) {
				skipped[workflowID] = true
				results <- entryResult{workflowID: workflowID, skipped: true}
				continue
			}

			wg.Add(1)
			go func(entry workflow.ChainEntry) {
				defer wg.Done()

				mu.Lock()
				status, output := referenceResult(entry.DependsOn, statuses, outputs)
				mu.Unlock()

				ok, condErr := Evaluate(entry.Condition, status, output)
				if condErr != nil {
					log.WithError(condErr).WithField("workflow_id", entry.WorkflowID).Warn("condition evaluation failed, skipping entry")
				}
				if !ok {
					results <- entryResult{workflowID: entry.WorkflowID, skipped: true}
					return
				}

				mu.Lock()
				variables := applyDataMappings(entry.DataMapping, outputs, initialVariables)
				mu.Unlock()

				subExec, err := m.runEntry(ctx, entry, variables, chainWF.ID)
				if err != nil {
					results <- entryResult{workflowID: entry.WorkflowID, err: err}
					return
				}

				var decoded map[string]interface{}
				if len(subExec.Output) > 0 {
					_ = decodeJSON(subExec.Output, &decoded)
				}
				results <- entryResult{workflowID: entry.WorkflowID, execution: subExec, output: decoded}
			}(entry)
		}

		wg.Wait()
		close(results)

		for r := range results {
			if r.skipped {
				skipped[r.workflowID] = true
				continue
			}
			if r.err != nil {
				failed[r.workflowID] = true
				if chainErr == nil {
					chainErr = r.err
				}
				continue
			}
			statuses[r.workflowID] = r.execution.Status
			outputs[r.workflowID] = r.output
			executionIDs[r.workflowID] = r.execution.ID
			if r.execution.Status == workflow.ExecutionFailed {
				failed[r.workflowID] = true
				if chainErr == nil {
					chainErr = fmt.Errorf("%w: %s", ErrSubExecutionFailed, r.workflowID)
				}
			}
		}

		if len(failed) > 0 && def.OnError != workflow.OnErrorContinue {
			break
		}
	}

	completedAt := time.Now()
	durationMs := completedAt.Sub(startedAt).Milliseconds()
	update := workflow.ExecutionUpdate{
		CompletedAt: &workflow.TimeValue{Value: completedAt},
		DurationMs:  &durationMs,
	}
	var finalStatus workflow.ExecutionStatus
	if chainErr != nil {
		finalStatus = workflow.ExecutionFailed
		update.Status = &finalStatus
		msg := chainErr.Error()
		update.ErrorMsg = &msg
	} else {
		finalStatus = workflow.ExecutionCompleted
		update.Status = &finalStatus
	}
	if err := m.repo.UpdateExecution(ctx, exec.ID, update); err != nil {
		return nil, fmt.Errorf("failed to finalize chain execution: %w", err)
	}

	result := &ChainResult{
		ChainExecutionID: exec.ID,
		Status:           finalStatus,
		Total:            len(def.Workflows),
		Skipped:          len(skipped),
		Failed:           len(failed),
		Workflows:        make(map[string]*EntryContext, len(def.Workflows)),
		TotalDurationMs:  durationMs,
	}
	result.Executed = result.Total - result.Skipped
	for _, e := range def.Workflows {
		entry := &EntryContext{
			WorkflowID:  e.WorkflowID,
			ExecutionID: executionIDs[e.WorkflowID],
			Status:      statuses[e.WorkflowID],
			Output:      outputs[e.WorkflowID],
			Skipped:     skipped[e.WorkflowID],
		}
		if failed[e.WorkflowID] && entry.Status == "" {
			entry.Status = workflow.ExecutionFailed
		}
		result.Workflows[e.WorkflowID] = entry
	}
	return result, chainErr
}

func dependencyFailed(dependsOn []string, set map[string]bool) bool {
	for _, dep := range dependsOn {
		if set[dep] {
			return true
		}
	}
	return false
}

// referenceResult returns the status/output of the first declared
// dependency, used as the condition-evaluation input when an entry depends
// on more than one predecessor. A chain entry with no dependencies always
// evaluates its condition against an empty result.
func referenceResult(dependsOn []string, statuses map[string]workflow.ExecutionStatus, outputs map[string]map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
	if len(dependsOn) == 0 {
		return "", nil
	}
	first := dependsOn[0]
	return statuses[first], outputs[first]
}

func applyDataMappings(mappings []workflow.DataMapping, outputs map[string]map[string]interface{}, initial map[string]interface{}) map[string]interface{} {
	variables := make(map[string]interface{}, len(mappings)+len(initial))
	for k, v := range initial {
		variables[k] = v
	}
	for _, m := range mappings {
		sourceWorkflowID, path, ok := splitDataMappingFrom(m.From)
		if !ok {
			continue
		}
		value, err := orchestration.DataPath(outputs[sourceWorkflowID], path)
		if err != nil {
			continue
		}
		variables[m.To] = value
	}
	return variables
}

func splitDataMappingFrom(from string) (workflowID, path string, ok bool) {
	for i := 0; i < len(from); i++ {
		if from[i] == '.' {
			return from[:i], from[i+1:], true
		}
	}
	return "", "", false
}

// TriggerWorkflow starts targetWorkflowID once sourceExecutionID has
// finished, provided condition (if given) evaluates true against the
// source execution's status and output. A nil condition always triggers.
// It returns (nil, nil) when the condition evaluates false, signalling to
// the caller that the target was deliberately not started.
func (m *Manager) TriggerWorkflow(ctx context.Context, sourceExecutionID, targetWorkflowID string, condition *workflow.ChainCondition) (*workflow.Execution, error) {
	source, err := m.repo.GetExecution(ctx, sourceExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source execution %s: %w", sourceExecutionID, err)
	}
	if source == nil {
		return nil, fmt.Errorf("source execution %s not found", sourceExecutionID)
	}

	var output map[string]interface{}
	if len(source.Output) > 0 {
		_ = decodeJSON(source.Output, &output)
	}

	ok, err := Evaluate(condition, source.Status, output)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate trigger condition: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return m.runner.Start(ctx, targetWorkflowID, nil, "chain:"+sourceExecutionID)
}

// ConditionalTrigger is TriggerWorkflow with a mandatory condition: it
// exists as the explicit form for callers that always want to gate the
// trigger, as opposed to TriggerWorkflow's optional condition.
func (m *Manager) ConditionalTrigger(ctx context.Context, sourceExecutionID, targetWorkflowID string, condition workflow.ChainCondition) (*workflow.Execution, error) {
	return m.TriggerWorkflow(ctx, sourceExecutionID, targetWorkflowID, &condition)
}

// PassData starts targetWorkflowID seeded with values extracted from
// sourceExecutionID's output via dataMapping. Unlike a chain entry's
// DataMapping.From (which is prefixed with the source workflow id because
// a chain entry may depend on several predecessors), PassData has exactly
// one source, so From is interpreted as a plain dot-path into its output.
func (m *Manager) PassData(ctx context.Context, sourceExecutionID, targetWorkflowID string, dataMapping []workflow.DataMapping) (*workflow.Execution, error) {
	source, err := m.repo.GetExecution(ctx, sourceExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source execution %s: %w", sourceExecutionID, err)
	}
	if source == nil {
		return nil, fmt.Errorf("source execution %s not found", sourceExecutionID)
	}

	var output map[string]interface{}
	if len(source.Output) > 0 {
		_ = decodeJSON(source.Output, &output)
	}

	variables := make(map[string]interface{}, len(dataMapping))
	for _, mapping := range dataMapping {
		value, err := orchestration.DataPath(output, mapping.From)
		if err != nil {
			continue
		}
		variables[mapping.To] = value
	}

	return m.runner.Start(ctx, targetWorkflowID, variables, "chain:"+sourceExecutionID)
}

// runEntry starts the chain entry's sub-execution and polls it to a
// terminal state, bounded by PollTimeout.
func (m *Manager) runEntry(ctx context.Context, entry workflow.ChainEntry, variables map[string]interface{}, triggeredBy string) (*workflow.Execution, error) {
	subExec, err := m.runner.Start(ctx, entry.WorkflowID, variables, "chain:"+triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("failed to start chain entry %s: %w", entry.WorkflowID, err)
	}

	deadline := time.Now().Add(m.PollTimeout)
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		if subExec.Status.Terminal() {
			return subExec, nil
		}
		if time.Now().After(deadline) {
			return subExec, fmt.Errorf("%w: %s", orchestration.ErrExecutionTimeout, entry.WorkflowID)
		}
		select {
		case <-ctx.Done():
			return subExec, ctx.Err()
		case <-ticker.C:
			subExec, err = m.runner.Poll(ctx, subExec.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to poll chain entry %s: %w", entry.WorkflowID, err)
			}
		}
	}
}
