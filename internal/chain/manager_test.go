package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/workflowcore/internal/workflow"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeRunner completes every sub-execution synchronously on Start, using a
// per-workflow-id scripted outcome.
type fakeRunner struct {
	mu         sync.Mutex
	nextID     int
	executions map[string]*workflow.Execution
	outcomes   map[string]func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{})
	calls      map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		executions: map[string]*workflow.Execution{},
		outcomes:   map[string]func(map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}){},
		calls:      map[string]int{},
	}
}

func (f *fakeRunner) Start(ctx context.Context, workflowID string, variables map[string]interface{}, triggeredBy string) (*workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.calls[workflowID]++

	status := workflow.ExecutionCompleted
	var output map[string]interface{}
	if outcome, ok := f.outcomes[workflowID]; ok {
		status, output = outcome(variables)
	}

	var raw json.RawMessage
	if output != nil {
		raw, _ = json.Marshal(output)
	}

	exec := &workflow.Execution{
		ID:         fmt.Sprintf("sub-%d", f.nextID),
		WorkflowID: workflowID,
		Status:     status,
		Output:     raw,
	}
	f.executions[exec.ID] = exec
	return exec, nil
}

func (f *fakeRunner) Poll(ctx context.Context, executionID string) (*workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executions[executionID], nil
}

type fakeChainRepo struct {
	mu         sync.Mutex
	executions map[string]*workflow.Execution
	nextID     int
}

func newFakeChainRepo() *fakeChainRepo {
	return &fakeChainRepo{executions: map[string]*workflow.Execution{}}
}

func (r *fakeChainRepo) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) { return nil, nil }
func (r *fakeChainRepo) ListWorkflows(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	return nil, nil
}
func (r *fakeChainRepo) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error { return nil }
func (r *fakeChainRepo) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error { return nil }
func (r *fakeChainRepo) DeleteWorkflow(ctx context.Context, id string) error             { return nil }

func (r *fakeChainRepo) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	exec.ID = fmt.Sprintf("chain-exec-%d", r.nextID)
	r.executions[exec.ID] = exec
	return nil
}

func (r *fakeChainRepo) UpdateExecution(ctx context.Context, id string, fields workflow.ExecutionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec := r.executions[id]
	if fields.Status != nil {
		exec.Status = *fields.Status
	}
	if fields.ErrorMsg != nil {
		exec.ErrorMsg = *fields.ErrorMsg
	}
	return nil
}

func (r *fakeChainRepo) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[id], nil
}
func (r *fakeChainRepo) ListExecutions(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	return nil, nil
}
func (r *fakeChainRepo) CreateTask(ctx context.Context, task *workflow.TaskRecord) error { return nil }
func (r *fakeChainRepo) UpdateTask(ctx context.Context, id string, fields workflow.TaskUpdate) error {
	return nil
}
func (r *fakeChainRepo) ListTasks(ctx context.Context, executionID string) ([]*workflow.TaskRecord, error) {
	return nil, nil
}
func (r *fakeChainRepo) LatestChainExecution(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	return nil, nil
}

func TestValidateChainRejectsCycle(t *testing.T) {
	err := ValidateChain([]workflow.ChainEntry{
		{WorkflowID: "a", DependsOn: []string{"b"}},
		{WorkflowID: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrChainValidation)
}

func TestValidateChainRejectsDuplicateWorkflowID(t *testing.T) {
	err := ValidateChain([]workflow.ChainEntry{
		{WorkflowID: "a"},
		{WorkflowID: "a"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateWorkflowID)
}

func TestExecuteWithDataMapping(t *testing.T) {
	runner := newFakeRunner()
	runner.outcomes["producer"] = func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
		return workflow.ExecutionCompleted, map[string]interface{}{"result": "42"}
	}
	var consumerSaw map[string]interface{}
	runner.outcomes["consumer"] = func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
		consumerSaw = variables
		return workflow.ExecutionCompleted, nil
	}

	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	def := workflow.WorkflowDefinition{Workflows: []workflow.ChainEntry{
		{WorkflowID: "producer", Order: 1},
		{WorkflowID: "consumer", Order: 2, DependsOn: []string{"producer"},
			DataMapping: []workflow.DataMapping{{From: "producer.result", To: "value"}}},
	}}
	chainWF := &workflow.Workflow{ID: "chain-1", Type: "chain"}

	result, err := mgr.Execute(context.Background(), chainWF, def, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Executed)
	assert.Equal(t, 0, result.Failed)
	require.NotNil(t, consumerSaw)
	assert.Equal(t, "42", consumerSaw["value"])
}

func TestExecuteSeedsInitialVariables(t *testing.T) {
	runner := newFakeRunner()
	var saw map[string]interface{}
	runner.outcomes["solo"] = func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
		saw = variables
		return workflow.ExecutionCompleted, nil
	}

	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	def := workflow.WorkflowDefinition{Workflows: []workflow.ChainEntry{
		{WorkflowID: "solo", Order: 1},
	}}
	chainWF := &workflow.Workflow{ID: "chain-init", Type: "chain"}

	result, err := mgr.Execute(context.Background(), chainWF, def, map[string]interface{}{"region": "us-east"}, "test")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, result.Status)
	require.NotNil(t, saw)
	assert.Equal(t, "us-east", saw["region"])
}

func TestExecuteSkipsEntryWhenDependencyFailed(t *testing.T) {
	runner := newFakeRunner()
	runner.outcomes["first"] = func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
		return workflow.ExecutionFailed, nil
	}

	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	def := workflow.WorkflowDefinition{
		OnError: workflow.OnErrorContinue,
		Workflows: []workflow.ChainEntry{
			{WorkflowID: "first", Order: 1},
			{WorkflowID: "second", Order: 2, DependsOn: []string{"first"},
				Condition: &workflow.ChainCondition{Type: workflow.ConditionStatus, Value: "completed"}},
		},
	}
	chainWF := &workflow.Workflow{ID: "chain-2", Type: "chain"}

	result, err := mgr.Execute(context.Background(), chainWF, def, nil, "test")
	require.Error(t, err)
	assert.Equal(t, 0, runner.calls["second"])
	assert.Equal(t, 1, result.Skipped)
}

func TestTriggerWorkflowRunsOnMatchingCondition(t *testing.T) {
	runner := newFakeRunner()
	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	source := &workflow.Execution{Status: workflow.ExecutionCompleted}
	require.NoError(t, repo.CreateExecution(context.Background(), source))

	exec, err := mgr.TriggerWorkflow(context.Background(), source.ID, "target",
		&workflow.ChainCondition{Type: workflow.ConditionStatus, Value: "completed"})
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, 1, runner.calls["target"])
}

func TestTriggerWorkflowSkipsOnFalseCondition(t *testing.T) {
	runner := newFakeRunner()
	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	source := &workflow.Execution{Status: workflow.ExecutionFailed}
	require.NoError(t, repo.CreateExecution(context.Background(), source))

	exec, err := mgr.ConditionalTrigger(context.Background(), source.ID, "target",
		workflow.ChainCondition{Type: workflow.ConditionStatus, Value: "completed"})
	require.NoError(t, err)
	assert.Nil(t, exec)
	assert.Equal(t, 0, runner.calls["target"])
}

func TestPassDataMapsSourceOutputToTarget(t *testing.T) {
	runner := newFakeRunner()
	var saw map[string]interface{}
	runner.outcomes["target"] = func(variables map[string]interface{}) (workflow.ExecutionStatus, map[string]interface{}) {
		saw = variables
		return workflow.ExecutionCompleted, nil
	}

	repo := newFakeChainRepo()
	mgr := NewManager(repo, runner, testLogger(), time.Millisecond, time.Second)

	output, _ := json.Marshal(map[string]interface{}{"result": "42"})
	source := &workflow.Execution{Status: workflow.ExecutionCompleted, Output: output}
	require.NoError(t, repo.CreateExecution(context.Background(), source))

	_, err := mgr.PassData(context.Background(), source.ID, "target",
		[]workflow.DataMapping{{From: "result", To: "value"}})
	require.NoError(t, err)
	require.NotNil(t, saw)
	assert.Equal(t, "42", saw["value"])
}
