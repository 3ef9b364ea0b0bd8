package orchestration

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// memRepo is a minimal in-memory workflow.Repository for orchestration
// engine tests. Only the methods the engines exercise are functional.
type memRepo struct {
	mu         sync.Mutex
	executions map[string]*workflow.Execution
	tasks      map[string]*workflow.TaskRecord
	nextID     int
}

func newMemRepo() *memRepo {
	return &memRepo{executions: map[string]*workflow.Execution{}, tasks: map[string]*workflow.TaskRecord{}}
}

func (r *memRepo) genID() string {
	r.nextID++
	return "id-" + strconv.Itoa(r.nextID)
}

func (r *memRepo) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) { return nil, nil }
func (r *memRepo) ListWorkflows(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	return nil, nil
}
func (r *memRepo) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error { return nil }
func (r *memRepo) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error { return nil }
func (r *memRepo) DeleteWorkflow(ctx context.Context, id string) error             { return nil }

func (r *memRepo) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec.ID = r.genID()
	r.executions[exec.ID] = exec
	return nil
}

func (r *memRepo) UpdateExecution(ctx context.Context, id string, fields workflow.ExecutionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[id]
	if !ok {
		exec = &workflow.Execution{ID: id}
		r.executions[id] = exec
	}
	if fields.Status != nil {
		exec.Status = *fields.Status
	}
	if fields.ErrorMsg != nil {
		exec.ErrorMsg = *fields.ErrorMsg
	}
	if fields.Output != nil {
		exec.Output = fields.Output
	}
	return nil
}

func (r *memRepo) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[id], nil
}

func (r *memRepo) ListExecutions(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	return nil, nil
}

func (r *memRepo) CreateTask(ctx context.Context, task *workflow.TaskRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.ID = r.genID()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *memRepo) UpdateTask(ctx context.Context, id string, fields workflow.TaskUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return workflow.ErrTaskNotFound
	}
	if fields.Status != nil {
		task.Status = *fields.Status
	}
	if fields.ErrorMsg != nil {
		task.ErrorMsg = *fields.ErrorMsg
	}
	if fields.Output != nil {
		task.Output = fields.Output
	}
	if fields.RetryCount != nil {
		task.RetryCount = *fields.RetryCount
	}
	return nil
}

func (r *memRepo) ListTasks(ctx context.Context, executionID string) ([]*workflow.TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*workflow.TaskRecord, 0)
	for _, t := range r.tasks {
		if t.ExecutionID == executionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) LatestChainExecution(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	return nil, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDAGEngineDiamondAllSucceed(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "echo", agent.NewEchoExecutor())

	engine := NewDAGEngine(repo, reg, testLogger(), 4)

	def := workflow.WorkflowDefinition{Tasks: []workflow.TaskDefinition{
		{Name: "a", AgentType: "builtin", Action: "echo"},
		{Name: "b", AgentType: "builtin", Action: "echo", DependsOn: []string{"a"}},
		{Name: "c", AgentType: "builtin", Action: "echo", DependsOn: []string{"a"}},
		{Name: "d", AgentType: "builtin", Action: "echo", DependsOn: []string{"b", "c"}},
	}}

	exec := &workflow.Execution{ID: "exec-1", WorkflowID: "wf-1"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-1"}

	_, err := engine.Run(context.Background(), exec, wf, def)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	assert.Len(t, tasks, 4)
	for _, tr := range tasks {
		assert.Equal(t, workflow.TaskRecordCompleted, tr.Status)
	}
}

func TestDAGEngineFailurePropagatesToDependents(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "echo", agent.NewEchoExecutor())
	reg.Register("builtin", "error", agent.NewErrorExecutor())

	engine := NewDAGEngine(repo, reg, testLogger(), 4)

	def := workflow.WorkflowDefinition{Tasks: []workflow.TaskDefinition{
		{Name: "a", AgentType: "builtin", Action: "error"},
		{Name: "b", AgentType: "builtin", Action: "echo", DependsOn: []string{"a"}},
	}}

	exec := &workflow.Execution{ID: "exec-2", WorkflowID: "wf-2"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-2"}

	_, err := engine.Run(context.Background(), exec, wf, def)
	require.Error(t, err)
	assert.Equal(t, workflow.ExecutionFailed, exec.Status)

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	statusByName := map[string]workflow.TaskRecordStatus{}
	for _, tr := range tasks {
		statusByName[tr.Name] = tr.Status
	}
	assert.Equal(t, workflow.TaskRecordFailed, statusByName["a"])
	assert.Equal(t, workflow.TaskRecordFailed, statusByName["b"])
}

func TestDAGEngineDownstreamTaskSeesUpstreamOutput(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "produce", agent.ExecutorFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"value": "42"}, nil
	}))

	var seenValue interface{}
	reg.Register("builtin", "consume", agent.ExecutorFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		seenValue = params["value"]
		return map[string]interface{}{}, nil
	}))

	engine := NewDAGEngine(repo, reg, testLogger(), 4)
	def := workflow.WorkflowDefinition{Tasks: []workflow.TaskDefinition{
		{Name: "producer", AgentType: "builtin", Action: "produce"},
		{
			Name: "consumer", AgentType: "builtin", Action: "consume",
			DependsOn:  []string{"producer"},
			Parameters: map[string]interface{}{"value": "${producer}"},
		},
	}}

	exec := &workflow.Execution{ID: "exec-3", WorkflowID: "wf-3"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-3"}

	_, err := engine.Run(context.Background(), exec, wf, def)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"value": "42"}, seenValue)
}

func TestDAGEngineRollbackInvokesExecutor(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "echo", agent.NewEchoExecutor())
	reg.Register("builtin", "error", agent.NewErrorExecutor())

	var rolledBackNames []string
	var mu sync.Mutex
	reg.Register("builtin", "rollback", agent.ExecutorFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		mu.Lock()
		rolledBackNames = append(rolledBackNames, fmt.Sprintf("%v", params))
		mu.Unlock()
		return nil, nil
	}))

	engine := NewDAGEngine(repo, reg, testLogger(), 4)
	def := workflow.WorkflowDefinition{Tasks: []workflow.TaskDefinition{
		{Name: "a", AgentType: "builtin", Action: "echo"},
		{Name: "b", AgentType: "builtin", Action: "error", DependsOn: []string{"a"}},
		{Name: "c", AgentType: "builtin", Action: "echo", DependsOn: []string{"b"}},
	}}

	exec := &workflow.Execution{ID: "exec-4", WorkflowID: "wf-4"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-4"}

	_, runErr := engine.Run(context.Background(), exec, wf, def)
	require.Error(t, runErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, rolledBackNames, 1, "rollback executor should run once, for c (the only transitive dependent of the failed node b)")

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	statusByName := map[string]workflow.TaskRecordStatus{}
	for _, tr := range tasks {
		statusByName[tr.Name] = tr.Status
	}
	assert.Equal(t, workflow.TaskRecordFailed, statusByName["c"])
}
