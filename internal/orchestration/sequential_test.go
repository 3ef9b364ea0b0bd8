package orchestration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

func TestSequentialOrchestratorHappyPath(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "echo", agent.NewEchoExecutor())

	orch := NewSequentialOrchestrator(repo, reg, testLogger())

	def := workflow.WorkflowDefinition{
		OnError: workflow.OnErrorStop,
		Tasks: []workflow.TaskDefinition{
			{Name: "first", AgentType: "builtin", Action: "echo"},
			{Name: "second", AgentType: "builtin", Action: "echo", DependsOn: []string{"first"}},
		},
	}
	exec := &workflow.Execution{ID: "exec-seq-1", WorkflowID: "wf-seq-1"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-seq-1"}

	err := orch.Run(context.Background(), exec, wf, def)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	assert.Len(t, tasks, 2)

	var output map[string]interface{}
	require.NoError(t, json.Unmarshal(exec.Output, &output))
	assert.Contains(t, output, "first")
	assert.Contains(t, output, "second")
}

func TestSequentialOrchestratorRetryThenSucceed(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()

	attempts := 0
	reg.Register("builtin", "flaky", agent.ExecutorFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, assert.AnError
		}
		return map[string]interface{}{"ok": true}, nil
	}))

	orch := NewSequentialOrchestrator(repo, reg, testLogger())
	def := workflow.WorkflowDefinition{Tasks: []workflow.TaskDefinition{
		{Name: "flaky-task", AgentType: "builtin", Action: "flaky", MaxRetries: 2},
	}}
	exec := &workflow.Execution{ID: "exec-seq-2", WorkflowID: "wf-seq-2"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-seq-2"}

	err := orch.Run(context.Background(), exec, wf, def)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)

	var output map[string]interface{}
	require.NoError(t, json.Unmarshal(exec.Output, &output))
	assert.Equal(t, map[string]interface{}{"ok": true}, output["flaky-task"])
}

func TestSequentialOrchestratorStopOnErrorSkipsDependents(t *testing.T) {
	repo := newMemRepo()
	reg := agent.NewRegistry()
	reg.Register("builtin", "error", agent.NewErrorExecutor())
	reg.Register("builtin", "echo", agent.NewEchoExecutor())

	orch := NewSequentialOrchestrator(repo, reg, testLogger())
	def := workflow.WorkflowDefinition{
		OnError: workflow.OnErrorStop,
		Tasks: []workflow.TaskDefinition{
			{Name: "boom", AgentType: "builtin", Action: "error"},
			{Name: "after", AgentType: "builtin", Action: "echo", DependsOn: []string{"boom"}},
		},
	}
	exec := &workflow.Execution{ID: "exec-seq-3", WorkflowID: "wf-seq-3"}
	repo.executions[exec.ID] = exec
	wf := &workflow.Workflow{ID: "wf-seq-3"}

	err := orch.Run(context.Background(), exec, wf, def)
	require.Error(t, err)
	assert.Equal(t, workflow.ExecutionFailed, exec.Status)

	tasks, _ := repo.ListTasks(context.Background(), exec.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "boom", tasks[0].Name)
}
