package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsult/workflowcore/internal/workflow"
)

func TestProjectorProgressRounding(t *testing.T) {
	repo := newMemRepo()
	exec := &workflow.Execution{ID: "exec-p1", Status: workflow.ExecutionRunning}
	repo.executions[exec.ID] = exec

	for i, status := range []workflow.TaskRecordStatus{
		workflow.TaskRecordCompleted,
		workflow.TaskRecordCompleted,
		workflow.TaskRecordRunning,
	} {
		rec := &workflow.TaskRecord{ExecutionID: exec.ID, Name: "t" + string(rune('a'+i)), Status: status}
		require.NoError(t, repo.CreateTask(context.Background(), rec))
	}

	p := NewProjector(repo)
	log, err := p.Project(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 67, log.Progress) // round(100*2/3) = 67
	assert.Len(t, log.Events, 3)
}

func TestProjectorEmptyExecution(t *testing.T) {
	repo := newMemRepo()
	exec := &workflow.Execution{ID: "exec-p2", Status: workflow.ExecutionPending}
	repo.executions[exec.ID] = exec

	p := NewProjector(repo)
	log, err := p.Project(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, log.Progress)
	assert.Empty(t, log.Events)
}
