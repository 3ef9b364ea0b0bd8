package orchestration

import (
	"context"
	"fmt"
	"sort"

	"github.com/stackconsult/workflowcore/internal/workflow"
)

// LogEvent is one derived entry in an execution's projected event log. The
// log is never persisted separately: it is recomputed on read from the task
// records belonging to an execution.
type LogEvent struct {
	TaskName string                   `json:"task_name"`
	Status   workflow.TaskRecordStatus `json:"status"`
	Message  string                   `json:"message,omitempty"`
}

// ExecutionLog is the projected view of an execution: its derived event log
// plus progress, expressed as a 0-100 integer percentage of tasks that have
// reached a terminal (non-running, non-queued) state.
type ExecutionLog struct {
	ExecutionID string     `json:"execution_id"`
	Status      workflow.ExecutionStatus `json:"status"`
	Progress    int        `json:"progress"`
	Events      []LogEvent `json:"events"`
}

// Projector derives an ExecutionLog from persisted task records. It holds no
// state of its own; every call re-reads the repository.
type Projector struct {
	repo workflow.Repository
}

// NewProjector builds a Projector over repo.
func NewProjector(repo workflow.Repository) *Projector {
	return &Projector{repo: repo}
}

// Project reads every TaskRecord for executionID and derives an
// ExecutionLog. Progress is round(100 * completed / total), where completed
// counts tasks in a terminal state (completed, failed, or skipped);
// queued/running tasks do not count toward the numerator.
func (p *Projector) Project(ctx context.Context, executionID string) (*ExecutionLog, error) {
	exec, err := p.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	tasks, err := p.repo.ListTasks(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task records: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].QueuedAt.Before(tasks[j].QueuedAt) })

	events := make([]LogEvent, 0, len(tasks))
	terminal := 0
	for _, t := range tasks {
		events = append(events, LogEvent{TaskName: t.Name, Status: t.Status, Message: t.ErrorMsg})
		if isTerminalTaskStatus(t.Status) {
			terminal++
		}
	}

	progress := 0
	if len(tasks) > 0 {
		progress = int((100*terminal + len(tasks)/2) / len(tasks)) // round to nearest integer
	}

	return &ExecutionLog{
		ExecutionID: executionID,
		Status:      exec.Status,
		Progress:    progress,
		Events:      events,
	}, nil
}

func isTerminalTaskStatus(s workflow.TaskRecordStatus) bool {
	switch s {
	case workflow.TaskRecordCompleted, workflow.TaskRecordFailed, workflow.TaskRecordSkipped:
		return true
	default:
		return false
	}
}
