package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stackconsult/workflowcore/internal/agent"
	"github.com/stackconsult/workflowcore/internal/orchestration"
	"github.com/stackconsult/workflowcore/internal/workflow"
)

// Service triggers and tracks workflow executions. It selects the
// Sequential Orchestrator for workflows whose tasks declare no
// dependencies and the DAG Execution Engine for everything else, since a
// purely-ordered task list gains nothing from level-based scheduling and
// the sequential path's simpler retry/on_error handling is the better fit
// for it.
type Service struct {
	repo       workflow.Repository
	workflows  *workflow.Service
	sequential *orchestration.SequentialOrchestrator
	dag        *orchestration.DAGEngine
	projector  *orchestration.Projector
	logger     *logrus.Logger
}

// NewService wires an execution Service from its dependencies.
func NewService(repo workflow.Repository, workflows *workflow.Service, registry *agent.Registry, logger *logrus.Logger, maxConcurrency int) *Service {
	return &Service{
		repo:       repo,
		workflows:  workflows,
		sequential: orchestration.NewSequentialOrchestrator(repo, registry, logger),
		dag:        orchestration.NewDAGEngine(repo, registry, logger, maxConcurrency),
		projector:  orchestration.NewProjector(repo),
		logger:     logger,
	}
}

// Trigger starts a new execution of workflowID under triggerType, merging
// variables into the workflow's own definition.Variables (caller-supplied
// values win on conflict), and runs it asynchronously. The returned
// Execution is in ExecutionPending and should be polled via Get.
func (s *Service) Trigger(ctx context.Context, workflowID string, variables map[string]interface{}, triggerType workflow.TriggerType, triggeredBy string) (*workflow.Execution, error) {
	if !triggerType.Valid() {
		return nil, workflow.ErrInvalidTriggerType
	}

	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != workflow.StatusActive {
		return nil, workflow.ErrWorkflowNotActive
	}

	def, err := wf.DecodeDefinition()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidDefinition, err)
	}
	def.Variables = mergeVariables(def.Variables, variables)

	exec := &workflow.Execution{
		WorkflowID:  wf.ID,
		Status:      workflow.ExecutionPending,
		TriggerType: triggerType,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	runCtx := context.Background()
	if wf.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(wf.TimeoutSecs)*time.Second)
		go func() {
			<-runCtx.Done()
			cancel()
		}()
	}

	go s.run(runCtx, exec, wf, def)

	return exec, nil
}

// Start implements chain.ExecutionRunner for the chain manager: it
// triggers a chained sub-execution with TriggerChain.
func (s *Service) Start(ctx context.Context, workflowID string, variables map[string]interface{}, triggeredBy string) (*workflow.Execution, error) {
	return s.Trigger(ctx, workflowID, variables, workflow.TriggerChain, triggeredBy)
}

// Poll implements chain.ExecutionRunner: it rereads the execution row.
func (s *Service) Poll(ctx context.Context, executionID string) (*workflow.Execution, error) {
	return s.repo.GetExecution(ctx, executionID)
}

// Get returns the current state of an execution.
func (s *Service) Get(ctx context.Context, executionID string) (*workflow.Execution, error) {
	return s.repo.GetExecution(ctx, executionID)
}

// Log returns the projected event log and progress for an execution.
func (s *Service) Log(ctx context.Context, executionID string) (*orchestration.ExecutionLog, error) {
	return s.projector.Project(ctx, executionID)
}

func (s *Service) run(ctx context.Context, exec *workflow.Execution, wf *workflow.Workflow, def workflow.WorkflowDefinition) {
	log := s.logger.WithFields(logrus.Fields{"execution_id": exec.ID, "workflow_id": wf.ID})

	hasDependencies := false
	for _, t := range def.Tasks {
		if len(t.DependsOn) > 0 {
			hasDependencies = true
			break
		}
	}

	var err error
	if hasDependencies {
		_, err = s.dag.Run(ctx, exec, wf, def)
	} else {
		err = s.sequential.Run(ctx, exec, wf, def)
	}
	if err != nil {
		log.WithError(err).Warn("execution finished with error")
	}
}

func mergeVariables(base, overrides map[string]interface{}) map[string]interface{} {
	if len(overrides) == 0 {
		return base
	}
	merged := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
