package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arangodb/go-driver"
	"github.com/sirupsen/logrus"
)

const (
	workflowsCollection  = "workflows"
	executionsCollection = "executions"
	tasksCollection      = "tasks"
)

// ArangoRepository implements Repository on top of ArangoDB. JSON columns
// (definition, parameters, output) are stored as opaque strings: the
// document field holds the already-marshaled bytes, never a nested Arango
// sub-document, so a read always yields the exact bytes a prior write
// produced.
type ArangoRepository struct {
	db     driver.Database
	logger *logrus.Logger
}

// NewArangoRepository creates the repository and ensures its collections
// and indexes exist.
func NewArangoRepository(db driver.Database, logger *logrus.Logger) (*ArangoRepository, error) {
	repo := &ArangoRepository{db: db, logger: logger}
	if err := repo.ensureCollections(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure collections: %w", err)
	}
	return repo, nil
}

func (r *ArangoRepository) ensureCollections(ctx context.Context) error {
	for _, name := range []string{workflowsCollection, executionsCollection, tasksCollection} {
		if err := r.ensureCollection(ctx, name); err != nil {
			return err
		}
	}
	return r.ensureIndexes(ctx)
}

func (r *ArangoRepository) ensureCollection(ctx context.Context, name string) error {
	exists, err := r.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		if _, err := r.db.CreateCollection(ctx, name, nil); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		r.logger.WithField("collection", name).Info("created collection")
	}
	return nil
}

func (r *ArangoRepository) ensureIndexes(ctx context.Context) error {
	workflows, err := r.db.Collection(ctx, workflowsCollection)
	if err != nil {
		return fmt.Errorf("failed to get workflows collection: %w", err)
	}
	if _, _, err := workflows.EnsurePersistentIndex(ctx, []string{"owner_id"}, &driver.EnsurePersistentIndexOptions{Name: "idx_workflows_owner_id"}); err != nil {
		return fmt.Errorf("failed to create owner_id index: %w", err)
	}
	if _, _, err := workflows.EnsurePersistentIndex(ctx, []string{"status"}, &driver.EnsurePersistentIndexOptions{Name: "idx_workflows_status"}); err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	executions, err := r.db.Collection(ctx, executionsCollection)
	if err != nil {
		return fmt.Errorf("failed to get executions collection: %w", err)
	}
	if _, _, err := executions.EnsurePersistentIndex(ctx, []string{"workflow_id", "status"}, &driver.EnsurePersistentIndexOptions{Name: "idx_executions_workflow_status"}); err != nil {
		return fmt.Errorf("failed to create workflow_id/status index: %w", err)
	}
	if _, _, err := executions.EnsurePersistentIndex(ctx, []string{"created_at"}, &driver.EnsurePersistentIndexOptions{Name: "idx_executions_created_at"}); err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	tasks, err := r.db.Collection(ctx, tasksCollection)
	if err != nil {
		return fmt.Errorf("failed to get tasks collection: %w", err)
	}
	if _, _, err := tasks.EnsurePersistentIndex(ctx, []string{"execution_id", "queued_at"}, &driver.EnsurePersistentIndexOptions{Name: "idx_tasks_execution_queued"}); err != nil {
		return fmt.Errorf("failed to create execution_id/queued_at index: %w", err)
	}

	return nil
}

// workflowDoc is the on-disk shape: definition stays a raw string, never a
// nested Arango sub-document, so a read returns the exact bytes written.
type workflowDoc struct {
	ID          string `json:"_key,omitempty"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Status      Status `json:"status"`
	Version     int    `json:"version"`
	TimeoutSecs int    `json:"timeout_seconds"`
	MaxRetries  int    `json:"max_retries"`
	Schedule    string `json:"schedule,omitempty"`
	Type        string `json:"type,omitempty"`
	Definition  string `json:"definition"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toWorkflowDoc(wf *Workflow) workflowDoc {
	return workflowDoc{
		ID:          wf.ID,
		Name:        wf.Name,
		OwnerID:     wf.OwnerID,
		WorkspaceID: wf.WorkspaceID,
		Status:      wf.Status,
		Version:     wf.Version,
		TimeoutSecs: wf.TimeoutSecs,
		MaxRetries:  wf.MaxRetries,
		Schedule:    wf.Schedule,
		Type:        wf.Type,
		Definition:  string(wf.Definition),
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

func fromWorkflowDoc(doc workflowDoc, key string) *Workflow {
	return &Workflow{
		ID:          key,
		Name:        doc.Name,
		OwnerID:     doc.OwnerID,
		WorkspaceID: doc.WorkspaceID,
		Status:      doc.Status,
		Version:     doc.Version,
		TimeoutSecs: doc.TimeoutSecs,
		MaxRetries:  doc.MaxRetries,
		Schedule:    doc.Schedule,
		Type:        doc.Type,
		Definition:  json.RawMessage(doc.Definition),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

// CreateWorkflow stores a new workflow definition.
func (r *ArangoRepository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	col, err := r.db.Collection(ctx, workflowsCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if wf.Status == "" {
		wf.Status = StatusActive
	}

	doc := toWorkflowDoc(wf)
	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	wf.ID = meta.Key

	r.logger.WithFields(logrus.Fields{"workflow_id": wf.ID, "name": wf.Name}).Info("created workflow")
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (r *ArangoRepository) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	col, err := r.db.Collection(ctx, workflowsCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	var doc workflowDoc
	if _, err := col.ReadDocument(ctx, id, &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}

	return fromWorkflowDoc(doc, id), nil
}

// ListWorkflows returns workflows owned by ownerID, newest first.
func (r *ArangoRepository) ListWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	query := `
		FOR w IN @@collection
		FILTER w.owner_id == @owner_id
		SORT w.created_at DESC
		RETURN w
	`
	cursor, err := r.db.Query(ctx, query, map[string]interface{}{
		"@collection": workflowsCollection,
		"owner_id":    ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer cursor.Close()

	var workflows []*Workflow
	for {
		var doc workflowDoc
		meta, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow document: %w", err)
		}
		workflows = append(workflows, fromWorkflowDoc(doc, meta.Key))
	}
	return workflows, nil
}

// UpdateWorkflow replaces a workflow's mutable fields.
func (r *ArangoRepository) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	col, err := r.db.Collection(ctx, workflowsCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	wf.UpdatedAt = time.Now()
	doc := toWorkflowDoc(wf)
	if _, err := col.UpdateDocument(ctx, wf.ID, doc); err != nil {
		if driver.IsNotFound(err) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow.
func (r *ArangoRepository) DeleteWorkflow(ctx context.Context, id string) error {
	col, err := r.db.Collection(ctx, workflowsCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	if _, err := col.RemoveDocument(ctx, id); err != nil {
		if driver.IsNotFound(err) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

type executionDoc struct {
	ID          string          `json:"_key,omitempty"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggerType TriggerType     `json:"trigger_type"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Output      string          `json:"output,omitempty"`
	ErrorMsg    string          `json:"error_message,omitempty"`
}

func toExecutionDoc(e *Execution) executionDoc {
	return executionDoc{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		TriggerType: e.TriggerType,
		TriggeredBy: e.TriggeredBy,
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		DurationMs:  e.DurationMs,
		Output:      string(e.Output),
		ErrorMsg:    e.ErrorMsg,
	}
}

func fromExecutionDoc(doc executionDoc, key string) *Execution {
	var output json.RawMessage
	if doc.Output != "" {
		output = json.RawMessage(doc.Output)
	}
	return &Execution{
		ID:          key,
		WorkflowID:  doc.WorkflowID,
		Status:      doc.Status,
		TriggerType: doc.TriggerType,
		TriggeredBy: doc.TriggeredBy,
		CreatedAt:   doc.CreatedAt,
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
		DurationMs:  doc.DurationMs,
		Output:      output,
		ErrorMsg:    doc.ErrorMsg,
	}
}

// CreateExecution stores a new execution row.
func (r *ArangoRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	col, err := r.db.Collection(ctx, executionsCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	exec.CreatedAt = time.Now()
	doc := toExecutionDoc(exec)
	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	exec.ID = meta.Key
	return nil
}

// UpdateExecution atomically patches the named fields of an execution row.
func (r *ArangoRepository) UpdateExecution(ctx context.Context, id string, fields ExecutionUpdate) error {
	col, err := r.db.Collection(ctx, executionsCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	patch := map[string]interface{}{}
	if fields.Status != nil {
		patch["status"] = *fields.Status
	}
	if fields.StartedAt != nil {
		patch["started_at"] = fields.StartedAt.Value
	}
	if fields.CompletedAt != nil {
		patch["completed_at"] = fields.CompletedAt.Value
	}
	if fields.DurationMs != nil {
		patch["duration_ms"] = *fields.DurationMs
	}
	if fields.Output != nil {
		patch["output"] = string(fields.Output)
	}
	if fields.ErrorMsg != nil {
		patch["error_message"] = *fields.ErrorMsg
	}

	if _, err := col.UpdateDocument(ctx, id, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrExecutionNotFound
		}
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by id.
func (r *ArangoRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	col, err := r.db.Collection(ctx, executionsCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	var doc executionDoc
	if _, err := col.ReadDocument(ctx, id, &doc); err != nil {
		if driver.IsNotFound(err) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	return fromExecutionDoc(doc, id), nil
}

// ListExecutions returns executions for a workflow, newest first.
func (r *ArangoRepository) ListExecutions(ctx context.Context, workflowID string) ([]*Execution, error) {
	query := `
		FOR e IN @@collection
		FILTER e.workflow_id == @workflow_id
		SORT e.created_at DESC
		RETURN e
	`
	cursor, err := r.db.Query(ctx, query, map[string]interface{}{
		"@collection": executionsCollection,
		"workflow_id": workflowID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer cursor.Close()

	var executions []*Execution
	for {
		var doc executionDoc
		meta, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read execution document: %w", err)
		}
		executions = append(executions, fromExecutionDoc(doc, meta.Key))
	}
	return executions, nil
}

// LatestChainExecution returns the most recently created execution for a
// chain workflow.
func (r *ArangoRepository) LatestChainExecution(ctx context.Context, workflowID string) (*Execution, error) {
	query := `
		FOR e IN @@collection
		FILTER e.workflow_id == @workflow_id
		SORT e.created_at DESC
		LIMIT 1
		RETURN e
	`
	cursor, err := r.db.Query(ctx, query, map[string]interface{}{
		"@collection": executionsCollection,
		"workflow_id": workflowID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chain execution: %w", err)
	}
	defer cursor.Close()

	var doc executionDoc
	meta, err := cursor.ReadDocument(ctx, &doc)
	if driver.IsNoMoreDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution document: %w", err)
	}
	return fromExecutionDoc(doc, meta.Key), nil
}

type taskDoc struct {
	ID          string           `json:"_key,omitempty"`
	ExecutionID string           `json:"execution_id"`
	Name        string           `json:"name"`
	AgentType   string           `json:"agent_type"`
	Action      string           `json:"action"`
	Parameters  string           `json:"parameters,omitempty"`
	Status      TaskRecordStatus `json:"status"`
	RetryCount  int              `json:"retry_count"`
	QueuedAt    time.Time        `json:"queued_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Output      string           `json:"output,omitempty"`
	ErrorMsg    string           `json:"error_message,omitempty"`
}

func toTaskDoc(t *TaskRecord) taskDoc {
	return taskDoc{
		ID:          t.ID,
		ExecutionID: t.ExecutionID,
		Name:        t.Name,
		AgentType:   t.AgentType,
		Action:      t.Action,
		Parameters:  string(t.Parameters),
		Status:      t.Status,
		RetryCount:  t.RetryCount,
		QueuedAt:    t.QueuedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Output:      string(t.Output),
		ErrorMsg:    t.ErrorMsg,
	}
}

func fromTaskDoc(doc taskDoc, key string) *TaskRecord {
	var params, output json.RawMessage
	if doc.Parameters != "" {
		params = json.RawMessage(doc.Parameters)
	}
	if doc.Output != "" {
		output = json.RawMessage(doc.Output)
	}
	return &TaskRecord{
		ID:          key,
		ExecutionID: doc.ExecutionID,
		Name:        doc.Name,
		AgentType:   doc.AgentType,
		Action:      doc.Action,
		Parameters:  params,
		Status:      doc.Status,
		RetryCount:  doc.RetryCount,
		QueuedAt:    doc.QueuedAt,
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
		Output:      output,
		ErrorMsg:    doc.ErrorMsg,
	}
}

// CreateTask stores a new task record.
func (r *ArangoRepository) CreateTask(ctx context.Context, task *TaskRecord) error {
	col, err := r.db.Collection(ctx, tasksCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	doc := toTaskDoc(task)
	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	task.ID = meta.Key
	return nil
}

// UpdateTask atomically patches the named fields of a task record.
func (r *ArangoRepository) UpdateTask(ctx context.Context, id string, fields TaskUpdate) error {
	col, err := r.db.Collection(ctx, tasksCollection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	patch := map[string]interface{}{}
	if fields.Status != nil {
		patch["status"] = *fields.Status
	}
	if fields.RetryCount != nil {
		patch["retry_count"] = *fields.RetryCount
	}
	if fields.StartedAt != nil {
		patch["started_at"] = fields.StartedAt.Value
	}
	if fields.CompletedAt != nil {
		patch["completed_at"] = fields.CompletedAt.Value
	}
	if fields.Parameters != nil {
		patch["parameters"] = string(fields.Parameters)
	}
	if fields.Output != nil {
		patch["output"] = string(fields.Output)
	}
	if fields.ErrorMsg != nil {
		patch["error_message"] = *fields.ErrorMsg
	}

	if _, err := col.UpdateDocument(ctx, id, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// ListTasks returns the task records for an execution, ordered by the time
// they were queued.
func (r *ArangoRepository) ListTasks(ctx context.Context, executionID string) ([]*TaskRecord, error) {
	query := `
		FOR t IN @@collection
		FILTER t.execution_id == @execution_id
		SORT t.queued_at ASC
		RETURN t
	`
	cursor, err := r.db.Query(ctx, query, map[string]interface{}{
		"@collection":  tasksCollection,
		"execution_id": executionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer cursor.Close()

	var tasks []*TaskRecord
	for {
		var doc taskDoc
		meta, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read task document: %w", err)
		}
		tasks = append(tasks, fromTaskDoc(doc, meta.Key))
	}
	return tasks, nil
}
