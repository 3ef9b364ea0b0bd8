package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema constrains the shape of Workflow.Definition. It is
// intentionally permissive on parameter/variable values (arbitrary JSON)
// while pinning down the task list's required structure.
const definitionSchema = `{
	"type": "object",
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "agent_type", "action"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"agent_type": {"type": "string", "minLength": 1},
					"action": {"type": "string", "minLength": 1},
					"depends_on": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"on_error": {"enum": ["stop", "continue", "retry", ""]}
	}
}`

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service provides workflow CRUD with structural and schema validation.
// It is the ambient layer between HTTP/CLI callers and the Repository.
type Service struct {
	repo   Repository
	logger *logrus.Logger
	schema *gojsonschema.Schema
}

// NewService creates a workflow service, compiling the definition schema
// once at construction time.
func NewService(repo Repository, logger *logrus.Logger) (*Service, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow definition schema: %w", err)
	}
	return &Service{repo: repo, logger: logger, schema: schema}, nil
}

// Create validates and persists a new workflow.
func (s *Service) Create(ctx context.Context, wf *Workflow) error {
	if err := s.Validate(wf); err != nil {
		return err
	}
	if err := s.repo.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"workflow_id": wf.ID, "name": wf.Name}).Info("workflow created")
	return nil
}

// Validate checks a workflow's definition against the schema, plus the
// structural rules a schema cannot express: unique task names, depends_on
// referencing declared tasks, and a valid cron schedule when present.
func (s *Service) Validate(wf *Workflow) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(wf.Definition))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if !result.Valid() {
		ve := ValidationResult{Valid: false}
		for _, desc := range result.Errors() {
			ve.Errors = append(ve.Errors, ValidationError{Field: desc.Field(), Message: desc.Description()})
		}
		return fmt.Errorf("%w: %+v", ErrInvalidDefinition, ve.Errors)
	}

	def, err := wf.DecodeDefinition()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	names := make(map[string]bool, len(def.Tasks))
	for _, t := range def.Tasks {
		if names[t.Name] {
			return fmt.Errorf("%w: duplicate task name %q", ErrInvalidDefinition, t.Name)
		}
		names[t.Name] = true
	}
	for _, t := range def.Tasks {
		for _, dep := range t.DependsOn {
			if !names[dep] {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidDefinition, t.Name, dep)
			}
		}
	}

	if wf.Schedule != "" {
		if _, err := cronParser.Parse(wf.Schedule); err != nil {
			return fmt.Errorf("%w: invalid schedule expression: %v", ErrInvalidDefinition, err)
		}
	}

	return nil
}

// Get retrieves a workflow, erroring with ErrWorkflowNotFound if absent.
func (s *Service) Get(ctx context.Context, id string) (*Workflow, error) {
	return s.repo.GetWorkflow(ctx, id)
}

// List returns workflows owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Workflow, error) {
	return s.repo.ListWorkflows(ctx, ownerID)
}

// Update validates and persists changes to an existing workflow.
func (s *Service) Update(ctx context.Context, wf *Workflow) error {
	if err := s.Validate(wf); err != nil {
		return err
	}
	return s.repo.UpdateWorkflow(ctx, wf)
}

// Delete removes a workflow.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteWorkflow(ctx, id)
}

// MarshalDefinition is a convenience for callers building a Workflow from
// typed parts rather than raw JSON.
func MarshalDefinition(def WorkflowDefinition) (json.RawMessage, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
