package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkflowStorage implements the WorkflowStorage interface for Badger
type WorkflowStorage struct {
	db       *BadgerDB
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewWorkflowStorage creates a new WorkflowStorage instance
func NewWorkflowStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkflowStorage {
	return &WorkflowStorage{
		db:       db,
		logger:   logger,
		validate: validator.New(),
	}
}

func (s *WorkflowStorage) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow ID is required")
	}
	if err := s.validate.Struct(wf); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	wf.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(wf.ID, wf); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStorage) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.db.Store().Get(workflowID, &wf); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("workflow not found: %s", workflowID)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &wf, nil
}

func (s *WorkflowStorage) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	query := badgerhold.Where("ID").Ne("")
	if tenantID != "" {
		query = query.And("TenantID").Eq(tenantID)
	}
	var workflows []models.Workflow
	if err := s.db.Store().Find(&workflows, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	result := make([]*models.Workflow, len(workflows))
	for i := range workflows {
		result[i] = &workflows[i]
	}
	return result, nil
}
