package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

// WorkflowService owns the definition lifecycle: authoring, the
// Draft/Active/Paused/Archived transitions and version bumps. Runtime
// concerns (starting and resuming executions) belong to the engine.
type WorkflowService struct {
	store  storage.Store
	logger *logrus.Logger
}

func NewWorkflowService(store storage.Store, logger *logrus.Logger) *WorkflowService {
	return &WorkflowService{store: store, logger: logger}
}

// SaveDefinition validates and persists a definition. New definitions start
// at version 1 in Draft; saving over an existing Draft or Paused definition
// bumps the version. Active and Archived definitions are immutable.
func (s *WorkflowService) SaveDefinition(def models.WorkflowDefinition) (err error) {
	if def.ID == "" {
		return errors.New("workflow ID cannot be empty")
	}
	if len(def.Name) > 200 {
		return errors.New("workflow name too long (max 200 characters)")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	existing, err := txStore.GetDefinition(def.ID)
	switch {
	case err == nil:
		if existing.Status == models.ActiveWorkflowStatus || existing.Status == models.ArchivedWorkflowStatus {
			return errors.Errorf("workflow %s is %s and cannot be edited", def.ID, existing.Status)
		}
		def.Version = existing.Version + 1
		def.CreatedAt = existing.CreatedAt
		def.Status = existing.Status
	case errors.Is(err, storage.ErrNotFound):
		def.Version = 1
		def.Status = models.DraftWorkflowStatus
		def.CreatedAt = time.Now()
		err = nil
	default:
		return err
	}
	def.UpdatedAt = time.Now()

	if err = txStore.SaveDefinition(def); err != nil {
		return err
	}
	s.logger.Infof("Saved workflow '%s' (%s) at version %d", def.Name, def.ID, def.Version)
	return nil
}

// UpdateStatus applies a lifecycle transition. Legal moves are Draft to
// Active, Active to Paused, Paused to Active, and anything to Archived.
func (s *WorkflowService) UpdateStatus(id string, status models.WorkflowStatus) (err error) {
	switch status {
	case models.ActiveWorkflowStatus, models.PausedWorkflowStatus, models.ArchivedWorkflowStatus:
	default:
		return errors.Errorf("invalid target status %q; must be 'ACTIVE', 'PAUSED' or 'ARCHIVED'", status)
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	def, err := txStore.GetDefinition(id)
	if err != nil {
		return err
	}
	if !legalTransition(def.Status, status) {
		return errors.Errorf("workflow %s cannot move from %s to %s", id, def.Status, status)
	}

	def.Status = status
	def.UpdatedAt = time.Now()
	if err = txStore.SaveDefinition(def); err != nil {
		return err
	}
	s.logger.Infof("Workflow %s is now %s", id, status)
	return nil
}

func legalTransition(from, to models.WorkflowStatus) bool {
	if to == models.ArchivedWorkflowStatus {
		return from != models.ArchivedWorkflowStatus
	}
	switch from {
	case models.DraftWorkflowStatus:
		return to == models.ActiveWorkflowStatus
	case models.ActiveWorkflowStatus:
		return to == models.PausedWorkflowStatus
	case models.PausedWorkflowStatus:
		return to == models.ActiveWorkflowStatus
	}
	return false
}

func (s *WorkflowService) GetDefinition(id string) (models.WorkflowDefinition, error) {
	return s.store.GetDefinition(id)
}

func (s *WorkflowService) ListDefinitions(tenantID string) ([]models.WorkflowDefinition, error) {
	return s.store.ListDefinitions(tenantID)
}

func (s *WorkflowService) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	return s.store.ListExecutions(workflowID)
}
