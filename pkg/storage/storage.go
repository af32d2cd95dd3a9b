package storage

import (
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists workflow definitions, terminal execution audit records,
// approval requests and schedules. In-flight execution state lives in the
// engine's memory; the store is the registry and audit trail behind it.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Definition operations
	SaveDefinition(d models.WorkflowDefinition) error
	GetDefinition(id string) (models.WorkflowDefinition, error)
	ListDefinitions(tenantID string) ([]models.WorkflowDefinition, error)

	// Execution audit operations
	SaveExecution(e models.WorkflowExecution) error
	GetExecution(id string) (models.WorkflowExecution, error)
	ListExecutions(workflowID string) ([]models.WorkflowExecution, error)

	// Approval operations
	SaveApproval(r models.ApprovalRequest) error
	GetApproval(id string) (models.ApprovalRequest, error)

	// Schedule operations
	SaveSchedule(s models.ScheduledWorkflow) error
	ListSchedules() ([]models.ScheduledWorkflow, error)
}
