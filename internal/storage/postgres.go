package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore keeps each document as a JSONB payload next to the scalar
// columns the list queries filter on.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func InitStore(connStr string) (*PostgresStore, error) {
	return NewPostgresStore(connStr)
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveDefinition upserts a workflow definition keyed by its ID.
func (s *PostgresStore) SaveDefinition(d models.WorkflowDefinition) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflow_definitions (id, tenant_id, name, status, version, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = $2, name = $3, status = $4, version = $5, payload = $6, updated_at = CURRENT_TIMESTAMP`,
		d.ID, d.TenantID, d.Name, d.Status, d.Version, payload)
	if err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDefinition(id string) (models.WorkflowDefinition, error) {
	var payload []byte
	err := s.db.Get(&payload, "SELECT payload FROM workflow_definitions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowDefinition{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	var d models.WorkflowDefinition
	if err := json.Unmarshal(payload, &d); err != nil {
		return models.WorkflowDefinition{}, fmt.Errorf("get definition %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDefinitions(tenantID string) ([]models.WorkflowDefinition, error) {
	var payloads [][]byte
	var err error
	if tenantID != "" {
		err = s.db.Select(&payloads, "SELECT payload FROM workflow_definitions WHERE tenant_id = $1 ORDER BY created_at DESC", tenantID)
	} else {
		err = s.db.Select(&payloads, "SELECT payload FROM workflow_definitions ORDER BY created_at DESC")
	}
	if err != nil {
		return nil, err
	}
	return unmarshalAll[models.WorkflowDefinition](payloads)
}

// SaveExecution upserts the audit record of an execution. The engine calls it
// on every state change, the terminal write is the one that matters.
func (s *PostgresStore) SaveExecution(e models.WorkflowExecution) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflow_executions (id, workflow_id, tenant_id, status, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET status = $4, payload = $5, updated_at = CURRENT_TIMESTAMP`,
		e.ID, e.WorkflowID, e.TenantID, e.Status, payload)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (models.WorkflowExecution, error) {
	var payload []byte
	err := s.db.Get(&payload, "SELECT payload FROM workflow_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, err
	}
	var e models.WorkflowExecution
	if err := json.Unmarshal(payload, &e); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("get execution %s: %w", id, err)
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	var payloads [][]byte
	err := s.db.Select(&payloads,
		"SELECT payload FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at DESC", workflowID)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[models.WorkflowExecution](payloads)
}

func (s *PostgresStore) SaveApproval(r models.ApprovalRequest) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO approval_requests (id, execution_id, tenant_id, status, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET status = $4, payload = $5, updated_at = CURRENT_TIMESTAMP`,
		r.ID, r.ExecutionID, r.TenantID, r.Status, payload)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApproval(id string) (models.ApprovalRequest, error) {
	var payload []byte
	err := s.db.Get(&payload, "SELECT payload FROM approval_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.ApprovalRequest{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	var r models.ApprovalRequest
	if err := json.Unmarshal(payload, &r); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("get approval %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) SaveSchedule(sw models.ScheduledWorkflow) error {
	payload, err := json.Marshal(sw)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scheduled_workflows (id, workflow_id, tenant_id, active, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE
		SET active = $4, payload = $5, updated_at = CURRENT_TIMESTAMP`,
		sw.ID, sw.WorkflowID, sw.TenantID, sw.Active, payload)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSchedules() ([]models.ScheduledWorkflow, error) {
	var payloads [][]byte
	err := s.db.Select(&payloads, "SELECT payload FROM scheduled_workflows WHERE active ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return unmarshalAll[models.ScheduledWorkflow](payloads)
}

func unmarshalAll[T any](payloads [][]byte) ([]T, error) {
	out := make([]T, 0, len(payloads))
	for _, p := range payloads {
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
