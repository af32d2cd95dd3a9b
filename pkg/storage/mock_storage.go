package storage

import (
	"sync"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// mockStore implements Store with in-memory maps. Saves are upserts; Begin
// returns the same store so transactional callers work unchanged in tests.
type mockStore struct {
	mu          sync.RWMutex
	definitions map[string]models.WorkflowDefinition
	executions  map[string]models.WorkflowExecution
	approvals   map[string]models.ApprovalRequest
	schedules   map[string]models.ScheduledWorkflow
}

// NewMockStore creates an empty in-memory store for testing.
func NewMockStore() Store {
	return &mockStore{
		definitions: make(map[string]models.WorkflowDefinition),
		executions:  make(map[string]models.WorkflowExecution),
		approvals:   make(map[string]models.ApprovalRequest),
		schedules:   make(map[string]models.ScheduledWorkflow),
	}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveDefinition(d models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[d.ID] = d
	return nil
}

func (m *mockStore) GetDefinition(id string) (models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.definitions[id]
	if !ok {
		return models.WorkflowDefinition{}, ErrNotFound
	}
	return d, nil
}

func (m *mockStore) ListDefinitions(tenantID string) ([]models.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.WorkflowDefinition{}
	for _, d := range m.definitions {
		if tenantID == "" || d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) SaveExecution(e models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = e
	return nil
}

func (m *mockStore) GetExecution(id string) (models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return models.WorkflowExecution{}, ErrNotFound
	}
	return e, nil
}

func (m *mockStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.WorkflowExecution{}
	for _, e := range m.executions {
		if workflowID == "" || e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) SaveApproval(r models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[r.ID] = r
	return nil
}

func (m *mockStore) GetApproval(id string) (models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.approvals[id]
	if !ok {
		return models.ApprovalRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *mockStore) SaveSchedule(s models.ScheduledWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *mockStore) ListSchedules() ([]models.ScheduledWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ScheduledWorkflow{}
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, nil
}
