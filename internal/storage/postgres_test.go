package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	internal_storage "github.com/MASITH-developpement/Azalscore-sub010/internal/storage"
	"github.com/MASITH-developpement/Azalscore-sub010/internal/testutil"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	sampleDefinition := func(id, tenantID string) models.WorkflowDefinition {
		return models.WorkflowDefinition{
			ID:       id,
			TenantID: tenantID,
			Name:     "Invoice approval",
			Version:  1,
			Status:   models.DraftWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "notify", Kind: models.SendNotificationAction, Params: map[string]any{
					"recipients": []any{"ops"}, "message": "done",
				}},
			},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}

	t.Run("SaveAndGetDefinition", func(t *testing.T) {
		store := newTxStore(t)
		def := sampleDefinition("wf-1", "acme")
		assert.NoError(t, store.SaveDefinition(def))

		saved, err := store.GetDefinition("wf-1")
		assert.NoError(t, err)
		assert.Equal(t, def.Name, saved.Name)
		assert.Equal(t, def.TenantID, saved.TenantID)
		assert.Len(t, saved.Actions, 1)
		assert.Equal(t, models.SendNotificationAction, saved.Actions[0].Kind)
	})

	t.Run("SaveDefinitionUpserts", func(t *testing.T) {
		store := newTxStore(t)
		def := sampleDefinition("wf-upsert", "acme")
		assert.NoError(t, store.SaveDefinition(def))

		def.Name = "Invoice approval v2"
		def.Version = 2
		assert.NoError(t, store.SaveDefinition(def))

		saved, err := store.GetDefinition("wf-upsert")
		assert.NoError(t, err)
		assert.Equal(t, "Invoice approval v2", saved.Name)
		assert.Equal(t, 2, saved.Version)
	})

	t.Run("GetNonExistingDefinition", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetDefinition("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListDefinitionsByTenant", func(t *testing.T) {
		store := newTxStore(t)
		assert.NoError(t, store.SaveDefinition(sampleDefinition("wf-a", "acme")))
		assert.NoError(t, store.SaveDefinition(sampleDefinition("wf-b", "acme")))
		assert.NoError(t, store.SaveDefinition(sampleDefinition("wf-c", "globex")))

		acme, err := store.ListDefinitions("acme")
		assert.NoError(t, err)
		assert.Len(t, acme, 2)

		all, err := store.ListDefinitions("")
		assert.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("SaveAndGetExecution", func(t *testing.T) {
		store := newTxStore(t)
		started := time.Now()
		exec := models.WorkflowExecution{
			ID:          "exec-1",
			WorkflowID:  "wf-1",
			TenantID:    "acme",
			TriggerType: models.ManualTrigger,
			Status:      models.RunningExecutionStatus,
			Variables:   map[string]any{"amount": 1500.0},
			StartedAt:   started,
		}
		assert.NoError(t, store.SaveExecution(exec))

		exec.Status = models.CompletedExecutionStatus
		exec.Results = []models.ActionResult{{ActionID: "notify", Status: models.CompletedActionResult}}
		assert.NoError(t, store.SaveExecution(exec))

		saved, err := store.GetExecution("exec-1")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedExecutionStatus, saved.Status)
		assert.Equal(t, 1500.0, saved.Variables["amount"])
		assert.Len(t, saved.Results, 1)

		execs, err := store.ListExecutions("wf-1")
		assert.NoError(t, err)
		assert.Len(t, execs, 1)
	})

	t.Run("SaveAndGetApproval", func(t *testing.T) {
		store := newTxStore(t)
		req := models.ApprovalRequest{
			ID:          "apr-1",
			ExecutionID: "exec-1",
			TenantID:    "acme",
			ActionID:    "approve",
			Approvers:   []string{"alice", "bob"},
			Policy:      models.ApprovalPolicy{Type: models.AllApproval},
			Status:      models.PendingApprovalStatus,
			CreatedAt:   time.Now(),
		}
		assert.NoError(t, store.SaveApproval(req))

		req.Status = models.ApprovedApprovalStatus
		req.Decisions = []models.ApprovalDecision{{ApproverID: "alice", Approved: true, DecidedAt: time.Now()}}
		assert.NoError(t, store.SaveApproval(req))

		saved, err := store.GetApproval("apr-1")
		assert.NoError(t, err)
		assert.Equal(t, models.ApprovedApprovalStatus, saved.Status)
		assert.Len(t, saved.Decisions, 1)
	})

	t.Run("SaveAndListSchedules", func(t *testing.T) {
		store := newTxStore(t)
		sw := models.ScheduledWorkflow{
			ID:         "sched-1",
			WorkflowID: "wf-1",
			TenantID:   "acme",
			Expression: "0 9 * * 1",
			NextRunAt:  time.Now().Add(time.Hour),
			Active:     true,
		}
		assert.NoError(t, store.SaveSchedule(sw))

		inactive := sw
		inactive.ID = "sched-2"
		inactive.Active = false
		assert.NoError(t, store.SaveSchedule(inactive))

		schedules, err := store.ListSchedules()
		assert.NoError(t, err)
		assert.Len(t, schedules, 1)
		assert.Equal(t, "sched-1", schedules[0].ID)
	})
}
