package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

// Engine executes workflow definitions. It is the exclusive owner of the
// in-memory definition, execution, approval and schedule registries; every
// mutation goes through its mutex. One engine instance per process.
type Engine struct {
	ctx    context.Context
	store  storage.Store
	logger Logger
	collab Collaborators

	handlers map[models.ActionKind]actionHandler

	mu          sync.RWMutex
	definitions map[string]*models.WorkflowDefinition
	executions  map[string]*models.WorkflowExecution
	approvals   map[string]*models.ApprovalRequest
	schedules   map[string]*models.ScheduledWorkflow
	cancels     map[string]context.CancelFunc
	wg          sync.WaitGroup
}

// NewEngine wires an engine with its collaborators. A nil Clock falls back to
// the system clock; a nil HTTP client gets the hardened default from the HTTP
// action handler.
func NewEngine(mainCtx context.Context, store storage.Store, collab Collaborators, logger Logger) *Engine {
	if collab.Clock == nil {
		collab.Clock = SystemClock()
	}
	e := &Engine{
		ctx:         mainCtx,
		store:       store,
		logger:      logger,
		collab:      collab,
		definitions: make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.WorkflowExecution),
		approvals:   make(map[string]*models.ApprovalRequest),
		schedules:   make(map[string]*models.ScheduledWorkflow),
		cancels:     make(map[string]context.CancelFunc),
	}
	e.handlers = newHandlerTable()
	return e
}

// RegisterDefinition validates and registers a workflow definition, persisting
// it and creating schedule entries for its scheduled triggers. Invalid graphs
// are rejected here, before any execution can reference them.
func (e *Engine) RegisterDefinition(def models.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	// validate schedule expressions up front as well
	for _, tr := range def.Triggers {
		if tr.Type == models.ScheduledTrigger {
			if _, err := cron.ParseStandard(tr.Schedule); err != nil {
				return &models.DefinitionError{
					WorkflowID: def.ID,
					Reason:     fmt.Sprintf("invalid schedule expression %q: %v", tr.Schedule, err),
				}
			}
		}
	}

	if err := e.store.SaveDefinition(def); err != nil {
		return errors.Wrap(err, "persist definition")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = &def

	now := e.collab.Clock.Now()
	for _, tr := range def.Triggers {
		if tr.Type != models.ScheduledTrigger {
			continue
		}
		schedule, _ := cron.ParseStandard(tr.Schedule)
		sw := &models.ScheduledWorkflow{
			ID:         uuid.New().String(),
			WorkflowID: def.ID,
			TenantID:   def.TenantID,
			Expression: tr.Schedule,
			NextRunAt:  schedule.Next(now),
			Active:     def.Status == models.ActiveWorkflowStatus,
		}
		e.schedules[sw.ID] = sw
		if err := e.store.SaveSchedule(*sw); err != nil {
			e.logger.Errorf("Failed to persist schedule for workflow %s: %v", def.ID, err)
		}
	}
	e.logger.Infof("Registered workflow %s (%s) version %d", def.ID, def.Name, def.Version)
	return nil
}

// GetDefinition returns a registered definition.
func (e *Engine) GetDefinition(id string) (models.WorkflowDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[id]
	if !ok {
		return models.WorkflowDefinition{}, errors.Wrapf(storage.ErrNotFound, "workflow %s", id)
	}
	return *def, nil
}

// ListDefinitions returns the definitions registered for a tenant ("" for all).
func (e *Engine) ListDefinitions(tenantID string) []models.WorkflowDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.WorkflowDefinition{}
	for _, def := range e.definitions {
		if tenantID == "" || def.TenantID == tenantID {
			out = append(out, *def)
		}
	}
	return out
}

// StartOptions carries the trigger context for a new execution.
type StartOptions struct {
	TriggerType models.TriggerType
	TriggerData map[string]any
	EntityType  string
	EntityID    string
	Input       map[string]any // merged over declared variable defaults
	ParentID    string         // set for sub-workflow calls
}

// StartExecution instantiates and launches one run of an active definition.
// The walk happens on its own goroutine; the returned id can be used to poll.
func (e *Engine) StartExecution(workflowID string, opts StartOptions) (string, error) {
	e.mu.RLock()
	def, ok := e.definitions[workflowID]
	e.mu.RUnlock()
	if !ok {
		return "", errors.Wrapf(storage.ErrNotFound, "workflow %s", workflowID)
	}
	if def.Status != models.ActiveWorkflowStatus {
		return "", errors.Errorf("workflow %s is %s, not active", workflowID, def.Status)
	}
	if opts.TriggerType == "" {
		opts.TriggerType = models.ManualTrigger
	}

	vars := make(map[string]any)
	for _, v := range def.Variables {
		if v.Default != nil {
			vars[v.Name] = v.Default
		}
	}
	for k, v := range opts.Input {
		vars[k] = v
	}

	entityType := opts.EntityType
	if entityType == "" {
		entityType = def.EntityType
	}
	var snapshot map[string]any
	if opts.EntityID != "" && e.collab.Entities != nil {
		snap, err := e.collab.Entities.LoadEntity(e.ctx, entityType, opts.EntityID, def.TenantID)
		if err != nil {
			return "", errors.Wrapf(err, "load entity %s/%s", entityType, opts.EntityID)
		}
		snapshot = snap
	}

	now := e.collab.Clock.Now()
	exec := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		TenantID:        def.TenantID,
		TriggerType:     opts.TriggerType,
		TriggerData:     opts.TriggerData,
		EntityType:      entityType,
		EntityID:        opts.EntityID,
		EntitySnapshot:  snapshot,
		Status:          models.PendingExecutionStatus,
		Variables:       vars,
		ParentID:        opts.ParentID,
		StartedAt:       now,
	}

	execCtx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(execCtx, exec.ID, def.Actions[0].ID)

	e.logger.Infof("Started execution %s of workflow %s (trigger %s)", exec.ID, def.ID, opts.TriggerType)
	return exec.ID, nil
}

// TriggerEvent fans an event out to every active definition of the tenant
// that subscribes to it. The payload is matched against each trigger's
// condition group and merged into the started executions' variable scope.
// Returns the ids of the executions started.
func (e *Engine) TriggerEvent(eventName string, payload map[string]any, tenantID string) ([]string, error) {
	e.mu.RLock()
	var matched []string
	for _, def := range e.definitions {
		if def.TenantID != tenantID || def.Status != models.ActiveWorkflowStatus {
			continue
		}
		for _, tr := range def.Triggers {
			if tr.Type != models.EventTrigger || tr.EventName != eventName {
				continue
			}
			if !evaluateTriggerConditions(tr, payload) {
				continue
			}
			matched = append(matched, def.ID)
			break
		}
	}
	e.mu.RUnlock()

	started := []string{}
	for _, workflowID := range matched {
		entityType, _ := payload["entity_type"].(string)
		entityID, _ := payload["entity_id"].(string)
		id, err := e.StartExecution(workflowID, StartOptions{
			TriggerType: models.EventTrigger,
			TriggerData: payload,
			EntityType:  entityType,
			EntityID:    entityID,
			Input:       payload,
		})
		if err != nil {
			e.logger.Errorf("Failed to start workflow %s for event %s: %v", workflowID, eventName, err)
			continue
		}
		started = append(started, id)
	}
	return started, nil
}

// CancelExecution cooperatively cancels a live execution. In-flight handler
// calls are allowed to finish; routing stops at the next checkpoint.
func (e *Engine) CancelExecution(id, reason string) error {
	e.mu.Lock()
	exec, ok := e.executions[id]
	if !ok {
		e.mu.Unlock()
		return errors.Wrapf(storage.ErrNotFound, "execution %s", id)
	}
	if exec.Status.Terminal() {
		e.mu.Unlock()
		return errors.Errorf("execution %s is already %s", id, exec.Status)
	}
	exec.Status = models.CancelledExecutionStatus
	exec.ErrorMsg = reason
	now := e.collab.Clock.Now()
	exec.FinishedAt = &now
	cancel := e.cancels[id]
	snapshot := *exec
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.persistExecution(snapshot)
	e.logger.Infof("Cancelled execution %s: %s", id, reason)
	return nil
}

// GetExecution returns a copy of an execution's current state.
func (e *Engine) GetExecution(id string) (models.WorkflowExecution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[id]
	if !ok {
		return models.WorkflowExecution{}, errors.Wrapf(storage.ErrNotFound, "execution %s", id)
	}
	return copyExecution(exec), nil
}

// ListExecutions returns the executions of a workflow ("" for all).
func (e *Engine) ListExecutions(workflowID string) []models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.WorkflowExecution{}
	for _, exec := range e.executions {
		if workflowID == "" || exec.WorkflowID == workflowID {
			out = append(out, copyExecution(exec))
		}
	}
	return out
}

// Wait blocks until every in-flight execution goroutine has returned. Parked
// (Waiting) executions do not hold goroutines, so Wait does not wait for
// pending approvals.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// WaitFor polls until the execution reaches a terminal state or the context
// expires. Used by tests and by synchronous sub-workflow calls.
func (e *Engine) WaitFor(ctx context.Context, id string) (models.WorkflowExecution, error) {
	for {
		exec, err := e.GetExecution(id)
		if err != nil {
			return models.WorkflowExecution{}, err
		}
		if exec.Status.Terminal() {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (e *Engine) executionStatus(id string) (models.ExecutionStatus, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[id]
	if !ok {
		return "", ""
	}
	return exec.Status, exec.ErrorMsg
}

func (e *Engine) persistExecution(exec models.WorkflowExecution) {
	if err := e.store.SaveExecution(exec); err != nil {
		e.logger.Errorf("Failed to persist execution %s: %v", exec.ID, err)
	}
}

func copyExecution(exec *models.WorkflowExecution) models.WorkflowExecution {
	out := *exec
	out.Results = append([]models.ActionResult(nil), exec.Results...)
	vars := make(map[string]any, len(exec.Variables))
	for k, v := range exec.Variables {
		vars[k] = v
	}
	out.Variables = vars
	return out
}
