package engine

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/expr"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// maxChainLength bounds one walk so a cyclic graph cannot spin a goroutine
// forever (grounded on the step-chain limit pattern in workflow engines).
const maxChainLength = 1000

// errParked signals that the walk stopped at an approval gate. The execution
// stays Waiting; a later decision resumes it from the same node.
var errParked = errors.New("execution parked on approval")

// run is the goroutine body of one execution: mark Running, walk the graph
// from the given node, then finalize.
func (e *Engine) run(ctx context.Context, execID, fromActionID string) {
	defer e.wg.Done()

	e.mu.Lock()
	exec, ok := e.executions[execID]
	if !ok || exec.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	exec.Status = models.RunningExecutionStatus
	def := e.definitions[exec.WorkflowID]
	e.mu.Unlock()

	err := e.walk(ctx, def, execID, fromActionID)
	e.finalize(execID, err)
}

// walk advances the execution through the action graph. It returns nil when
// the graph runs out of routable nodes, errParked when an approval gate
// suspends the walk, or the fatal error otherwise.
func (e *Engine) walk(ctx context.Context, def *models.WorkflowDefinition, execID, fromActionID string) error {
	current := def.Action(fromActionID)
	steps := 0

	for current != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		steps++
		if steps > maxChainLength {
			return errors.Errorf("walk exceeded %d steps, aborting (cycle?)", maxChainLength)
		}

		e.setCurrentAction(execID, current.ID)

		// guard: skip the node without executing it
		if current.Guard != nil && !expr.EvaluateGroup(current.Guard, e.scopeFor(execID)) {
			e.appendResult(execID, skippedResult(current.ID, e.collab.Clock.Now()))
			current = e.routeDefault(def, current)
			continue
		}

		output, err := e.executeNode(ctx, def, execID, current, nil)
		if errors.Is(err, errParked) {
			return errParked
		}

		// A rejected approval with no explicit rejection edge fails the
		// execution; wiring on_false_action_id routes it instead.
		if err == nil && current.Kind == models.ApprovalAction {
			if approved, _ := output.(bool); !approved && current.OnFalseActionID == "" {
				return errors.Errorf("approval at action %q was rejected", current.ID)
			}
		}

		if err != nil {
			policy := current.OnError
			if policy == "" {
				policy = models.FailOnError
			}
			switch policy {
			case models.FailOnError:
				return err
			case models.SkipOnError:
				current = e.routeDefault(def, current)
				continue
			case models.ContinueOnError:
				// fall through to routing; a failed condition routes false
				output = false
			}
		}

		current = e.route(def, execID, current, output)
	}
	return nil
}

// route picks the next node after a successfully processed one.
func (e *Engine) route(def *models.WorkflowDefinition, execID string, node *models.ActionConfig, output any) *models.ActionConfig {
	switch node.Kind {
	case models.ConditionAction, models.ApprovalAction:
		verdict, _ := output.(bool)
		if verdict {
			if node.OnTrueActionID != "" {
				return def.Action(node.OnTrueActionID)
			}
			return e.routeDefault(def, node)
		}
		if node.OnFalseActionID != "" {
			return def.Action(node.OnFalseActionID)
		}
		return nil // branch not wired: terminal
	default:
		return e.routeDefault(def, node)
	}
}

// routeDefault follows next_action_id, falling back to declaration order.
func (e *Engine) routeDefault(def *models.WorkflowDefinition, node *models.ActionConfig) *models.ActionConfig {
	if node.NextActionID != "" {
		return def.Action(node.NextActionID)
	}
	return def.ActionAfter(node.ID)
}

// executeNode dispatches one node to its handler and records the result.
// iteration is non-nil for loop body executions.
func (e *Engine) executeNode(ctx context.Context, def *models.WorkflowDefinition, execID string, node *models.ActionConfig, iteration *int) (any, error) {
	handler, ok := e.handlers[node.Kind]
	if !ok {
		err := errors.Errorf("no handler for action kind %q", node.Kind)
		e.appendResult(execID, failedResult(node.ID, e.collab.Clock.Now(), e.collab.Clock.Now(), err, iteration))
		return nil, err
	}

	hc := &handlerContext{ctx: ctx, eng: e, def: def, execID: execID}
	started := e.collab.Clock.Now()
	output, err := handler.Execute(hc, node)
	finished := e.collab.Clock.Now()

	if errors.Is(err, errParked) {
		// no result record for a parked approval: the node has not run yet
		return nil, errParked
	}
	if err != nil {
		e.appendResult(execID, failedResult(node.ID, started, finished, err, iteration))
		e.logger.Errorf("Action %s in execution %s failed: %v", node.ID, execID, err)
		return output, err
	}

	result := models.ActionResult{
		ActionID:   node.ID,
		Status:     models.CompletedActionResult,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		Output:     output,
		Iteration:  iteration,
	}
	e.appendResult(execID, result)
	return output, nil
}

// finalize settles the execution's terminal state after the walk returns.
func (e *Engine) finalize(execID string, walkErr error) {
	e.mu.Lock()
	exec, ok := e.executions[execID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if exec.Status == models.CancelledExecutionStatus {
		// CancelExecution already settled and persisted the record
		e.mu.Unlock()
		return
	}
	if errors.Is(walkErr, errParked) {
		// status already Waiting, approval decision will resume
		snapshot := *exec
		e.mu.Unlock()
		e.persistExecution(snapshot)
		return
	}
	now := e.collab.Clock.Now()
	exec.FinishedAt = &now
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) {
			exec.Status = models.CancelledExecutionStatus
			if exec.ErrorMsg == "" {
				exec.ErrorMsg = "cancelled"
			}
		} else {
			exec.Status = models.FailedExecutionStatus
			exec.ErrorMsg = walkErr.Error()
		}
	} else {
		exec.Status = models.CompletedExecutionStatus
	}
	exec.CurrentActionID = ""
	status := exec.Status
	snapshot := copyExecution(exec)
	delete(e.cancels, execID)
	e.mu.Unlock()

	e.persistExecution(snapshot)
	e.logger.Infof("Execution %s finished with status %s", execID, status)
}

// scopeFor builds the evaluation scope of an execution: its variables, the
// entity snapshot, the trigger payload and the system context.
func (e *Engine) scopeFor(execID string) expr.Scope {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[execID]
	if !ok {
		return expr.Scope{}
	}
	vars := make(map[string]any, len(exec.Variables))
	for k, v := range exec.Variables {
		vars[k] = v
	}
	return expr.Scope{
		"variables": vars,
		"entity":    exec.EntitySnapshot,
		"trigger":   exec.TriggerData,
		"context": map[string]any{
			"execution_id": exec.ID,
			"workflow_id":  exec.WorkflowID,
			"tenant_id":    exec.TenantID,
			"entity_type":  exec.EntityType,
			"entity_id":    exec.EntityID,
		},
	}
}

func (e *Engine) setVariable(execID, name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[execID]; ok {
		exec.Variables[name] = value
	}
}

func (e *Engine) unsetVariable(execID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[execID]; ok {
		delete(exec.Variables, name)
	}
}

func (e *Engine) setCurrentAction(execID, actionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[execID]; ok {
		exec.CurrentActionID = actionID
	}
}

func (e *Engine) appendResult(execID string, result models.ActionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.executions[execID]; ok {
		exec.Results = append(exec.Results, result)
	}
}

func (e *Engine) execution(execID string) *models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executions[execID]
}

func skippedResult(actionID string, at time.Time) models.ActionResult {
	return models.ActionResult{
		ActionID:   actionID,
		Status:     models.SkippedActionResult,
		StartedAt:  at,
		FinishedAt: at,
	}
}

func failedResult(actionID string, started, finished time.Time, err error, iteration *int) models.ActionResult {
	return models.ActionResult{
		ActionID:   actionID,
		Status:     models.FailedActionResult,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		ErrorMsg:   err.Error(),
		Iteration:  iteration,
	}
}

// evaluateTriggerConditions matches an event payload against a trigger's
// condition group. The payload doubles as the scope.
func evaluateTriggerConditions(tr models.TriggerConfig, payload map[string]any) bool {
	if tr.Conditions == nil {
		return true
	}
	scope := make(expr.Scope, len(payload)+1)
	for k, v := range payload {
		scope[k] = v
	}
	scope["event"] = payload
	return expr.EvaluateGroup(tr.Conditions, scope)
}

// interpolate resolves ${...} references in a literal string against the
// scope. Each placeholder body is itself an expression in the restricted
// grammar. A string that is exactly one placeholder keeps the value's type.
func interpolate(s string, scope expr.Scope) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	// typed fast path: the whole string is one placeholder, meaning the "}"
	// closing the leading "${" is the final character
	if strings.HasPrefix(s, "${") && strings.Count(s, "${") == 1 {
		if end := strings.Index(s, "}"); end == len(s)-1 {
			return expr.Evaluate(s[2:end], scope)
		}
	}
	var sb strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		sb.WriteString(rest[:start])
		v, err := expr.Evaluate(rest[start+2:start+end], scope)
		if err != nil {
			return nil, err
		}
		sb.WriteString(expr.Stringify(v))
		rest = rest[start+end+1:]
	}
}

// interpolateString is interpolate for callers that need a string back.
func interpolateString(s string, scope expr.Scope) (string, error) {
	v, err := interpolate(s, scope)
	if err != nil {
		return "", err
	}
	return expr.Stringify(v), nil
}
