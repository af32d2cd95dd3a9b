package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/expr"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// MaxDelaySeconds caps the Delay action regardless of the configured value.
const MaxDelaySeconds = 300

// handlerContext is what one handler invocation sees: the engine, the
// definition and the execution it runs inside.
type handlerContext struct {
	ctx    context.Context
	eng    *Engine
	def    *models.WorkflowDefinition
	execID string
}

func (hc *handlerContext) scope() expr.Scope {
	return hc.eng.scopeFor(hc.execID)
}

func (hc *handlerContext) exec() *models.WorkflowExecution {
	return hc.eng.execution(hc.execID)
}

// actionHandler executes one action kind. Handlers reach side effects only
// through the engine's collaborators.
type actionHandler interface {
	Execute(hc *handlerContext, action *models.ActionConfig) (any, error)
}

// newHandlerTable builds the closed kind-to-handler dispatch map. Every
// member of models.ActionKinds has exactly one entry.
func newHandlerTable() map[models.ActionKind]actionHandler {
	return map[models.ActionKind]actionHandler{
		models.SendEmailAction:        sendEmailHandler{},
		models.SendNotificationAction: sendNotificationHandler{},
		models.UpdateRecordAction:     updateRecordHandler{},
		models.CreateRecordAction:     createRecordHandler{},
		models.HTTPRequestAction:      httpRequestHandler{},
		models.ExecuteScriptAction:    scriptHandler{},
		models.DelayAction:            delayHandler{},
		models.SetVariableAction:      setVariableHandler{},
		models.LogAction:              logHandler{},
		models.ConditionAction:        conditionHandler{},
		models.ApprovalAction:         approvalHandler{},
		models.ParallelAction:         parallelHandler{},
		models.LoopAction:             loopHandler{},
		models.CallWorkflowAction:     callWorkflowHandler{},
	}
}

func handlerErr(actionID string, err error) error {
	return &HandlerError{ActionID: actionID, Err: err}
}

type sendEmailHandler struct{}

// Params: to ([]string), subject, body. Subject and body support ${} references.
func (sendEmailHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	if hc.eng.collab.Mailer == nil {
		return nil, handlerErr(action.ID, errors.New("no mailer configured"))
	}
	scope := hc.scope()
	to := action.StringsParam("to")
	if len(to) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'to' parameter"))
	}
	subject, err := interpolateString(action.StringParam("subject"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	body, err := interpolateString(action.StringParam("body"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if err := hc.eng.collab.Mailer.SendEmail(hc.ctx, to, subject, body); err != nil {
		return nil, handlerErr(action.ID, err)
	}
	return map[string]any{"sent_to": to}, nil
}

type sendNotificationHandler struct{}

// Params: recipients ([]string), subject, message.
func (sendNotificationHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	if hc.eng.collab.Notifier == nil {
		return nil, handlerErr(action.ID, errors.New("no notifier configured"))
	}
	scope := hc.scope()
	recipients := action.StringsParam("recipients")
	if len(recipients) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'recipients' parameter"))
	}
	subject, err := interpolateString(action.StringParam("subject"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	message, err := interpolateString(action.StringParam("message"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if err := hc.eng.collab.Notifier.Notify(hc.ctx, recipients, subject, message); err != nil {
		return nil, handlerErr(action.ID, err)
	}
	return map[string]any{"notified": recipients}, nil
}

type updateRecordHandler struct{}

// Params: entity_type (defaults to the execution's), entity_id (defaults to
// the execution's), updates (map; string values support ${} references).
func (updateRecordHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	if hc.eng.collab.Records == nil {
		return nil, handlerErr(action.ID, errors.New("no record store configured"))
	}
	exec := hc.exec()
	scope := hc.scope()

	entityType := action.StringParam("entity_type")
	if entityType == "" {
		entityType = exec.EntityType
	}
	entityID, err := interpolateString(action.StringParam("entity_id"), scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if entityID == "" {
		entityID = exec.EntityID
	}
	if entityType == "" || entityID == "" {
		return nil, handlerErr(action.ID, errors.New("missing entity reference"))
	}

	raw := action.MapParam("updates")
	if len(raw) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'updates' parameter"))
	}
	updates, err := resolveValues(raw, scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if err := hc.eng.collab.Records.UpdateRecord(hc.ctx, entityType, entityID, updates); err != nil {
		return nil, handlerErr(action.ID, err)
	}
	return updates, nil
}

type createRecordHandler struct{}

// Params: entity_type, data (map; string values support ${} references).
func (createRecordHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	if hc.eng.collab.Records == nil {
		return nil, handlerErr(action.ID, errors.New("no record store configured"))
	}
	scope := hc.scope()
	entityType := action.StringParam("entity_type")
	if entityType == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'entity_type' parameter"))
	}
	raw := action.MapParam("data")
	if len(raw) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'data' parameter"))
	}
	data, err := resolveValues(raw, scope)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	id, err := hc.eng.collab.Records.CreateRecord(hc.ctx, entityType, data)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	return map[string]any{"id": id}, nil
}

type logHandler struct{}

// Params: message (supports ${} references), level ("info" or "error").
func (logHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	message, err := interpolateString(action.StringParam("message"), hc.scope())
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	if action.StringParam("level") == "error" {
		hc.eng.logger.Errorf("[workflow %s] %s", hc.execID, message)
	} else {
		hc.eng.logger.Infof("[workflow %s] %s", hc.execID, message)
	}
	return message, nil
}

type setVariableHandler struct{}

// Params: name, plus either expression (evaluated in the restricted grammar)
// or value (literal; strings support ${} references and a string that is
// exactly one placeholder keeps the referenced value's type).
func (setVariableHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	name := action.StringParam("name")
	if name == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'name' parameter"))
	}
	scope := hc.scope()

	var value any
	if expression := action.StringParam("expression"); expression != "" {
		v, err := expr.Evaluate(expression, scope)
		if err != nil {
			return nil, handlerErr(action.ID, err)
		}
		value = v
	} else {
		raw, ok := action.Params["value"]
		if !ok {
			return nil, handlerErr(action.ID, errors.New("missing 'value' or 'expression' parameter"))
		}
		v, err := resolveValue(raw, scope)
		if err != nil {
			return nil, handlerErr(action.ID, err)
		}
		value = v
	}

	hc.eng.setVariable(hc.execID, name, value)
	return value, nil
}

type conditionHandler struct{}

// Params: expression (restricted grammar) or conditions (a condition group).
// Output is the boolean verdict the walk branches on.
func (conditionHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	scope := hc.scope()
	if expression := action.StringParam("expression"); expression != "" {
		verdict, err := expr.EvaluateBool(expression, scope)
		if err != nil {
			return nil, handlerErr(action.ID, err)
		}
		return verdict, nil
	}
	raw := action.MapParam("conditions")
	if raw == nil {
		return nil, handlerErr(action.ID, errors.New("missing 'expression' or 'conditions' parameter"))
	}
	group, err := decodeConditionGroup(raw)
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	return expr.EvaluateGroup(group, scope), nil
}

type delayHandler struct{}

// Params: seconds. The wait is capped at MaxDelaySeconds and driven by the
// injected clock; cancellation interrupts it.
func (delayHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	seconds := action.IntParam("seconds", 0)
	if seconds < 0 {
		seconds = 0
	}
	if seconds > MaxDelaySeconds {
		seconds = MaxDelaySeconds
	}
	select {
	case <-hc.eng.collab.Clock.After(time.Duration(seconds) * time.Second):
		return map[string]any{"delayed_seconds": seconds}, nil
	case <-hc.ctx.Done():
		return nil, hc.ctx.Err()
	}
}

type scriptHandler struct{}

// Params: script. Runs in the restricted grammar against an isolated copy of
// the scope; only the explicit result binding comes back.
func (scriptHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	script := action.StringParam("script")
	if script == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'script' parameter"))
	}
	result, err := expr.RunScript(script, hc.scope())
	if err != nil {
		return nil, err // ScriptRejectedError / EvaluationError, captured in the result record
	}
	return result, nil
}

// resolveValue resolves ${} references in string values, recursing into maps
// and lists. Non-string leaves pass through unchanged.
func resolveValue(v any, scope expr.Scope) (any, error) {
	switch v := v.(type) {
	case string:
		return interpolate(v, scope)
	case map[string]any:
		return resolveValues(v, scope)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := resolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

func resolveValues(m map[string]any, scope expr.Scope) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		r, err := resolveValue(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func decodeConditionGroup(raw map[string]any) (*models.ConditionGroup, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var group models.ConditionGroup
	if err := json.Unmarshal(buf, &group); err != nil {
		return nil, errors.Wrap(err, "malformed condition group")
	}
	return &group, nil
}
