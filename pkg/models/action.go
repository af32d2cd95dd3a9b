package models

// ActionKind is the closed set of node types the engine can execute. Adding a
// kind means adding a handler to the engine's dispatch table; the set is kept
// closed so dispatch stays exhaustively checkable.
type ActionKind string

const (
	SendEmailAction        ActionKind = "SEND_EMAIL"
	SendNotificationAction ActionKind = "SEND_NOTIFICATION"
	UpdateRecordAction     ActionKind = "UPDATE_RECORD"
	CreateRecordAction     ActionKind = "CREATE_RECORD"
	HTTPRequestAction      ActionKind = "HTTP_REQUEST"
	ExecuteScriptAction    ActionKind = "EXECUTE_SCRIPT"
	DelayAction            ActionKind = "DELAY"
	SetVariableAction      ActionKind = "SET_VARIABLE"
	LogAction              ActionKind = "LOG"
	ConditionAction        ActionKind = "CONDITION"
	ApprovalAction         ActionKind = "APPROVAL"
	ParallelAction         ActionKind = "PARALLEL"
	LoopAction             ActionKind = "LOOP"
	CallWorkflowAction     ActionKind = "CALL_WORKFLOW"
)

// ActionKinds lists every known kind, in a stable order.
var ActionKinds = []ActionKind{
	SendEmailAction, SendNotificationAction, UpdateRecordAction,
	CreateRecordAction, HTTPRequestAction, ExecuteScriptAction, DelayAction,
	SetVariableAction, LogAction, ConditionAction, ApprovalAction,
	ParallelAction, LoopAction, CallWorkflowAction,
}

// OnErrorPolicy governs routing after a node's handler fails.
type OnErrorPolicy string

const (
	FailOnError     OnErrorPolicy = "FAIL"     // abort the execution
	ContinueOnError OnErrorPolicy = "CONTINUE" // route as if the node succeeded
	SkipOnError     OnErrorPolicy = "SKIP"     // follow next_action_id, ignore branches
)

// ActionConfig is one node in a workflow's action graph. Kind-specific
// parameters live in the Params map; the handlers document the keys they read.
type ActionConfig struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Kind   ActionKind     `json:"kind"`
	Params map[string]any `json:"params,omitempty"`

	// Guard: when present and false, the node is skipped without executing.
	Guard *ConditionGroup `json:"guard,omitempty"`

	NextActionID    string `json:"next_action_id,omitempty"`
	OnTrueActionID  string `json:"on_true_action_id,omitempty"`  // CONDITION only
	OnFalseActionID string `json:"on_false_action_id,omitempty"` // CONDITION only

	OnError OnErrorPolicy `json:"on_error,omitempty"`
}

// StringParam reads a string parameter, returning "" when absent or mistyped.
func (a *ActionConfig) StringParam(key string) string {
	if v, ok := a.Params[key].(string); ok {
		return v
	}
	return ""
}

// BoolParam reads a boolean parameter, defaulting to def.
func (a *ActionConfig) BoolParam(key string, def bool) bool {
	if v, ok := a.Params[key].(bool); ok {
		return v
	}
	return def
}

// IntParam reads a numeric parameter, defaulting to def. JSON decoding yields
// float64 for numbers, so both forms are accepted.
func (a *ActionConfig) IntParam(key string, def int) int {
	switch v := a.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringsParam reads a list-of-strings parameter.
func (a *ActionConfig) StringsParam(key string) []string {
	switch v := a.Params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MapParam reads a map parameter.
func (a *ActionConfig) MapParam(key string) map[string]any {
	if v, ok := a.Params[key].(map[string]any); ok {
		return v
	}
	return nil
}
