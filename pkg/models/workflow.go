package models

import "time"

type WorkflowStatus string

const (
	DraftWorkflowStatus    WorkflowStatus = "DRAFT"
	ActiveWorkflowStatus   WorkflowStatus = "ACTIVE"
	PausedWorkflowStatus   WorkflowStatus = "PAUSED"
	ArchivedWorkflowStatus WorkflowStatus = "ARCHIVED"
)

type TriggerType string

const (
	EventTrigger     TriggerType = "EVENT"
	ScheduledTrigger TriggerType = "SCHEDULED"
	ManualTrigger    TriggerType = "MANUAL"
)

// TriggerConfig describes one way a workflow can be started. A workflow may
// carry several triggers; an event trigger may additionally gate on a
// condition group evaluated against the event payload.
type TriggerConfig struct {
	Type       TriggerType     `json:"type"`
	EventName  string          `json:"event_name,omitempty"` // EVENT only
	Schedule   string          `json:"schedule,omitempty"`   // SCHEDULED only, cron expression
	Conditions *ConditionGroup `json:"conditions,omitempty"` // optional gate for EVENT
}

type VariableKind string

const (
	InputVariable    VariableKind = "INPUT"
	OutputVariable   VariableKind = "OUTPUT"
	InternalVariable VariableKind = "INTERNAL"
)

// WorkflowVariable declares a named variable seeded into every execution's scope.
type WorkflowVariable struct {
	Name    string       `json:"name"`
	Kind    VariableKind `json:"kind"`
	Default any          `json:"default,omitempty"`
}

// WorkflowDefinition is the declarative template operators author. It is
// immutable once Active: executions pin the version they started with, so a
// definition is only edited while Draft or Paused.
type WorkflowDefinition struct {
	ID         string             `json:"id" db:"id"`
	TenantID   string             `json:"tenant_id" db:"tenant_id"`
	Name       string             `json:"name" db:"name"`
	Version    int                `json:"version" db:"version"`
	EntityType string             `json:"entity_type" db:"entity_type"` // ERP entity the workflow applies to
	Status     WorkflowStatus     `json:"status" db:"status"`
	Triggers   []TriggerConfig    `json:"triggers"`
	Actions    []ActionConfig     `json:"actions"`
	Variables  []WorkflowVariable `json:"variables,omitempty"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" db:"updated_at"`
}

// Action returns the action node with the given id, or nil.
func (d *WorkflowDefinition) Action(id string) *ActionConfig {
	for i := range d.Actions {
		if d.Actions[i].ID == id {
			return &d.Actions[i]
		}
	}
	return nil
}

// ActionAfter returns the action declared immediately after the given id.
// Used as the routing fallback when a node carries no explicit next edge.
func (d *WorkflowDefinition) ActionAfter(id string) *ActionConfig {
	for i := range d.Actions {
		if d.Actions[i].ID == id && i+1 < len(d.Actions) {
			return &d.Actions[i+1]
		}
	}
	return nil
}
