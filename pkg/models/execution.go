package models

import "time"

type ExecutionStatus string

const (
	PendingExecutionStatus   ExecutionStatus = "PENDING"
	RunningExecutionStatus   ExecutionStatus = "RUNNING"
	WaitingExecutionStatus   ExecutionStatus = "WAITING"
	CompletedExecutionStatus ExecutionStatus = "COMPLETED"
	FailedExecutionStatus    ExecutionStatus = "FAILED"
	CancelledExecutionStatus ExecutionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == CompletedExecutionStatus || s == FailedExecutionStatus || s == CancelledExecutionStatus
}

type ActionResultStatus string

const (
	CompletedActionResult ActionResultStatus = "COMPLETED"
	FailedActionResult    ActionResultStatus = "FAILED"
	SkippedActionResult   ActionResultStatus = "SKIPPED"
)

// ActionResult is the append-only record of one executed node. Loop iterations
// append one result per iteration, tagged with the iteration index.
type ActionResult struct {
	ActionID   string             `json:"action_id" db:"action_id"`
	Status     ActionResultStatus `json:"status" db:"status"`
	StartedAt  time.Time          `json:"started_at" db:"started_at"`
	FinishedAt time.Time          `json:"finished_at" db:"finished_at"`
	DurationMs int64              `json:"duration_ms" db:"duration_ms"`
	Output     any                `json:"output,omitempty"`
	ErrorMsg   string             `json:"error,omitempty" db:"error_msg"`
	Iteration  *int               `json:"iteration,omitempty"` // LOOP iterations only
}

// WorkflowExecution is one run of a definition. The engine is the sole writer
// while the run is live; once Status is terminal the record never changes.
type WorkflowExecution struct {
	ID              string          `json:"id" db:"id"`
	WorkflowID      string          `json:"workflow_id" db:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version" db:"workflow_version"` // pinned at start
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	TriggerType     TriggerType     `json:"trigger_type" db:"trigger_type"`
	TriggerData     map[string]any  `json:"trigger_data,omitempty"`
	EntityType      string          `json:"entity_type" db:"entity_type"`
	EntityID        string          `json:"entity_id" db:"entity_id"`
	EntitySnapshot  map[string]any  `json:"entity_snapshot,omitempty"`
	Status          ExecutionStatus `json:"status" db:"status"`
	CurrentActionID string          `json:"current_action_id,omitempty" db:"current_action_id"`
	Variables       map[string]any  `json:"variables,omitempty"`
	Results         []ActionResult  `json:"results,omitempty"`
	ErrorMsg        string          `json:"error,omitempty" db:"error_msg"`
	ParentID        string          `json:"parent_execution_id,omitempty" db:"parent_execution_id"`
	StartedAt       time.Time       `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}
