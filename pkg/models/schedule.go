package models

import "time"

// ScheduledWorkflow tracks one cron-triggered workflow registration. The
// scheduler updates NextRunAt/LastRunAt after each tick.
type ScheduledWorkflow struct {
	ID            string          `json:"id" db:"id"`
	WorkflowID    string          `json:"workflow_id" db:"workflow_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Expression    string          `json:"expression" db:"expression"`
	NextRunAt     time.Time       `json:"next_run_at" db:"next_run_at"`
	LastRunAt     *time.Time      `json:"last_run_at,omitempty" db:"last_run_at"`
	LastRunStatus ExecutionStatus `json:"last_run_status,omitempty" db:"last_run_status"`
	Active        bool            `json:"active" db:"active"`
}
