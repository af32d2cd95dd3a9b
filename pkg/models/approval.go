package models

import "time"

type ApprovalPolicyType string

const (
	AnyApproval       ApprovalPolicyType = "ANY"
	AllApproval       ApprovalPolicyType = "ALL"
	MajorityApproval  ApprovalPolicyType = "MAJORITY"
	ThresholdApproval ApprovalPolicyType = "THRESHOLD"
)

// ApprovalPolicy configures how decisions aggregate into a verdict, plus the
// escalation behaviour applied when the request outlives its expiry.
type ApprovalPolicy struct {
	Type                   ApprovalPolicyType `json:"type"`
	MinApprovals           int                `json:"min_approvals,omitempty"` // THRESHOLD only
	EscalationTimeoutHours int                `json:"escalation_timeout_hours,omitempty"`
	EscalationTo           string             `json:"escalation_to,omitempty"`
	ReminderOffsetsHours   []int              `json:"reminder_offsets_hours,omitempty"`
	AllowDelegation        bool               `json:"allow_delegation,omitempty"`
	RequireComment         bool               `json:"require_comment,omitempty"`
}

type ApprovalStatus string

const (
	PendingApprovalStatus  ApprovalStatus = "PENDING"
	ApprovedApprovalStatus ApprovalStatus = "APPROVED"
	RejectedApprovalStatus ApprovalStatus = "REJECTED"
)

// ApprovalDecision is one approver's vote.
type ApprovalDecision struct {
	ApproverID string    `json:"approver_id" db:"approver_id"`
	Approved   bool      `json:"approved" db:"approved"`
	Comment    string    `json:"comment,omitempty" db:"comment"`
	DecidedAt  time.Time `json:"decided_at" db:"decided_at"`
}

// ApprovalRequest is the human-decision gate parked between an Approval node
// and the resumption of its execution. Once Approved or Rejected it never
// reopens for that node.
type ApprovalRequest struct {
	ID          string             `json:"id" db:"id"`
	ExecutionID string             `json:"execution_id" db:"execution_id"`
	ActionID    string             `json:"action_id" db:"action_id"`
	TenantID    string             `json:"tenant_id" db:"tenant_id"`
	Approvers   []string           `json:"approvers"`
	Policy      ApprovalPolicy     `json:"policy"`
	Status      ApprovalStatus     `json:"status" db:"status"`
	Decisions   []ApprovalDecision `json:"decisions,omitempty"`
	Escalated   bool               `json:"escalated,omitempty" db:"escalated"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty" db:"expires_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
}

// HasDecided reports whether the given approver already voted.
func (r *ApprovalRequest) HasDecided(approverID string) bool {
	for _, d := range r.Decisions {
		if d.ApproverID == approverID {
			return true
		}
	}
	return false
}

// Eligible reports whether the given identity may vote on this request.
func (r *ApprovalRequest) Eligible(approverID string) bool {
	for _, a := range r.Approvers {
		if a == approverID {
			return true
		}
	}
	return false
}
