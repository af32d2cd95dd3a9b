package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

type approvalHandler struct{}

// Params: approvers ([]string), policy (map: type, min_approvals,
// escalation_timeout_hours, escalation_to, reminder_offsets_hours,
// allow_delegation, require_comment).
//
// First visit creates the request and parks the execution. Re-entry after a
// decision finds the resolved request and returns its verdict as the output
// the walk branches on; a request never reopens for its node.
func (approvalHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	eng := hc.eng

	eng.mu.Lock()
	existing := eng.findApprovalLocked(hc.execID, action.ID)
	if existing != nil {
		switch existing.Status {
		case models.ApprovedApprovalStatus:
			eng.mu.Unlock()
			return true, nil
		case models.RejectedApprovalStatus:
			eng.mu.Unlock()
			return false, nil
		default:
			// still pending (e.g. a resumed walk landed here again): keep waiting
			eng.mu.Unlock()
			return nil, errParked
		}
	}

	approvers := action.StringsParam("approvers")
	if len(approvers) == 0 {
		eng.mu.Unlock()
		return nil, handlerErr(action.ID, errors.New("missing 'approvers' parameter"))
	}
	policy, err := decodeApprovalPolicy(action.MapParam("policy"))
	if err != nil {
		eng.mu.Unlock()
		return nil, handlerErr(action.ID, err)
	}

	exec := eng.executions[hc.execID]
	now := eng.collab.Clock.Now()
	req := &models.ApprovalRequest{
		ID:          uuid.New().String(),
		ExecutionID: hc.execID,
		ActionID:    action.ID,
		TenantID:    exec.TenantID,
		Approvers:   approvers,
		Policy:      policy,
		Status:      models.PendingApprovalStatus,
		CreatedAt:   now,
	}
	if policy.EscalationTimeoutHours > 0 {
		expiry := now.Add(time.Duration(policy.EscalationTimeoutHours) * time.Hour)
		req.ExpiresAt = &expiry
	}
	eng.approvals[req.ID] = req
	exec.Status = models.WaitingExecutionStatus
	snapshot := *req
	eng.mu.Unlock()

	if err := eng.store.SaveApproval(snapshot); err != nil {
		eng.logger.Errorf("Failed to persist approval request %s: %v", snapshot.ID, err)
	}
	if eng.collab.Notifier != nil {
		if err := eng.collab.Notifier.Notify(hc.ctx, approvers, "Approval required",
			"Workflow execution "+hc.execID+" is waiting for your decision"); err != nil {
			eng.logger.Errorf("Failed to notify approvers for request %s: %v", snapshot.ID, err)
		}
	}
	eng.logger.Infof("Execution %s parked on approval request %s (%s, %d approvers)",
		hc.execID, snapshot.ID, policy.Type, len(approvers))
	return nil, errParked
}

func decodeApprovalPolicy(raw map[string]any) (models.ApprovalPolicy, error) {
	policy := models.ApprovalPolicy{Type: models.AnyApproval}
	if raw == nil {
		return policy, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return policy, err
	}
	if err := json.Unmarshal(buf, &policy); err != nil {
		return policy, errors.Wrap(err, "malformed approval policy")
	}
	switch policy.Type {
	case models.AnyApproval, models.AllApproval, models.MajorityApproval, models.ThresholdApproval:
	case "":
		policy.Type = models.AnyApproval
	default:
		return policy, errors.Errorf("unknown approval policy type %q", policy.Type)
	}
	if policy.Type == models.ThresholdApproval && policy.MinApprovals <= 0 {
		return policy, errors.New("threshold policy requires min_approvals > 0")
	}
	return policy, nil
}

// findApprovalLocked locates the request for an (execution, action) pair.
// Callers hold e.mu.
func (e *Engine) findApprovalLocked(execID, actionID string) *models.ApprovalRequest {
	for _, req := range e.approvals {
		if req.ExecutionID == execID && req.ActionID == actionID {
			return req
		}
	}
	return nil
}

// GetApproval returns a copy of an approval request.
func (e *Engine) GetApproval(id string) (models.ApprovalRequest, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	req, ok := e.approvals[id]
	if !ok {
		return models.ApprovalRequest{}, &ApprovalError{RequestID: id, Reason: "unknown request"}
	}
	return copyApproval(req), nil
}

// PendingApprovals lists the pending requests for a tenant ("" for all).
func (e *Engine) PendingApprovals(tenantID string) []models.ApprovalRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []models.ApprovalRequest{}
	for _, req := range e.approvals {
		if req.Status != models.PendingApprovalStatus {
			continue
		}
		if tenantID == "" || req.TenantID == tenantID {
			out = append(out, copyApproval(req))
		}
	}
	return out
}

// ProcessApproval records one approver's decision. Invalid calls (unknown
// request, resolved request, ineligible approver, duplicate vote, missing
// required comment) error without mutating state. When the decision resolves
// the request, the parked execution resumes automatically.
func (e *Engine) ProcessApproval(requestID, approverID string, approved bool, comment string) error {
	e.mu.Lock()
	req, ok := e.approvals[requestID]
	if !ok {
		e.mu.Unlock()
		return &ApprovalError{RequestID: requestID, Reason: "unknown request"}
	}
	if req.Status != models.PendingApprovalStatus {
		e.mu.Unlock()
		return &ApprovalError{RequestID: requestID, Reason: "request is already " + string(req.Status)}
	}
	if !req.Eligible(approverID) {
		e.mu.Unlock()
		return &ApprovalError{RequestID: requestID, Reason: "approver " + approverID + " is not eligible"}
	}
	if req.HasDecided(approverID) {
		e.mu.Unlock()
		return &ApprovalError{RequestID: requestID, Reason: "approver " + approverID + " already voted"}
	}
	if req.Policy.RequireComment && comment == "" {
		e.mu.Unlock()
		return &ApprovalError{RequestID: requestID, Reason: "a comment is required"}
	}

	req.Decisions = append(req.Decisions, models.ApprovalDecision{
		ApproverID: approverID,
		Approved:   approved,
		Comment:    comment,
		DecidedAt:  e.collab.Clock.Now(),
	})
	e.aggregateLocked(req)
	resolved := req.Status != models.PendingApprovalStatus
	snapshot := copyApproval(req)
	execID := req.ExecutionID
	actionID := req.ActionID
	e.mu.Unlock()

	if err := e.store.SaveApproval(snapshot); err != nil {
		e.logger.Errorf("Failed to persist approval request %s: %v", requestID, err)
	}
	e.logger.Infof("Approval %s: %s voted %v (now %s)", requestID, approverID, approved, snapshot.Status)

	if resolved {
		e.resumeFromApproval(execID, actionID)
	}
	return nil
}

// aggregateLocked applies the policy after each decision. Callers hold e.mu.
//
// Rejection short-circuits for ANY and ALL. MAJORITY and THRESHOLD resolve to
// Rejected only once the remaining undecided votes cannot reach the bar.
func (e *Engine) aggregateLocked(req *models.ApprovalRequest) {
	var approvedCount, rejectedCount int
	for _, d := range req.Decisions {
		if d.Approved {
			approvedCount++
		} else {
			rejectedCount++
		}
	}
	eligible := len(req.Approvers)
	undecided := eligible - approvedCount - rejectedCount

	switch req.Policy.Type {
	case models.AnyApproval:
		if rejectedCount > 0 {
			e.resolveLocked(req, models.RejectedApprovalStatus)
		} else if approvedCount > 0 {
			e.resolveLocked(req, models.ApprovedApprovalStatus)
		}
	case models.AllApproval:
		if rejectedCount > 0 {
			e.resolveLocked(req, models.RejectedApprovalStatus)
		} else if approvedCount >= eligible {
			e.resolveLocked(req, models.ApprovedApprovalStatus)
		}
	case models.MajorityApproval:
		if approvedCount*2 > eligible {
			e.resolveLocked(req, models.ApprovedApprovalStatus)
		} else if (approvedCount+undecided)*2 <= eligible {
			e.resolveLocked(req, models.RejectedApprovalStatus)
		}
	case models.ThresholdApproval:
		if approvedCount >= req.Policy.MinApprovals {
			e.resolveLocked(req, models.ApprovedApprovalStatus)
		} else if approvedCount+undecided < req.Policy.MinApprovals {
			e.resolveLocked(req, models.RejectedApprovalStatus)
		}
	}
}

func (e *Engine) resolveLocked(req *models.ApprovalRequest, status models.ApprovalStatus) {
	req.Status = status
	now := e.collab.Clock.Now()
	req.ResolvedAt = &now
}

// resumeFromApproval relaunches the parked execution's walk at the approval
// node; the handler re-entry sees the resolved request and routes on it.
func (e *Engine) resumeFromApproval(execID, actionID string) {
	e.mu.Lock()
	exec, ok := e.executions[execID]
	if !ok || exec.Status != models.WaitingExecutionStatus {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.cancels[execID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx, execID, actionID)
}

func copyApproval(req *models.ApprovalRequest) models.ApprovalRequest {
	out := *req
	out.Approvers = append([]string(nil), req.Approvers...)
	out.Decisions = append([]models.ApprovalDecision(nil), req.Decisions...)
	return out
}
