package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// DefaultSchedulerInterval is how often the scheduler wakes up when no
// interval is configured.
const DefaultSchedulerInterval = 30 * time.Second

// Scheduler drives time-triggered workflows and the approval expiry reaper.
// It shares the engine's clock so tests can tick deterministically.
type Scheduler struct {
	eng      *Engine
	logger   Logger
	interval time.Duration
}

func NewScheduler(eng *Engine, interval time.Duration, logger Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{eng: eng, logger: logger, interval: interval}
}

// Start runs the periodic tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.eng.collab.Clock.After(s.interval):
				s.Tick(ctx)
			}
		}
	}()
}

// Tick performs one scheduler pass: start due scheduled workflows, then reap
// expired approval requests. Exported so tests (and callers embedding their
// own loop) can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.eng.collab.Clock.Now()
	s.runDueSchedules(now)
	s.reapExpiredApprovals(ctx, now)
}

func (s *Scheduler) runDueSchedules(now time.Time) {
	s.eng.mu.Lock()
	var due []*models.ScheduledWorkflow
	for _, sw := range s.eng.schedules {
		if sw.Active && !sw.NextRunAt.After(now) {
			due = append(due, sw)
		}
	}
	s.eng.mu.Unlock()

	for _, sw := range due {
		execID, err := s.eng.StartExecution(sw.WorkflowID, StartOptions{
			TriggerType: models.ScheduledTrigger,
			TriggerData: map[string]any{"scheduled_at": now.Format(time.RFC3339)},
		})

		status := models.PendingExecutionStatus
		if err != nil {
			s.logger.Errorf("Scheduled start of workflow %s failed: %v", sw.WorkflowID, err)
			status = models.FailedExecutionStatus
		} else {
			s.logger.Infof("Scheduled run of workflow %s started execution %s", sw.WorkflowID, execID)
		}

		schedule, parseErr := cron.ParseStandard(sw.Expression)

		s.eng.mu.Lock()
		sw.LastRunAt = &now
		sw.LastRunStatus = status
		if parseErr != nil {
			// expression was validated at registration; deactivate rather
			// than spin on one we can no longer parse
			sw.Active = false
		} else {
			sw.NextRunAt = schedule.Next(now)
		}
		snapshot := *sw
		s.eng.mu.Unlock()

		if err := s.eng.store.SaveSchedule(snapshot); err != nil {
			s.logger.Errorf("Failed to persist schedule %s: %v", sw.ID, err)
		}
	}
}

// reapExpiredApprovals escalates a pending request past its expiry once
// (handing it to the escalation target with a fresh expiry window), and
// auto-rejects it when there is no target left to escalate to.
func (s *Scheduler) reapExpiredApprovals(ctx context.Context, now time.Time) {
	s.eng.mu.Lock()
	var expired []*models.ApprovalRequest
	for _, req := range s.eng.approvals {
		if req.Status == models.PendingApprovalStatus && req.ExpiresAt != nil && req.ExpiresAt.Before(now) {
			expired = append(expired, req)
		}
	}

	type resumeTarget struct{ execID, actionID string }
	var resumes []resumeTarget
	var persists []models.ApprovalRequest
	var notifies []models.ApprovalRequest

	for _, req := range expired {
		if !req.Escalated && req.Policy.EscalationTo != "" {
			req.Escalated = true
			req.Approvers = append(req.Approvers, req.Policy.EscalationTo)
			window := time.Duration(req.Policy.EscalationTimeoutHours) * time.Hour
			if window <= 0 {
				window = 24 * time.Hour
			}
			expiry := now.Add(window)
			req.ExpiresAt = &expiry
			persists = append(persists, copyApproval(req))
			notifies = append(notifies, copyApproval(req))
			continue
		}
		// nothing left to escalate to: the gate times out as a rejection
		req.Decisions = append(req.Decisions, models.ApprovalDecision{
			ApproverID: "system",
			Approved:   false,
			Comment:    "expired without a decision",
			DecidedAt:  now,
		})
		s.eng.resolveLocked(req, models.RejectedApprovalStatus)
		persists = append(persists, copyApproval(req))
		resumes = append(resumes, resumeTarget{execID: req.ExecutionID, actionID: req.ActionID})
	}
	s.eng.mu.Unlock()

	for _, snapshot := range persists {
		if err := s.eng.store.SaveApproval(snapshot); err != nil {
			s.logger.Errorf("Failed to persist approval request %s: %v", snapshot.ID, err)
		}
	}
	for _, req := range notifies {
		s.logger.Infof("Approval request %s escalated to %s", req.ID, req.Policy.EscalationTo)
		if s.eng.collab.Notifier != nil {
			if err := s.eng.collab.Notifier.Notify(ctx, []string{req.Policy.EscalationTo},
				"Approval escalated", "Approval request "+req.ID+" was escalated to you"); err != nil {
				s.logger.Errorf("Failed to notify escalation target for %s: %v", req.ID, err)
			}
		}
	}
	for _, target := range resumes {
		s.logger.Infof("Approval on execution %s expired, resuming as rejected", target.execID)
		s.eng.resumeFromApproval(target.execID, target.actionID)
	}
}
