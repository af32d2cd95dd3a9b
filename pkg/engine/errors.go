package engine

import "fmt"

// HandlerError wraps a collaborator failure inside an action handler.
type HandlerError struct {
	ActionID string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.ActionID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// SSRFBlockedError reports an HTTP action target that failed the pre-flight
// safety check. The request is never sent.
type SSRFBlockedError struct {
	URL    string
	Reason string
}

func (e *SSRFBlockedError) Error() string {
	return fmt.Sprintf("unsafe http target %q: %s", e.URL, e.Reason)
}

// ApprovalError reports an invalid ProcessApproval call: unknown request,
// ineligible approver, duplicate vote or already-resolved request. It is
// returned synchronously and never mutates state.
type ApprovalError struct {
	RequestID string
	Reason    string
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("approval %q: %s", e.RequestID, e.Reason)
}
