package models

import "fmt"

// DefinitionError reports a structurally invalid workflow definition. It is
// raised at registration time, before any execution can reference the
// definition.
type DefinitionError struct {
	WorkflowID string
	Reason     string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid workflow definition %q: %s", e.WorkflowID, e.Reason)
}

// Validate checks the structural invariants of a definition: at least one
// action, unique action ids, every edge (next/on_true/on_false, parallel
// branch and loop body ids) resolving to a node in the same definition,
// no approval gate inside a parallel branch or loop body, and no composite
// referencing itself through branches or bodies.
func (d *WorkflowDefinition) Validate() error {
	fail := func(format string, args ...any) error {
		return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if len(d.Actions) == 0 {
		return fail("workflow has no actions")
	}

	kinds := make(map[string]ActionKind, len(d.Actions))
	for _, a := range d.Actions {
		if a.ID == "" {
			return fail("action with empty id")
		}
		if _, dup := kinds[a.ID]; dup {
			return fail("duplicate action id %q", a.ID)
		}
		kinds[a.ID] = a.Kind
	}

	resolves := func(id string) bool {
		if id == "" {
			return true // empty edge is terminal
		}
		_, ok := kinds[id]
		return ok
	}

	for _, a := range d.Actions {
		if !resolves(a.NextActionID) {
			return fail("action %q: next_action_id %q does not resolve", a.ID, a.NextActionID)
		}
		if !resolves(a.OnTrueActionID) {
			return fail("action %q: on_true_action_id %q does not resolve", a.ID, a.OnTrueActionID)
		}
		if !resolves(a.OnFalseActionID) {
			return fail("action %q: on_false_action_id %q does not resolve", a.ID, a.OnFalseActionID)
		}
		switch a.Kind {
		case ParallelAction:
			for _, branch := range a.StringsParam("branch_action_ids") {
				if !resolves(branch) {
					return fail("action %q: parallel branch %q does not resolve", a.ID, branch)
				}
				if kinds[branch] == ApprovalAction {
					return fail("action %q: parallel branch %q is an approval gate; approvals cannot suspend inside a composite", a.ID, branch)
				}
			}
		case LoopAction:
			for _, body := range a.StringsParam("body_action_ids") {
				if !resolves(body) {
					return fail("action %q: loop body action %q does not resolve", a.ID, body)
				}
				if kinds[body] == ApprovalAction {
					return fail("action %q: loop body %q is an approval gate; approvals cannot suspend inside a composite", a.ID, body)
				}
			}
		}
		switch a.OnError {
		case "", FailOnError, ContinueOnError, SkipOnError:
		default:
			return fail("action %q: unknown on_error policy %q", a.ID, a.OnError)
		}
	}

	if cycleID := d.compositeCycle(); cycleID != "" {
		return fail("action %q: composite reference cycle", cycleID)
	}

	for _, tr := range d.Triggers {
		switch tr.Type {
		case EventTrigger:
			if tr.EventName == "" {
				return fail("event trigger with empty event name")
			}
		case ScheduledTrigger:
			if tr.Schedule == "" {
				return fail("scheduled trigger with empty expression")
			}
		case ManualTrigger:
		default:
			return fail("unknown trigger type %q", tr.Type)
		}
	}

	return nil
}

// compositeCycle reports an action whose parallel branches or loop body
// reference back into the composite, directly or through other composites.
// Such a node would re-enter its own handler without a terminating condition,
// so the graph must reject it up front. Returns "" when no cycle exists.
func (d *WorkflowDefinition) compositeCycle() string {
	refs := make(map[string][]string)
	for _, a := range d.Actions {
		switch a.Kind {
		case ParallelAction:
			refs[a.ID] = a.StringsParam("branch_action_ids")
		case LoopAction:
			refs[a.ID] = a.StringsParam("body_action_ids")
		}
	}

	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(refs))
	var visit func(id string) string
	visit = func(id string) string {
		state[id] = onPath
		for _, ref := range refs[id] {
			if _, composite := refs[ref]; !composite {
				continue
			}
			switch state[ref] {
			case onPath:
				return ref
			case unvisited:
				if hit := visit(ref); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}
	for id := range refs {
		if state[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}
