package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/engine"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

func TestParallelAction(t *testing.T) {
	t.Run("AllBranchesRun", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-par",
			TenantID: "acme",
			Name:     "Fan out",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "fanout", Kind: models.ParallelAction, NextActionID: "join",
					Params: map[string]any{"branch_action_ids": []any{"left", "right"}}},
				{ID: "left", Kind: models.SetVariableAction,
					Params: map[string]any{"name": "left_done", "value": true}},
				{ID: "right", Kind: models.SetVariableAction,
					Params: map[string]any{"name": "right_done", "value": true}},
				{ID: "join", Kind: models.LogAction,
					Params: map[string]any{"message": "joined"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-par", engine.StartOptions{})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, true, exec.Variables["left_done"])
		assert.Equal(t, true, exec.Variables["right_done"])

		if r := resultFor(exec, "fanout"); assert.NotNil(t, r) {
			outputs, ok := r.Output.(map[string]any)
			assert.True(t, ok)
			assert.Len(t, outputs, 2)
		}
		// each branch also records its own result
		assert.NotNil(t, resultFor(exec, "left"))
		assert.NotNil(t, resultFor(exec, "right"))
		assert.NotNil(t, resultFor(exec, "join"))
	})

	t.Run("BranchFailureAggregates", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.mailer.Err = assert.AnError
		def := models.WorkflowDefinition{
			ID:       "wf-parfail",
			TenantID: "acme",
			Name:     "Fan out with failure",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "fanout", Kind: models.ParallelAction, NextActionID: "join",
					Params: map[string]any{"branch_action_ids": []any{"ok", "broken"}}},
				{ID: "ok", Kind: models.SetVariableAction,
					Params: map[string]any{"name": "ok_done", "value": true}},
				{ID: "broken", Kind: models.SendEmailAction,
					Params: map[string]any{"to": []any{"x@y.test"}, "subject": "s", "body": "b"}},
				{ID: "join", Kind: models.LogAction,
					Params: map[string]any{"message": "joined"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-parfail", engine.StartOptions{})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Contains(t, exec.ErrorMsg, "broken")
		// the healthy sibling was not aborted
		assert.Equal(t, true, exec.Variables["ok_done"])
	})

	t.Run("JoinFirstCancelsSiblings", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-race",
			TenantID: "acme",
			Name:     "First wins",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "race", Kind: models.ParallelAction, NextActionID: "join",
					Params: map[string]any{
						"branch_action_ids": []any{"quick", "slow"},
						"join":              "first",
					}},
				{ID: "quick", Kind: models.SetVariableAction,
					Params: map[string]any{"name": "winner", "value": "quick"}},
				{ID: "slow", Kind: models.DelayAction,
					Params: map[string]any{"seconds": 120}},
				{ID: "join", Kind: models.LogAction,
					Params: map[string]any{"message": "joined"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-race", engine.StartOptions{})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, "quick", exec.Variables["winner"])
		if r := resultFor(exec, "race"); assert.NotNil(t, r) {
			outputs, ok := r.Output.(map[string]any)
			assert.True(t, ok)
			assert.Contains(t, outputs, "quick")
		}
	})
}

func TestLoopAction(t *testing.T) {
	t.Run("IteratesCollection", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-loop",
			TenantID: "acme",
			Name:     "Line items",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction, NextActionID: "done",
					Params: map[string]any{
						"collection": "variables.items",
						"item_var":   "line",
						"body_action_ids": []any{
							"record",
						},
					}},
				{ID: "record", Kind: models.CreateRecordAction,
					Params: map[string]any{
						"entity_type": "line_audit",
						"data":        map[string]any{"sku": "${variables.line}"},
					}},
				{ID: "done", Kind: models.LogAction,
					Params: map[string]any{"message": "all lines handled"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-loop", engine.StartOptions{
			Input: map[string]any{"items": []any{"sku-1", "sku-2", "sku-3"}},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)

		if r := resultFor(exec, "each"); assert.NotNil(t, r) {
			assert.Equal(t, map[string]any{"iterations": 3, "failed": 0}, r.Output)
		}

		// one tagged body result per iteration
		var iterations []int
		for _, r := range exec.Results {
			if r.ActionID == "record" && r.Iteration != nil {
				iterations = append(iterations, *r.Iteration)
			}
		}
		assert.Equal(t, []int{0, 1, 2}, iterations)

		// loop variables are cleaned up afterwards
		_, hasItem := exec.Variables["line"]
		assert.False(t, hasItem)
		_, hasIndex := exec.Variables["index"]
		assert.False(t, hasIndex)
	})

	t.Run("FailingIterationDoesNotShortenTheLoop", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-loopfail",
			TenantID: "acme",
			Name:     "Partial failure",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction, NextActionID: "done",
					Params: map[string]any{
						"collection":      "variables.divisors",
						"body_action_ids": []any{"divide"},
					}},
				{ID: "divide", Kind: models.ExecuteScriptAction,
					Params: map[string]any{"script": "result = 100 / variables.item"}},
				{ID: "done", Kind: models.LogAction,
					Params: map[string]any{"message": "finished"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-loopfail", engine.StartOptions{
			Input: map[string]any{"divisors": []any{int64(4), int64(0), int64(5)}},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		if r := resultFor(exec, "each"); assert.NotNil(t, r) {
			assert.Equal(t, map[string]any{"iterations": 3, "failed": 1}, r.Output)
		}
	})

	t.Run("MaxIterationsCapsTheCollection", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-loopcap",
			TenantID: "acme",
			Name:     "Capped loop",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction, NextActionID: "done",
					Params: map[string]any{
						"collection":      "variables.items",
						"body_action_ids": []any{"noop"},
						"max_iterations":  2,
					}},
				{ID: "noop", Kind: models.LogAction,
					Params: map[string]any{"message": "item ${variables.item}"}},
				{ID: "done", Kind: models.LogAction,
					Params: map[string]any{"message": "finished"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-loopcap", engine.StartOptions{
			Input: map[string]any{"items": []any{"a", "b", "c", "d"}},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		if r := resultFor(exec, "each"); assert.NotNil(t, r) {
			assert.Equal(t, map[string]any{"iterations": 2, "failed": 0}, r.Output)
		}
	})

	t.Run("NonListCollectionFails", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-loopbad",
			TenantID: "acme",
			Name:     "Bad collection",
			Status:   models.ActiveWorkflowStatus,
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction,
					Params: map[string]any{
						"collection":      "variables.amount",
						"body_action_ids": []any{"noop"},
					}},
				{ID: "noop", Kind: models.LogAction,
					Params: map[string]any{"message": "never"}},
			},
		}
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-loopbad", engine.StartOptions{
			Input: map[string]any{"amount": int64(5)},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Contains(t, exec.ErrorMsg, "not a list")
	})
}

func TestCallWorkflowAction(t *testing.T) {
	childDef := func(id string) models.WorkflowDefinition {
		def, _ := models.NewBuilder(id, "acme", "Child workflow").
			Manual().
			Action(models.ActionConfig{ID: "work", Kind: models.SetVariableAction,
				Params: map[string]any{"name": "handled", "expression": "variables.amount * 2"}}).
			Build()
		return def
	}

	parentDef := func(id, childID string, params map[string]any) models.WorkflowDefinition {
		base := map[string]any{"workflow_id": childID}
		for k, v := range params {
			base[k] = v
		}
		def, _ := models.NewBuilder(id, "acme", "Parent workflow").
			Manual().
			Action(models.ActionConfig{ID: "call", Kind: models.CallWorkflowAction,
				Params: base}).
			Build()
		return def
	}

	t.Run("SynchronousCall", func(t *testing.T) {
		rig := newTestRig(t, nil)
		mustRegister(t, rig.eng, childDef("wf-child"))
		mustRegister(t, rig.eng, parentDef("wf-parent", "wf-child", map[string]any{
			"input": map[string]any{"amount": "${variables.amount}"},
		}))

		id, err := rig.eng.StartExecution("wf-parent", engine.StartOptions{
			Input: map[string]any{"amount": int64(50)},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)

		r := resultFor(exec, "call")
		if assert.NotNil(t, r) {
			out, ok := r.Output.(map[string]any)
			assert.True(t, ok)
			childExecID, _ := out["execution_id"].(string)
			assert.NotEmpty(t, childExecID)

			child, childErr := rig.eng.GetExecution(childExecID)
			assert.NoError(t, childErr)
			assert.Equal(t, models.CompletedExecutionStatus, child.Status)
			assert.Equal(t, id, child.ParentID)
			assert.Equal(t, int64(100), child.Variables["handled"])
		}
	})

	t.Run("ChildFailurePropagates", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.mailer.Err = assert.AnError
		broken, buildErr := models.NewBuilder("wf-broken-child", "acme", "Broken child").
			Manual().
			Action(models.ActionConfig{ID: "mail", Kind: models.SendEmailAction,
				Params: map[string]any{"to": []any{"x@y.test"}, "subject": "s", "body": "b"}}).
			Build()
		assert.NoError(t, buildErr)
		mustRegister(t, rig.eng, broken)
		mustRegister(t, rig.eng, parentDef("wf-parent", "wf-broken-child", nil))

		id, err := rig.eng.StartExecution("wf-parent", engine.StartOptions{})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Contains(t, exec.ErrorMsg, "sub-workflow")
	})

	t.Run("FireAndForget", func(t *testing.T) {
		rig := newTestRig(t, nil)
		mustRegister(t, rig.eng, childDef("wf-child"))
		mustRegister(t, rig.eng, parentDef("wf-parent", "wf-child", map[string]any{
			"wait":  false,
			"input": map[string]any{"amount": "${variables.amount}"},
		}))

		id, err := rig.eng.StartExecution("wf-parent", engine.StartOptions{
			Input: map[string]any{"amount": int64(10)},
		})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)

		r := resultFor(exec, "call")
		if assert.NotNil(t, r) {
			out, ok := r.Output.(map[string]any)
			assert.True(t, ok)
			childExecID, _ := out["execution_id"].(string)
			assert.NotEmpty(t, childExecID)
			// the child finishes on its own time
			child := waitTerminal(t, rig.eng, childExecID)
			assert.Equal(t, models.CompletedExecutionStatus, child.Status)
		}
	})

	t.Run("UnknownChildFails", func(t *testing.T) {
		rig := newTestRig(t, nil)
		mustRegister(t, rig.eng, parentDef("wf-parent", "wf-ghost", nil))

		id, err := rig.eng.StartExecution("wf-parent", engine.StartOptions{})
		assert.NoError(t, err)

		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
	})
}
