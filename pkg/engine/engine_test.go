package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MASITH-developpement/Azalscore-sub010/internal/log"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/engine"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

// testRig bundles an engine with its mock collaborators and store.
type testRig struct {
	eng      *engine.Engine
	store    storage.Store
	records  *engine.MockRecordStore
	entities *engine.MockEntityLoader
	mailer   *engine.MockMailer
	notifier *engine.MockNotifier
	clock    *engine.FakeClock
}

func newTestRig(t *testing.T, clock engine.Clock) *testRig {
	t.Helper()
	rig := &testRig{
		store:    storage.NewMockStore(),
		records:  engine.NewMockRecordStore(),
		entities: engine.NewMockEntityLoader(),
		mailer:   engine.NewMockMailer(),
		notifier: engine.NewMockNotifier(),
	}
	if fake, ok := clock.(*engine.FakeClock); ok {
		rig.clock = fake
	}
	rig.eng = engine.NewEngine(context.Background(), rig.store, engine.Collaborators{
		Records:  rig.records,
		Entities: rig.entities,
		Mailer:   rig.mailer,
		Notifier: rig.notifier,
		Clock:    clock,
	}, log.GetLogger())
	return rig
}

func mustRegister(t *testing.T, eng *engine.Engine, def models.WorkflowDefinition) {
	t.Helper()
	assert.NoError(t, eng.RegisterDefinition(def))
}

func waitTerminal(t *testing.T, eng *engine.Engine, id string) models.WorkflowExecution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := eng.WaitFor(ctx, id)
	assert.NoError(t, err)
	return exec
}

func waitParked(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		exec, err := eng.GetExecution(id)
		return err == nil && exec.Status == models.WaitingExecutionStatus
	}, 5*time.Second, 5*time.Millisecond, "execution %s never parked", id)
}

func resultFor(exec models.WorkflowExecution, actionID string) *models.ActionResult {
	for i := range exec.Results {
		if exec.Results[i].ActionID == actionID {
			return &exec.Results[i]
		}
	}
	return nil
}

func TestRegisterDefinition(t *testing.T) {
	t.Run("RejectsInvalidGraph", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def, _ := models.NewBuilder("wf-bad", "acme", "Broken").
			Manual().
			Action(models.ActionConfig{ID: "a", Kind: models.LogAction,
				Params: map[string]any{"message": "hi"}}).
			Build()
		def.Actions[0].NextActionID = "nowhere"

		err := rig.eng.RegisterDefinition(def)
		var defErr *models.DefinitionError
		assert.ErrorAs(t, err, &defErr)
	})

	t.Run("RejectsInvalidScheduleExpression", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def, err := models.NewBuilder("wf-cron", "acme", "Bad cron").
			OnSchedule("not a cron line").
			Action(models.ActionConfig{ID: "a", Kind: models.LogAction,
				Params: map[string]any{"message": "hi"}}).
			Build()
		assert.NoError(t, err)

		err = rig.eng.RegisterDefinition(def)
		var defErr *models.DefinitionError
		assert.ErrorAs(t, err, &defErr)
		assert.Contains(t, err.Error(), "invalid schedule expression")
	})

	t.Run("RejectsApprovalGateInLoopBody", func(t *testing.T) {
		// an approval parked inside a loop could not suspend the walk, so
		// downstream actions would run before anyone decided
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-gate-in-loop",
			TenantID: "acme",
			Name:     "Per-line approval",
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction,
					Params: map[string]any{
						"collection":      "variables.lines",
						"body_action_ids": []any{"gate"},
					},
					NextActionID: "done"},
				{ID: "gate", Kind: models.ApprovalAction,
					Params: map[string]any{"approvers": []any{"manager"}}},
				{ID: "done", Kind: models.LogAction,
					Params: map[string]any{"message": "all lines cleared"}},
			},
		}

		err := rig.eng.RegisterDefinition(def)
		var defErr *models.DefinitionError
		assert.ErrorAs(t, err, &defErr)
		assert.Contains(t, err.Error(), "approvals cannot suspend inside a composite")
	})

	t.Run("RejectsSelfReferencingComposite", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def := models.WorkflowDefinition{
			ID:       "wf-loop-loop",
			TenantID: "acme",
			Name:     "Recursive loop",
			Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
			Actions: []models.ActionConfig{
				{ID: "each", Kind: models.LoopAction,
					Params: map[string]any{
						"collection":      "variables.lines",
						"body_action_ids": []any{"each"},
					}},
			},
		}

		err := rig.eng.RegisterDefinition(def)
		var defErr *models.DefinitionError
		assert.ErrorAs(t, err, &defErr)
		assert.Contains(t, err.Error(), "composite reference cycle")
	})

	t.Run("PersistsDefinitionAndSchedules", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def, err := models.NewBuilder("wf-sched", "acme", "Nightly sweep").
			OnSchedule("0 2 * * *").
			Action(models.ActionConfig{ID: "a", Kind: models.LogAction,
				Params: map[string]any{"message": "sweeping"}}).
			Build()
		assert.NoError(t, err)
		mustRegister(t, rig.eng, def)

		saved, err := rig.store.GetDefinition("wf-sched")
		assert.NoError(t, err)
		assert.Equal(t, "Nightly sweep", saved.Name)

		schedules, err := rig.store.ListSchedules()
		assert.NoError(t, err)
		if assert.Len(t, schedules, 1) {
			assert.Equal(t, "wf-sched", schedules[0].WorkflowID)
			assert.Equal(t, "0 2 * * *", schedules[0].Expression)
			assert.True(t, schedules[0].Active)
		}
	})
}

func TestSequentialExecution(t *testing.T) {
	rig := newTestRig(t, nil)
	def, err := models.NewBuilder("wf-seq", "acme", "Sequential chain").
		Manual().
		Action(models.ActionConfig{ID: "double", Kind: models.SetVariableAction,
			Params: map[string]any{"name": "total", "expression": "variables.amount * 2"}}).
		Then(models.ActionConfig{ID: "announce", Kind: models.LogAction,
			Params: map[string]any{"message": "Total is ${variables.total}"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-seq", engine.StartOptions{
		Input: map[string]any{"amount": int64(21)},
	})
	assert.NoError(t, err)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, int64(42), exec.Variables["total"])
	assert.NotNil(t, exec.FinishedAt)
	assert.Empty(t, exec.CurrentActionID)

	if assert.Len(t, exec.Results, 2) {
		assert.Equal(t, "double", exec.Results[0].ActionID)
		assert.Equal(t, "announce", exec.Results[1].ActionID)
		assert.Equal(t, models.CompletedActionResult, exec.Results[0].Status)
		assert.Equal(t, "Total is 42", exec.Results[1].Output)
	}

	// the terminal record lands in the store
	saved, err := rig.store.GetExecution(id)
	assert.NoError(t, err)
	assert.Equal(t, models.CompletedExecutionStatus, saved.Status)
}

func TestVariableSeeding(t *testing.T) {
	rig := newTestRig(t, nil)
	def, err := models.NewBuilder("wf-vars", "acme", "Variable seeding").
		Manual().
		Variable("region", models.InputVariable, "EU").
		Variable("retries", models.InternalVariable, int64(3)).
		Action(models.ActionConfig{ID: "noop", Kind: models.LogAction,
			Params: map[string]any{"message": "region ${variables.region}"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-vars", engine.StartOptions{
		Input: map[string]any{"region": "US"},
	})
	assert.NoError(t, err)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, "US", exec.Variables["region"], "input overrides the declared default")
	assert.Equal(t, int64(3), exec.Variables["retries"], "untouched defaults survive")
}

func TestConditionRouting(t *testing.T) {
	build := func() models.WorkflowDefinition {
		def, _ := models.NewBuilder("wf-cond", "acme", "Amount gate").
			Manual().
			Action(models.ActionConfig{ID: "gate", Kind: models.ConditionAction,
				Params:          map[string]any{"expression": "variables.amount > 1000"},
				OnTrueActionID:  "review",
				OnFalseActionID: "auto"}).
			Action(models.ActionConfig{ID: "review", Kind: models.SetVariableAction,
				NextActionID: "done",
				Params:       map[string]any{"name": "path", "value": "review"}}).
			Action(models.ActionConfig{ID: "auto", Kind: models.SetVariableAction,
				NextActionID: "done",
				Params:       map[string]any{"name": "path", "value": "auto"}}).
			Action(models.ActionConfig{ID: "done", Kind: models.LogAction,
				Params: map[string]any{"message": "took ${variables.path}"}}).
			Build()
		return def
	}

	t.Run("TrueBranch", func(t *testing.T) {
		rig := newTestRig(t, nil)
		mustRegister(t, rig.eng, build())
		id, err := rig.eng.StartExecution("wf-cond", engine.StartOptions{
			Input: map[string]any{"amount": int64(1500)},
		})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, "review", exec.Variables["path"])
		assert.Nil(t, resultFor(exec, "auto"))
	})

	t.Run("FalseBranch", func(t *testing.T) {
		rig := newTestRig(t, nil)
		mustRegister(t, rig.eng, build())
		id, err := rig.eng.StartExecution("wf-cond", engine.StartOptions{
			Input: map[string]any{"amount": int64(200)},
		})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, "auto", exec.Variables["path"])
		assert.Nil(t, resultFor(exec, "review"))
	})

	t.Run("ConditionGroupParams", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def, err := models.NewBuilder("wf-group", "acme", "Grouped gate").
			Manual().
			Action(models.ActionConfig{ID: "gate", Kind: models.ConditionAction,
				Params: map[string]any{"conditions": map[string]any{
					"logic": "OR",
					"conditions": []any{
						map[string]any{"field": "variables.urgent", "operator": "eq", "value": true},
						map[string]any{"field": "variables.amount", "operator": "gt", "value": 5000},
					},
				}},
				OnTrueActionID: "flag"}).
			Action(models.ActionConfig{ID: "flag", Kind: models.SetVariableAction,
				Params: map[string]any{"name": "flagged", "value": true}}).
			Build()
		assert.NoError(t, err)
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-group", engine.StartOptions{
			Input: map[string]any{"urgent": true, "amount": int64(10)},
		})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, true, exec.Variables["flagged"])
	})
}

func TestGuardSkipsNode(t *testing.T) {
	rig := newTestRig(t, nil)
	def, err := models.NewBuilder("wf-guard", "acme", "Guarded notification").
		Manual().
		Action(models.ActionConfig{ID: "notify", Kind: models.SendNotificationAction,
			Guard: &models.ConditionGroup{Conditions: []models.Condition{
				{Field: "variables.notify", Operator: models.OpEq, Value: true},
			}},
			Params: map[string]any{
				"recipients": []any{"ops"},
				"subject":    "Heads up",
				"message":    "something happened",
			}}).
		Then(models.ActionConfig{ID: "tail", Kind: models.LogAction,
			Params: map[string]any{"message": "done"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-guard", engine.StartOptions{
		Input: map[string]any{"notify": false},
	})
	assert.NoError(t, err)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, 0, rig.notifier.SentCount())
	if r := resultFor(exec, "notify"); assert.NotNil(t, r) {
		assert.Equal(t, models.SkippedActionResult, r.Status)
	}
	assert.NotNil(t, resultFor(exec, "tail"))
}

func TestOnErrorPolicies(t *testing.T) {
	// a SEND_EMAIL node fails reliably when the mailer is down
	failing := func(onError models.OnErrorPolicy) models.ActionConfig {
		return models.ActionConfig{ID: "mail", Kind: models.SendEmailAction,
			OnError: onError,
			Params: map[string]any{
				"to": []any{"boss@acme.test"}, "subject": "s", "body": "b",
			}}
	}

	t.Run("FailAbortsExecution", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.mailer.Err = assert.AnError
		def, err := models.NewBuilder("wf-fail", "acme", "Fail policy").
			Manual().
			Action(failing("")).
			Then(models.ActionConfig{ID: "tail", Kind: models.LogAction,
				Params: map[string]any{"message": "unreached"}}).
			Build()
		assert.NoError(t, err)
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-fail", engine.StartOptions{})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Contains(t, exec.ErrorMsg, "mail")
		assert.Nil(t, resultFor(exec, "tail"))
	})

	t.Run("SkipMovesOn", func(t *testing.T) {
		rig := newTestRig(t, nil)
		rig.mailer.Err = assert.AnError
		def, err := models.NewBuilder("wf-skip", "acme", "Skip policy").
			Manual().
			Action(failing(models.SkipOnError)).
			Then(models.ActionConfig{ID: "tail", Kind: models.SetVariableAction,
				Params: map[string]any{"name": "reached", "value": true}}).
			Build()
		assert.NoError(t, err)
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-skip", engine.StartOptions{})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, true, exec.Variables["reached"])
		if r := resultFor(exec, "mail"); assert.NotNil(t, r) {
			assert.Equal(t, models.FailedActionResult, r.Status)
		}
	})

	t.Run("ContinueRoutesConditionFalse", func(t *testing.T) {
		rig := newTestRig(t, nil)
		def, err := models.NewBuilder("wf-cont", "acme", "Continue policy").
			Manual().
			Action(models.ActionConfig{ID: "gate", Kind: models.ConditionAction,
				OnError:         models.ContinueOnError,
				Params:          map[string]any{"expression": "variables.missing > 10"},
				OnTrueActionID:  "yes",
				OnFalseActionID: "no"}).
			Action(models.ActionConfig{ID: "yes", Kind: models.SetVariableAction,
				Params: map[string]any{"name": "path", "value": "yes"}}).
			Action(models.ActionConfig{ID: "no", Kind: models.SetVariableAction,
				Params: map[string]any{"name": "path", "value": "no"}}).
			Build()
		assert.NoError(t, err)
		mustRegister(t, rig.eng, def)

		id, err := rig.eng.StartExecution("wf-cont", engine.StartOptions{})
		assert.NoError(t, err)
		exec := waitTerminal(t, rig.eng, id)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, "no", exec.Variables["path"])
	})
}

func TestTriggerEvent(t *testing.T) {
	rig := newTestRig(t, nil)

	gated, err := models.NewBuilder("wf-big-orders", "acme", "Big orders").
		OnEvent("order.created", &models.ConditionGroup{Conditions: []models.Condition{
			{Field: "amount", Operator: models.OpGe, Value: 1000},
		}}).
		Action(models.ActionConfig{ID: "mark", Kind: models.SetVariableAction,
			Params: map[string]any{"name": "big", "value": true}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, gated)

	open, err := models.NewBuilder("wf-all-orders", "acme", "All orders").
		OnEvent("order.created", nil).
		Action(models.ActionConfig{ID: "count", Kind: models.SetVariableAction,
			Params: map[string]any{"name": "seen", "value": true}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, open)

	foreign, err := models.NewBuilder("wf-foreign", "globex", "Foreign tenant").
		OnEvent("order.created", nil).
		Action(models.ActionConfig{ID: "count", Kind: models.LogAction,
			Params: map[string]any{"message": "never"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, foreign)

	t.Run("SmallOrderStartsOnlyUngated", func(t *testing.T) {
		started, err := rig.eng.TriggerEvent("order.created",
			map[string]any{"amount": int64(250)}, "acme")
		assert.NoError(t, err)
		if assert.Len(t, started, 1) {
			exec := waitTerminal(t, rig.eng, started[0])
			assert.Equal(t, "wf-all-orders", exec.WorkflowID)
			assert.Equal(t, models.EventTrigger, exec.TriggerType)
			assert.Equal(t, int64(250), exec.Variables["amount"], "payload merges into scope")
		}
	})

	t.Run("BigOrderStartsBoth", func(t *testing.T) {
		started, err := rig.eng.TriggerEvent("order.created",
			map[string]any{"amount": int64(2500)}, "acme")
		assert.NoError(t, err)
		assert.Len(t, started, 2)
		for _, id := range started {
			exec := waitTerminal(t, rig.eng, id)
			assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		}
	})

	t.Run("UnknownEventStartsNothing", func(t *testing.T) {
		started, err := rig.eng.TriggerEvent("order.deleted", nil, "acme")
		assert.NoError(t, err)
		assert.Empty(t, started)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		started, err := rig.eng.TriggerEvent("order.created",
			map[string]any{"amount": int64(9999)}, "initech")
		assert.NoError(t, err)
		assert.Empty(t, started)
	})
}

func TestEntitySnapshot(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.entities.Put("invoice", "inv-7", map[string]any{
		"amount": 4200.0, "customer": "Globex",
	})

	def, err := models.NewBuilder("wf-entity", "acme", "Invoice check").
		ForEntity("invoice").
		Manual().
		Action(models.ActionConfig{ID: "copy", Kind: models.SetVariableAction,
			Params: map[string]any{"name": "who", "expression": "entity.customer"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-entity", engine.StartOptions{EntityID: "inv-7"})
	assert.NoError(t, err)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, "Globex", exec.Variables["who"])
	assert.Equal(t, "invoice", exec.EntityType)
	assert.Equal(t, 4200.0, exec.EntitySnapshot["amount"])
}

func TestStartExecutionErrors(t *testing.T) {
	rig := newTestRig(t, nil)

	t.Run("UnknownWorkflow", func(t *testing.T) {
		_, err := rig.eng.StartExecution("nope", engine.StartOptions{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("InactiveWorkflow", func(t *testing.T) {
		def, buildErr := models.NewBuilder("wf-paused", "acme", "Paused").
			Manual().
			Action(models.ActionConfig{ID: "a", Kind: models.LogAction,
				Params: map[string]any{"message": "hi"}}).
			Build()
		assert.NoError(t, buildErr)
		def.Status = models.PausedWorkflowStatus
		mustRegister(t, rig.eng, def)

		_, err := rig.eng.StartExecution("wf-paused", engine.StartOptions{})
		assert.ErrorContains(t, err, "not active")
	})

	t.Run("MissingEntity", func(t *testing.T) {
		def, buildErr := models.NewBuilder("wf-ent", "acme", "Entity bound").
			ForEntity("invoice").
			Manual().
			Action(models.ActionConfig{ID: "a", Kind: models.LogAction,
				Params: map[string]any{"message": "hi"}}).
			Build()
		assert.NoError(t, buildErr)
		mustRegister(t, rig.eng, def)

		_, err := rig.eng.StartExecution("wf-ent", engine.StartOptions{EntityID: "missing"})
		assert.ErrorContains(t, err, "load entity")
	})
}

func TestCancelExecution(t *testing.T) {
	clock := engine.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	rig := newTestRig(t, clock)

	def, err := models.NewBuilder("wf-slow", "acme", "Slow workflow").
		Manual().
		Action(models.ActionConfig{ID: "wait", Kind: models.DelayAction,
			Params: map[string]any{"seconds": 120}}).
		Then(models.ActionConfig{ID: "tail", Kind: models.LogAction,
			Params: map[string]any{"message": "unreached"}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-slow", engine.StartOptions{})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		exec, getErr := rig.eng.GetExecution(id)
		return getErr == nil && exec.Status == models.RunningExecutionStatus
	}, 5*time.Second, 5*time.Millisecond)

	assert.NoError(t, rig.eng.CancelExecution(id, "operator request"))

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CancelledExecutionStatus, exec.Status)
	assert.Equal(t, "operator request", exec.ErrorMsg)
	assert.Nil(t, resultFor(exec, "tail"))

	t.Run("CancelTwiceFails", func(t *testing.T) {
		err := rig.eng.CancelExecution(id, "again")
		assert.ErrorContains(t, err, "already")
	})
}

func TestDelayResumesOnClockAdvance(t *testing.T) {
	clock := engine.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	rig := newTestRig(t, clock)

	def, err := models.NewBuilder("wf-delay", "acme", "Delayed step").
		Manual().
		Action(models.ActionConfig{ID: "wait", Kind: models.DelayAction,
			Params: map[string]any{"seconds": 30}}).
		Then(models.ActionConfig{ID: "tail", Kind: models.SetVariableAction,
			Params: map[string]any{"name": "done", "value": true}}).
		Build()
	assert.NoError(t, err)
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-delay", engine.StartOptions{})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		exec, getErr := rig.eng.GetExecution(id)
		return getErr == nil && exec.Status == models.RunningExecutionStatus
	}, 5*time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	assert.Equal(t, true, exec.Variables["done"])
	if r := resultFor(exec, "wait"); assert.NotNil(t, r) {
		assert.Equal(t, map[string]any{"delayed_seconds": 30}, r.Output)
	}
}

func TestCyclicGraphAborts(t *testing.T) {
	rig := newTestRig(t, nil)
	def := models.WorkflowDefinition{
		ID:       "wf-cycle",
		TenantID: "acme",
		Name:     "Cycle",
		Status:   models.ActiveWorkflowStatus,
		Triggers: []models.TriggerConfig{{Type: models.ManualTrigger}},
		Actions: []models.ActionConfig{
			{ID: "ping", Kind: models.LogAction, NextActionID: "pong",
				Params: map[string]any{"message": "ping"}},
			{ID: "pong", Kind: models.LogAction, NextActionID: "ping",
				Params: map[string]any{"message": "pong"}},
		},
	}
	mustRegister(t, rig.eng, def)

	id, err := rig.eng.StartExecution("wf-cycle", engine.StartOptions{})
	assert.NoError(t, err)

	exec := waitTerminal(t, rig.eng, id)
	assert.Equal(t, models.FailedExecutionStatus, exec.Status)
	assert.Contains(t, exec.ErrorMsg, "cycle")
}
