package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/MASITH-developpement/Azalscore-sub010/pkg/expr"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
)

// MaxLoopIterations is the hard cap on loop fan-out regardless of collection
// size or configuration.
const MaxLoopIterations = 1000

type parallelHandler struct{}

// Params: branch_action_ids ([]string), join ("all" or "first", default
// "all"). Branches run concurrently; each records its own ActionResult. The
// parent's output aggregates branch outputs, and branch errors concatenate
// into the parent's error without aborting siblings. With join "first" the
// siblings of the first finisher are cancelled and allowed to wind down.
func (parallelHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	branches := action.StringsParam("branch_action_ids")
	if len(branches) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'branch_action_ids' parameter"))
	}
	waitFirst := action.StringParam("join") == "first"

	branchCtx, cancelBranches := context.WithCancel(hc.ctx)
	defer cancelBranches()

	type branchOutcome struct {
		id     string
		output any
		err    error
	}
	outcomes := make(chan branchOutcome, len(branches))

	var wg sync.WaitGroup
	for _, branchID := range branches {
		node := hc.def.Action(branchID)
		wg.Add(1)
		go func(id string, node *models.ActionConfig) {
			defer wg.Done()
			if node == nil {
				outcomes <- branchOutcome{id: id, err: errors.Errorf("branch %q not found", id)}
				return
			}
			output, err := hc.eng.executeNode(branchCtx, hc.def, hc.execID, node, nil)
			outcomes <- branchOutcome{id: id, output: output, err: err}
		}(branchID, node)
	}

	if waitFirst {
		// cancel the siblings as soon as one branch finishes; the in-flight
		// handlers observe the context and wind down on their own
		first := <-outcomes
		cancelBranches()
		wg.Wait() // buffered channel absorbs the losers
		if first.err != nil {
			return nil, handlerErr(action.ID, first.err)
		}
		return map[string]any{first.id: first.output}, nil
	}

	wg.Wait()
	close(outcomes)

	outputs := make(map[string]any, len(branches))
	var failures []string
	for outcome := range outcomes {
		if outcome.err != nil {
			failures = append(failures, outcome.id+": "+outcome.err.Error())
			continue
		}
		outputs[outcome.id] = outcome.output
	}
	if len(failures) > 0 {
		return outputs, handlerErr(action.ID, errors.New(strings.Join(failures, "; ")))
	}
	return outputs, nil
}

type loopHandler struct{}

// Params: collection (variable name or expression yielding a list), item_var
// (default "item"), index_var (default "index"), body_action_ids ([]string),
// max_iterations. Each iteration runs the body sequentially and records one
// ActionResult per body node tagged with the iteration index. A failing
// iteration is recorded and the loop moves on; failures never shorten it.
func (loopHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	collectionExpr := action.StringParam("collection")
	if collectionExpr == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'collection' parameter"))
	}
	bodyIDs := action.StringsParam("body_action_ids")
	if len(bodyIDs) == 0 {
		return nil, handlerErr(action.ID, errors.New("missing 'body_action_ids' parameter"))
	}
	itemVar := action.StringParam("item_var")
	if itemVar == "" {
		itemVar = "item"
	}
	indexVar := action.StringParam("index_var")
	if indexVar == "" {
		indexVar = "index"
	}

	value, err := expr.Evaluate(collectionExpr, hc.scope())
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	items, ok := value.([]any)
	if !ok {
		return nil, handlerErr(action.ID, errors.Errorf("collection %q is %T, not a list", collectionExpr, value))
	}

	limit := MaxLoopIterations
	if configured := action.IntParam("max_iterations", 0); configured > 0 && configured < limit {
		limit = configured
	}
	if len(items) > limit {
		items = items[:limit]
	}

	defer hc.eng.unsetVariable(hc.execID, itemVar)
	defer hc.eng.unsetVariable(hc.execID, indexVar)

	var failed int
	for i, item := range items {
		if hc.ctx.Err() != nil {
			return nil, hc.ctx.Err()
		}
		iteration := i
		hc.eng.setVariable(hc.execID, itemVar, item)
		hc.eng.setVariable(hc.execID, indexVar, int64(i))

		for _, bodyID := range bodyIDs {
			node := hc.def.Action(bodyID)
			if node == nil {
				return nil, handlerErr(action.ID, errors.Errorf("body action %q not found", bodyID))
			}
			if _, err := hc.eng.executeNode(hc.ctx, hc.def, hc.execID, node, &iteration); err != nil {
				failed++
				break // this iteration only; the loop itself continues
			}
		}
	}

	return map[string]any{"iterations": len(items), "failed": failed}, nil
}

type callWorkflowHandler struct{}

// Params: workflow_id, input (map of child variable to value; string values
// support ${} references against the parent scope), wait (default true),
// timeout_seconds (sync wait cap, default 600). A waiting call polls the
// child until terminal and propagates its failure; wait=false is
// fire-and-forget, the output carries only the child execution id.
func (callWorkflowHandler) Execute(hc *handlerContext, action *models.ActionConfig) (any, error) {
	workflowID := action.StringParam("workflow_id")
	if workflowID == "" {
		return nil, handlerErr(action.ID, errors.New("missing 'workflow_id' parameter"))
	}
	input, err := resolveValues(action.MapParam("input"), hc.scope())
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}
	parent := hc.exec()

	childID, err := hc.eng.StartExecution(workflowID, StartOptions{
		TriggerType: models.ManualTrigger,
		EntityType:  parent.EntityType,
		EntityID:    parent.EntityID,
		Input:       input,
		ParentID:    hc.execID,
	})
	if err != nil {
		return nil, handlerErr(action.ID, err)
	}

	if !action.BoolParam("wait", true) {
		return map[string]any{"execution_id": childID}, nil
	}

	timeout := action.IntParam("timeout_seconds", 600)
	deadline := hc.eng.collab.Clock.Now().Add(time.Duration(timeout) * time.Second)

	// read-only poll of the child's terminal state; the child's scope stays
	// owned by the child's goroutine
	for {
		status, childErr := hc.eng.executionStatus(childID)
		if status.Terminal() {
			if status != models.CompletedExecutionStatus {
				return nil, handlerErr(action.ID, errors.Errorf("sub-workflow %s ended %s: %s", childID, status, childErr))
			}
			return map[string]any{"execution_id": childID, "status": string(status)}, nil
		}
		if hc.eng.collab.Clock.Now().After(deadline) {
			return nil, handlerErr(action.ID, errors.Errorf("sub-workflow %s did not finish within %ds", childID, timeout))
		}
		select {
		case <-hc.ctx.Done():
			return nil, hc.ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
