package dialog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/botflow/flow"
	"github.com/BaSui01/botflow/types"
)

// updateWorkflow keeps the session's workflow map in sync with the
// traversal position. Structured-suggestion mode only.
func (e *Engine) updateWorkflow(ctx context.Context, svc *flow.Service, event *types.IncomingEvent, currentFlow *flow.Flow, currentNode *flow.Node) {
	workflowName := currentFlow.BaseName()

	if event.State.Session.CurrentWorkflow != workflowName {
		e.ChangeWorkflow(ctx, event, workflowName)
		event.State.Session.CurrentWorkflow = workflowName
	}

	ended := currentNode.Type == flow.NodeSuccess || currentNode.Type == flow.NodeFailure
	if ended && event.State.Workflow != nil {
		success := currentNode.Type == flow.NodeSuccess
		event.State.Workflow.Success = &success
		event.State.Workflow.Status = types.WorkflowCompleted
	}
}

// ChangeWorkflow records the transition from the session's current
// workflow to nextFlow (a base flow name, without the storage suffix):
// a brand-new workflow is added active; diving into a child marks the
// current one pending; anything else completes it and reactivates the
// parent's entry when returning there.
func (e *Engine) ChangeWorkflow(ctx context.Context, event *types.IncomingEvent, nextFlow string) {
	session := &event.State.Session
	workflow := event.State.Workflow

	var parentFlow string
	if f, err := e.flows.ForBot(event.BotID).FindFlow(ctx, nextFlow); err == nil {
		parentFlow = f.Parent
	}
	isSubflow := session.CurrentWorkflow != "" && strings.HasPrefix(nextFlow, session.CurrentWorkflow)

	if workflow == nil {
		e.logger.Debug("workflow started",
			zap.String("bot_id", event.BotID), zap.String("workflow", nextFlow))

		record := &types.WorkflowRecord{EventID: event.ID, Status: types.WorkflowActive, Parent: parentFlow}
		if session.Workflows == nil {
			session.Workflows = map[string]*types.WorkflowRecord{}
		}
		session.Workflows[nextFlow] = record
		event.State.Workflow = record
		return
	}

	if isSubflow {
		e.logger.Debug("workflow started",
			zap.String("bot_id", event.BotID), zap.String("workflow", nextFlow))

		// The parent workflow is inactive while the child runs.
		workflow.Status = types.WorkflowPending

		record := &types.WorkflowRecord{EventID: event.ID, Status: types.WorkflowActive, Parent: session.CurrentWorkflow}
		if session.Workflows == nil {
			session.Workflows = map[string]*types.WorkflowRecord{}
		}
		session.Workflows[nextFlow] = record
		event.State.Workflow = record
		return
	}

	workflow.Status = types.WorkflowCompleted
	if workflow.Parent != "" {
		if parent, ok := session.Workflows[nextFlow]; ok {
			parent.Status = types.WorkflowActive
			event.State.Workflow = parent
		}
	}
}
