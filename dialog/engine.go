package dialog

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/botflow/flow"
	"github.com/BaSui01/botflow/internal/metrics"
	"github.com/BaSui01/botflow/types"
)

// stepOutcome drives the engine's traversal loop.
type stepOutcome int

const (
	// stepContinue re-enters the loop for the next instruction or node.
	stepContinue stepOutcome = iota
	// stepDone ends the traversal for this event (wait, end of flow, or
	// nothing left to do).
	stepDone
)

// Engine is the flow-traversal state machine. One inbound event walks
// as many nodes as it can synchronously until an instruction waits for
// the next event, the flow ends, or an error aborts the turn. Traversal
// is an explicit loop, not recursion; the infinite-loop detector bounds
// it at three visits of the same node within a turn.
type Engine struct {
	flows     *flow.Manager
	processor *Processor
	hooks     Hooks
	metrics   *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewEngine creates a dialog engine.
func NewEngine(flows *flow.Manager, processor *Processor, hooks Hooks, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Engine{
		flows:     flows,
		processor: processor,
		hooks:     hooks,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "dialog_engine")),
		tracer:    otel.Tracer("botflow/dialog"),
	}
}

// ProcessEvent advances the conversation's state machine with one
// event. The event is always returned for state persistence, even when
// an error aborted the turn.
func (e *Engine) ProcessEvent(ctx context.Context, sessionID string, event *types.IncomingEvent) (*types.IncomingEvent, error) {
	ctx, span := e.tracer.Start(ctx, "dialog.process_event",
		trace.WithAttributes(
			attribute.String("bot.id", event.BotID),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	start := time.Now()
	svc := e.flows.ForBot(event.BotID)
	flows, _ := svc.LoadAll(ctx)
	if len(flows) == 0 {
		e.metrics.RecordEvent(event.BotID, "no_flows", time.Since(start))
		return event, types.NewFlowError("no flows loaded", event.BotID, "", "")
	}

	err := e.run(ctx, svc, sessionID, event)
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordEvent(event.BotID, status, time.Since(start))
	return event, err
}

// run is the traversal loop with the turn's error protocol: the first
// error during traversal redirects to the error flow; a second one, or
// an infinite loop, aborts.
func (e *Engine) run(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent) error {
	redirected := false

	for {
		outcome, err := e.step(ctx, svc, sessionID, event)
		if err == nil {
			if outcome == stepDone {
				return nil
			}
			continue
		}

		if types.IsInfiniteLoop(err) {
			// Transitioning to the error flow here risks another loop.
			// This cannot be handled softly.
			e.metrics.RecordInfiniteLoop(event.BotID)
			event.AddError(types.EventError{Type: "dialog-transition", Stacktrace: err.Error()})
			e.CleanState(event)
			return err
		}

		if redirected {
			e.logger.Error("error flow failed, giving up on this turn",
				zap.String("bot_id", event.BotID), zap.String("session_id", sessionID), zap.Error(err))
			return nil
		}
		redirected = true

		e.logger.Warn("transition failed, redirecting to error flow",
			zap.String("bot_id", event.BotID),
			zap.String("flow", currentFlowName(event)),
			zap.String("node", currentNodeName(event)),
			zap.Error(err))
		event.AddError(types.EventError{Type: "dialog-transition", Stacktrace: err.Error()})

		if _, terr := e.transition(ctx, svc, sessionID, event, errorFlowDestination(event)); terr != nil {
			e.logger.Error("could not enter error flow", zap.String("bot_id", event.BotID), zap.Error(terr))
			return nil
		}
	}
}

// step advances by one instruction (or one structural move such as
// subflow entry).
func (e *Engine) step(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent) (stepOutcome, error) {
	if event.State.Context.IsEmpty() {
		if err := e.initializeContext(ctx, svc, event); err != nil {
			return stepDone, err
		}
	}
	dc := event.State.Context

	currentFlow, err := svc.FindFlow(ctx, dc.CurrentFlow)
	if err != nil {
		return stepDone, err
	}
	currentNode, err := svc.FindNode(currentFlow, dc.CurrentNode)
	if err != nil {
		return stepDone, err
	}

	if event.NDU != nil {
		e.updateWorkflow(ctx, svc, event, currentFlow, currentNode)
	}

	// A skill-call node points at a subflow; enter it unless this very
	// position is what we are currently returning to.
	if currentNode.Type == flow.NodeSkillCall && !e.exitingSubflow(event) {
		return e.enterSubflow(ctx, svc, event, currentFlow, currentNode)
	}

	var q *queue
	switch {
	case dc.HasJumped:
		q = buildTransitionQueue(currentFlow, currentNode)
		dc.HasJumped = false
	case dc.Queue != nil:
		q = restoreQueue(dc.Queue)
	default:
		q = buildQueue(currentFlow, currentNode)
	}

	if q.empty() {
		e.logger.Debug("ending flow, no instructions left",
			zap.String("bot_id", event.BotID), zap.String("flow", currentFlow.Name), zap.String("node", currentNode.Name))
		return stepDone, e.endFlow(ctx, svc, sessionID, event)
	}

	instruction := q.dequeue()
	result, err := e.processor.Process(ctx, instruction, event)
	if err != nil {
		// Unknown instruction shapes are logged and swallowed; the event
		// still returns for persistence.
		e.logger.Warn("error processing instruction",
			zap.String("bot_id", event.BotID),
			zap.String("flow", currentFlow.Name),
			zap.String("node", currentNode.Name),
			zap.String("instruction", instruction.Fn),
			zap.Error(err))
		event.AddError(types.EventError{Type: "dialog-engine", Stacktrace: err.Error()})
		return stepDone, nil
	}

	switch result.followUp {
	case followNone:
		dc.Queue = q.snapshot()
		if dc.Queue == nil {
			dc.Queue = []types.Instruction{}
		}
		return stepContinue, nil

	case followWait:
		e.logger.Debug("waiting until next event",
			zap.String("bot_id", event.BotID), zap.String("session_id", sessionID))
		dc.Queue = q.snapshot()
		if dc.Queue == nil {
			dc.Queue = []types.Instruction{}
		}
		return stepDone, nil

	case followTransition:
		if result.destination == "" {
			e.logger.Debug("ending flow, transition without destination",
				zap.String("bot_id", event.BotID), zap.String("flow", currentFlow.Name))
			return stepDone, e.endFlow(ctx, svc, sessionID, event)
		}
		// The queue is rebuilt from the destination node.
		dc.Queue = nil
		return e.transition(ctx, svc, sessionID, event, flow.ParseDestination(result.destination))
	}

	return stepDone, nil
}

// transition commits one parsed destination against the call stack and
// flow graph, then hands control back to the loop.
func (e *Engine) transition(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent, dest flow.Destination) (stepOutcome, error) {
	dc := event.State.Context
	if dc == nil {
		dc = &types.DialogContext{}
		event.State.Context = dc
	}

	dc.JumpPoints = dc.JumpPoints.PruneUsed()
	if err := detectInfiniteLoop(event.State.Trace, event.BotID); err != nil {
		return stepDone, err
	}

	switch dest.Kind {
	case flow.DestEnterFlow:
		target, err := svc.FindFlow(ctx, dest.Flow)
		if err != nil {
			return stepDone, err
		}
		nodeName := dest.Node
		if nodeName == "" {
			nodeName = target.StartNode
		}
		node, err := svc.FindNode(target, nodeName)
		if err != nil {
			return stepDone, err
		}

		event.PushTrace(target.Name, node.Name)
		e.metrics.RecordTransition(event.BotID, "enter_flow")
		e.logger.Debug("entering flow",
			zap.String("bot_id", event.BotID),
			zap.String("from", dc.CurrentFlow+"/"+dc.CurrentNode),
			zap.String("to", target.Name+"/"+node.Name))

		dc.JumpPoints = dc.JumpPoints.Push(dc.CurrentFlow, dc.CurrentNode)
		dc.PreviousFlow, dc.PreviousNode = dc.CurrentFlow, dc.CurrentNode
		dc.CurrentFlow, dc.CurrentNode = target.Name, node.Name
		dc.Queue = nil
		return stepContinue, nil

	case flow.DestReturnToParent, flow.DestReturnToParentStart:
		jp := dc.JumpPoints.LastUnused()
		if jp == nil {
			e.logger.Debug("no previous flow to return to",
				zap.String("bot_id", event.BotID), zap.String("node", dc.CurrentNode))
			return stepDone, nil
		}
		if dest.Kind == flow.DestReturnToParentStart {
			jp.ExecuteNode = true
		}
		// A node with several transitions walks each separately; keeping
		// the consumed frame (used, not removed) is what lets the later
		// ones still count as exiting this subflow.
		jp.Used = true

		parentFlow, err := svc.FindFlow(ctx, jp.Flow)
		if err != nil {
			return stepDone, err
		}
		nodeName := dest.Node
		if nodeName == "" {
			nodeName = jp.Node
		}
		parentNode, err := svc.FindNode(parentFlow, nodeName)
		if err != nil {
			return stepDone, err
		}

		// Returning to a named node, or through "##", re-runs the node's
		// full queue; a plain "#" only checks its transitions.
		var q *queue
		if jp.ExecuteNode || dest.Node != "" {
			q = buildQueue(parentFlow, parentNode)
		} else {
			q = buildTransitionQueue(parentFlow, parentNode)
		}

		event.PushTrace(parentFlow.Name, parentNode.Name)
		e.metrics.RecordTransition(event.BotID, "return_to_parent")
		e.logger.Debug("exiting subflow",
			zap.String("bot_id", event.BotID),
			zap.String("from", dc.CurrentFlow+"/"+dc.CurrentNode),
			zap.String("to", parentFlow.Name+"/"+parentNode.Name))

		dc.CurrentFlow, dc.CurrentNode = parentFlow.Name, parentNode.Name
		dc.Queue = q.snapshot()
		if dc.Queue == nil {
			dc.Queue = []types.Instruction{}
		}
		return stepContinue, nil

	case flow.DestEndFlow:
		e.logger.Debug("ending flow", zap.String("bot_id", event.BotID), zap.String("flow", dc.CurrentFlow))
		e.metrics.RecordTransition(event.BotID, "end_flow")
		return stepDone, e.endFlow(ctx, svc, sessionID, event)

	default: // flow.DestLocalNode
		event.PushTrace(dc.CurrentFlow, dest.Node)
		e.metrics.RecordTransition(event.BotID, "local_node")
		e.logger.Debug("transitioning",
			zap.String("bot_id", event.BotID),
			zap.String("flow", dc.CurrentFlow),
			zap.String("from", dc.CurrentNode),
			zap.String("to", dest.Node))

		// Inside a subflow the previous-node bookkeeping belongs to the
		// parent's resume point and must not be touched.
		if !e.inSubflow(ctx, svc, dc.CurrentFlow) {
			dc.PreviousNode = dc.CurrentNode
		}
		dc.CurrentNode = dest.Node
		return stepContinue, nil
	}
}

// enterSubflow pushes the current position and repositions the context
// at the subflow's start node.
func (e *Engine) enterSubflow(ctx context.Context, svc *flow.Service, event *types.IncomingEvent, parentFlow *flow.Flow, parentNode *flow.Node) (stepOutcome, error) {
	subflow, err := svc.FindFlow(ctx, parentNode.Flow)
	if err != nil {
		return stepDone, err
	}
	startNode, err := svc.FindNode(subflow, subflow.StartNode)
	if err != nil {
		return stepDone, err
	}

	dc := event.State.Context
	dc.JumpPoints = dc.JumpPoints.Push(parentFlow.Name, parentNode.Name)
	dc.PreviousFlow, dc.PreviousNode = parentFlow.Name, parentNode.Name
	dc.CurrentFlow, dc.CurrentNode = subflow.Name, startNode.Name
	dc.Queue = nil
	dc.HasJumped = false
	return stepContinue, nil
}

// exitingSubflow reports whether the current position is the one a
// consumed jump point is returning to. A frame flagged for full
// re-execution reports false so the node runs from the start.
func (e *Engine) exitingSubflow(event *types.IncomingEvent) bool {
	dc := event.State.Context
	jp := dc.JumpPoints.FirstUsed()
	if jp == nil {
		return false
	}
	if jp.ExecuteNode {
		return false
	}
	return jp.Flow == dc.CurrentFlow && jp.Node == dc.CurrentNode
}

// inSubflow reports whether the flow is structurally contained in
// another (skills/ naming or a synthesized parent).
func (e *Engine) inSubflow(ctx context.Context, svc *flow.Service, flowName string) bool {
	if strings.HasPrefix(flowName, "skills/") {
		return true
	}
	f, err := svc.FindFlow(ctx, flowName)
	return err == nil && f.Parent != ""
}

// initializeContext positions a fresh conversation at the default
// flow's start node. Structured-suggestion mode enters through the
// misunderstood flow instead of main.
func (e *Engine) initializeContext(ctx context.Context, svc *flow.Service, event *types.IncomingEvent) error {
	name := flow.MainFlow
	if event.NDU != nil {
		name = flow.MisunderstoodFlow
	}

	defaultFlow, err := svc.FindFlow(ctx, name)
	if err != nil {
		return err
	}
	startNode, err := svc.FindNode(defaultFlow, defaultFlow.StartNode)
	if err != nil {
		return err
	}

	event.PushTrace(defaultFlow.Name, startNode.Name)
	event.State.Context = &types.DialogContext{
		CurrentFlow: defaultFlow.Name,
		CurrentNode: startNode.Name,
	}
	e.logger.Debug("initialized context",
		zap.String("bot_id", event.BotID),
		zap.String("flow", defaultFlow.Name),
		zap.String("node", startNode.Name))
	return nil
}

// endFlow runs the end-of-flow protocol: the timeout flow clears state
// outright, the conversation-end flow stops without re-clearing, and
// anything else runs the conversation-end hook and flow before deciding
// whether to wrap up.
func (e *Engine) endFlow(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent) error {
	switch currentFlowName(event) {
	case flow.TimeoutFlow:
		e.CleanState(event)
		return nil
	case flow.ConversationEndFlow:
		return nil
	}

	hookJumped, err := e.runConversationEndHook(ctx, svc, sessionID, event)
	if err != nil {
		return err
	}
	if hookJumped {
		return nil
	}

	flowJumped, err := e.runConversationEndFlow(ctx, svc, sessionID, event)
	if err != nil {
		return err
	}
	if !flowJumped {
		e.CleanState(event)
	}
	return nil
}

// runConversationEndHook fires the hook and, if it repositioned the
// context, resumes traversal from there.
func (e *Engine) runConversationEndHook(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent) (bool, error) {
	if err := e.hooks.BeforeConversationEnd(ctx, event); err != nil {
		e.logger.Warn("conversation end hook failed", zap.String("bot_id", event.BotID), zap.Error(err))
	}
	if event.State.Context != nil && event.State.Context.HasJumped {
		return true, e.run(ctx, svc, sessionID, event)
	}
	return false, nil
}

// runConversationEndFlow enters the conversation-end flow, if the bot
// has one, and reports whether traversing it pushed a new jump point
// (meaning real work happened).
func (e *Engine) runConversationEndFlow(ctx context.Context, svc *flow.Service, sessionID string, event *types.IncomingEvent) (bool, error) {
	endFlow, err := svc.FindFlow(ctx, flow.ConversationEndFlow)
	if err != nil {
		return false, nil
	}
	endNode, err := svc.FindNode(endFlow, endFlow.StartNode)
	if err != nil {
		return false, err
	}

	e.fillContextForJump(event, endFlow.Name, endNode.Name)

	before := len(event.State.Context.JumpPoints)
	if err := e.run(ctx, svc, sessionID, event); err != nil {
		return false, err
	}
	after := 0
	if event.State.Context != nil {
		after = len(event.State.Context.JumpPoints)
	}
	return before != after, nil
}

// fillContextForJump repositions the context at a target node while
// recording the current position as both the previous position and a
// jump point.
func (e *Engine) fillContextForJump(event *types.IncomingEvent, targetFlow, targetNode string) {
	dc := event.State.Context
	if dc == nil {
		dc = &types.DialogContext{}
		event.State.Context = dc
	}
	dc.JumpPoints = dc.JumpPoints.Push(dc.CurrentFlow, dc.CurrentNode)
	dc.PreviousFlow, dc.PreviousNode = dc.CurrentFlow, dc.CurrentNode
	dc.CurrentFlow, dc.CurrentNode = targetFlow, targetNode
	dc.Queue = nil
	dc.HasJumped = true
}

// JumpTo repositions the conversation at a target flow (and optionally
// node) without traversing; the next ProcessEvent resumes from there
// with only the target's transition checks.
func (e *Engine) JumpTo(ctx context.Context, sessionID string, event *types.IncomingEvent, targetFlow, targetNode string) error {
	svc := e.flows.ForBot(event.BotID)

	target, err := svc.FindFlow(ctx, targetFlow)
	if err != nil {
		event.AddError(types.EventError{Type: "dialog-engine", Stacktrace: err.Error()})
		return err
	}
	nodeName := targetNode
	if nodeName == "" {
		nodeName = target.StartNode
	}
	node, err := svc.FindNode(target, nodeName)
	if err != nil {
		event.AddError(types.EventError{Type: "dialog-engine", Stacktrace: err.Error()})
		return err
	}

	event.PushTrace(target.Name, node.Name)
	if event.State.Context == nil {
		event.State.Context = &types.DialogContext{}
	}
	dc := event.State.Context
	dc.CurrentFlow, dc.CurrentNode = target.Name, node.Name
	dc.Queue = nil
	dc.HasJumped = true
	return nil
}

// ProcessTimeout drives a stale context through timeout handling. The
// timeout node resolves through: the node's timeout property, a node
// named "timeout" in the current flow, the flow's timeoutNode, then the
// dedicated timeout flow's start node. With no target anywhere the
// event is returned unchanged unless a jump already happened.
func (e *Engine) ProcessTimeout(ctx context.Context, sessionID string, event *types.IncomingEvent) (*types.IncomingEvent, error) {
	e.logger.Debug("processing timeout",
		zap.String("bot_id", event.BotID), zap.String("session_id", sessionID))

	if err := e.hooks.BeforeSessionTimeout(ctx, event); err != nil {
		e.logger.Warn("session timeout hook failed", zap.String("bot_id", event.BotID), zap.Error(err))
	}

	svc := e.flows.ForBot(event.BotID)
	if flows, _ := svc.LoadAll(ctx); len(flows) == 0 {
		return event, types.NewFlowError("no flows loaded", event.BotID, "", "")
	}

	currentFlow, err := svc.FindFlow(ctx, currentFlowName(event))
	if err != nil {
		return event, err
	}
	currentNode := currentFlow.FindNode(currentNodeName(event))

	timeoutFlow, timeoutNode := e.resolveTimeoutTarget(ctx, svc, currentFlow, currentNode)

	if timeoutNode != nil {
		e.fillContextForJump(event, timeoutFlow.Name, timeoutNode.Name)
	} else if event.State.Context == nil || !event.State.Context.HasJumped {
		return event, &types.TimeoutNodeNotFoundError{BotID: event.BotID, Flow: currentFlow.Name}
	}

	return event, e.run(ctx, svc, sessionID, event)
}

func (e *Engine) resolveTimeoutTarget(ctx context.Context, svc *flow.Service, currentFlow *flow.Flow, currentNode *flow.Node) (*flow.Flow, *flow.Node) {
	if currentNode != nil && currentNode.Timeout != "" {
		if n := currentFlow.FindNode(currentNode.Timeout); n != nil {
			return currentFlow, n
		}
	}
	if n := currentFlow.FindNode(flow.TimeoutNodeName); n != nil {
		return currentFlow, n
	}
	if currentFlow.TimeoutNode != "" {
		if n := currentFlow.FindNode(currentFlow.TimeoutNode); n != nil {
			return currentFlow, n
		}
	}
	if tf, err := svc.FindFlow(ctx, flow.TimeoutFlow); err == nil {
		if n := tf.FindNode(tf.StartNode); n != nil {
			return tf, n
		}
	}
	return nil, nil
}

// CleanState collapses the conversation's context and temp data.
func (e *Engine) CleanState(event *types.IncomingEvent) {
	event.State.Context = &types.DialogContext{}
	event.State.Temp = map[string]any{}
}

// detectInfiniteLoop fails when any (flow, node) pair recurs at least
// three times in the turn's trace. The error carries the minimal
// recurring sub-path between the first two occurrences.
func detectInfiniteLoop(stack []types.Frame, botID string) error {
	counts := map[types.Frame]int{}
	for _, f := range stack {
		counts[f]++
	}

	var loop *types.Frame
	for _, f := range stack {
		if counts[f] >= 3 {
			loop = &f
			break
		}
	}
	if loop == nil {
		return nil
	}

	var path []string
	for i, r := 0, 0; i < len(stack) && r < 2; i++ {
		if stack[i] == *loop {
			r++
		}
		if r > 0 {
			path = append(path, stack[i].Flow+" ("+stack[i].Node+")")
		}
	}
	return types.NewInfiniteLoopError(path, botID, loop.Flow, loop.Node)
}

// errorFlowDestination resolves the turn's error redirect target:
// temp.onErrorFlowTo when an action configured one, else the reserved
// error flow.
func errorFlowDestination(event *types.IncomingEvent) flow.Destination {
	if to, ok := event.State.Temp["onErrorFlowTo"].(string); ok && to != "" {
		return flow.ParseDestination(to)
	}
	return flow.Destination{Kind: flow.DestEnterFlow, Flow: flow.ErrorFlow}
}

func currentFlowName(event *types.IncomingEvent) string {
	if event.State.Context == nil {
		return ""
	}
	return event.State.Context.CurrentFlow
}

func currentNodeName(event *types.IncomingEvent) string {
	if event.State.Context == nil {
		return ""
	}
	return event.State.Context.CurrentNode
}
