package dialog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/botflow/flow"
	"github.com/BaSui01/botflow/internal/metrics"
	"github.com/BaSui01/botflow/types"
)

// Policy is the decision engine's election policy, validated at
// startup.
type Policy struct {
	// MinConfidence is the threshold below which a suggestion is always
	// dropped.
	MinConfidence float64

	// NoRepeatCooldown is the window within which the same reply source
	// may not be elected twice.
	NoRepeatCooldown time.Duration

	// NoRepeatEnabled toggles the no-repeat policy.
	NoRepeatEnabled bool
}

// DefaultPolicy returns the default election policy.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence:    0.5,
		NoRepeatCooldown: 20 * time.Second,
	}
}

// DecisionEngine sits above the dialog engine: it elects one of the
// turn's candidate replies (or follows the event's structured
// directives), sends it, and only then lets script execution continue.
type DecisionEngine struct {
	policy    Policy
	dialog    *Engine
	state     *StateManager
	transport ReplyTransport
	metrics   *metrics.Collector
	logger    *zap.Logger

	// OnBeforeSuggestionsElection runs after decisions are amended but
	// before the elected suggestion is acted on, so integrations may
	// override the election.
	OnBeforeSuggestionsElection func(ctx context.Context, sessionID string, event *types.IncomingEvent, suggestions []*types.Suggestion) error

	// OnAfterEventProcessed runs once per turn after processing settled.
	OnAfterEventProcessed func(ctx context.Context, event *types.IncomingEvent) error

	now func() time.Time
}

// NewDecisionEngine creates a decision engine.
func NewDecisionEngine(policy Policy, dialog *Engine, state *StateManager, transport ReplyTransport, collector *metrics.Collector, logger *zap.Logger) *DecisionEngine {
	return &DecisionEngine{
		policy:    policy,
		dialog:    dialog,
		state:     state,
		transport: transport,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "decision_engine")),
		now:       time.Now,
	}
}

// ProcessEvent elects a reply for the event and advances the state
// machine.
func (d *DecisionEngine) ProcessEvent(ctx context.Context, sessionID string, event *types.IncomingEvent) error {
	if event.NDU != nil {
		return d.processStructured(ctx, sessionID, event)
	}

	inMiddleOfFlow := currentFlowName(event) != ""

	d.amendSuggestionsWithDecision(event.Suggestions, event.State.Session.LastMessages)

	// Flows in progress are never interrupted by a new suggestion.
	if inMiddleOfFlow {
		for _, s := range event.Suggestions {
			if s.Decision.Status == types.DecisionElected {
				s.Decision = types.Decision{
					Status: types.DecisionDropped,
					Reason: "would have been elected, but already in the middle of a flow",
				}
			}
		}
	}

	for _, s := range event.Suggestions {
		d.metrics.RecordSuggestion(event.BotID, string(s.Decision.Status))
	}

	if d.OnBeforeSuggestionsElection != nil {
		if err := d.OnBeforeSuggestionsElection(ctx, sessionID, event, event.Suggestions); err != nil {
			d.logger.Warn("suggestion election callback failed", zap.String("bot_id", event.BotID), zap.Error(err))
		}
	}

	var elected *types.Suggestion
	for _, s := range event.Suggestions {
		if s.Decision.Status == types.DecisionElected {
			elected = s
			break
		}
	}

	executeFlows := true
	if elected != nil {
		event.Elected = elected
		var err error
		executeFlows, err = d.sendSuggestion(ctx, sessionID, elected, event)
		if err != nil {
			return err
		}
	}

	if !event.HasFlag(types.FlagSkipDialogEngine) && executeFlows {
		if event.Elected == nil {
			event.Elected = &types.Suggestion{
				Decision:      types.Decision{Status: types.DecisionElected, Reason: "no suggestion matched"},
				Confidence:    1,
				Source:        "decisionEngine",
				SourceDetails: "execute default flow",
			}
		}

		processed, err := d.dialog.ProcessEvent(ctx, sessionID, event)
		if err != nil {
			d.logger.Error("unexpected error processing event",
				zap.String("bot_id", event.BotID), zap.Error(err))
			d.processErrorFlow(ctx, sessionID, event)
			return nil
		}

		dropSkillFrames(processed)
		d.afterProcessed(ctx, processed)
		return d.state.Persist(ctx, sessionID, processed, false)
	}

	d.afterProcessed(ctx, event)
	if event.HasFlag(types.FlagForcePersistState) {
		return d.state.Persist(ctx, sessionID, event, false)
	}
	return nil
}

// processStructured follows the event's explicit directives instead of
// running an election.
func (d *DecisionEngine) processStructured(ctx context.Context, sessionID string, event *types.IncomingEvent) error {
	if event.NDU == nil || len(event.NDU.Actions) == 0 {
		return nil
	}

	processedCalled := false
	afterOnce := func(ev *types.IncomingEvent) {
		if !processedCalled {
			processedCalled = true
			d.afterProcessed(ctx, ev)
		}
	}

	hasContinue := false
	for _, action := range event.NDU.Actions {
		switch action.Action {
		case types.NDUSend:
			if action.Content != nil {
				if err := d.sendContent(ctx, sessionID, action.Content.Payloads, action.Content.Source, action.Content.SourceDetails, action.Content.Confidence, event); err != nil {
					return err
				}
			}
		case types.NDURedirect, types.NDUStartWorkflow, types.NDUGoToNode:
			if action.Redirect != nil {
				flowName := flow.NormalizeName(action.Redirect.Flow)
				if err := d.dialog.JumpTo(ctx, sessionID, event, flowName, action.Redirect.Node); err != nil {
					d.logger.Warn("structured redirect failed",
						zap.String("bot_id", event.BotID), zap.String("flow", flowName), zap.Error(err))
				}
			}
		case types.NDUContinue:
			hasContinue = true
		}
	}

	if hasContinue && !event.HasFlag(types.FlagSkipDialogEngine) {
		processed, err := d.dialog.ProcessEvent(ctx, sessionID, event)
		if err != nil {
			d.logger.Error("unexpected error processing event",
				zap.String("bot_id", event.BotID), zap.Error(err))
			d.processErrorFlow(ctx, sessionID, event)
			return nil
		}
		dropSkillFrames(processed)
		afterOnce(processed)
		return d.state.Persist(ctx, sessionID, processed, false)
	}

	if event.HasFlag(types.FlagForcePersistState) {
		afterOnce(event)
		return d.state.Persist(ctx, sessionID, event, false)
	}

	afterOnce(event)
	return nil
}

// amendSuggestionsWithDecision applies the election policy in place:
// suggestions are walked in descending confidence, the first one
// passing the confidence and no-repeat checks is elected, the rest are
// dropped with a reason.
func (d *DecisionEngine) amendSuggestionsWithDecision(suggestions []*types.Suggestion, history []types.TurnHistory) {
	ordered := append([]*types.Suggestion(nil), suggestions...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Confidence > ordered[j-1].Confidence; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	lastSource := ""
	var lastDate time.Time
	if len(history) > 0 {
		last := history[len(history)-1]
		lastSource, lastDate = last.ReplySource, last.ReplyDate
	}

	electedYet := false
	for _, reply := range ordered {
		replySource := reply.Source + " " + reply.SourceDetails
		violatesRepeatPolicy := replySource == lastSource &&
			lastDate.Add(d.policy.NoRepeatCooldown).After(d.now())

		switch {
		case reply.Confidence < d.policy.MinConfidence:
			reply.Decision = types.Decision{
				Status: types.DecisionDropped,
				Reason: fmt.Sprintf("confidence lower than %v", d.policy.MinConfidence),
			}
		case d.policy.NoRepeatEnabled && violatesRepeatPolicy:
			reply.Decision = types.Decision{
				Status: types.DecisionDropped,
				Reason: fmt.Sprintf("bot would repeat itself (within %dms)", d.policy.NoRepeatCooldown.Milliseconds()),
			}
		case electedYet:
			reply.Decision = types.Decision{
				Status: types.DecisionDropped,
				Reason: "best suggestion already elected",
			}
		default:
			electedYet = true
			reply.Decision = types.Decision{
				Status: types.DecisionElected,
				Reason: "best remaining suggestion available",
			}
		}
	}
}

// sendSuggestion sends the elected suggestion's non-redirect payloads
// and follows its redirect payload, if any. It reports whether script
// execution should still run afterwards.
func (d *DecisionEngine) sendSuggestion(ctx context.Context, sessionID string, reply *types.Suggestion, event *types.IncomingEvent) (executeFlows bool, err error) {
	var payloads []types.Payload
	var redirect *types.Payload
	for i := range reply.Payloads {
		if reply.Payloads[i].Type == "redirect" {
			if redirect == nil {
				redirect = &reply.Payloads[i]
			}
			continue
		}
		payloads = append(payloads, reply.Payloads[i])
	}

	if err := d.sendContent(ctx, sessionID, payloads, reply.Source, reply.SourceDetails, reply.Confidence, event); err != nil {
		return false, err
	}
	executeFlows = false

	if redirect != nil && redirect.Flow != "" && redirect.Node != "" {
		if err := d.dialog.JumpTo(ctx, sessionID, event, redirect.Flow, redirect.Node); err != nil {
			return false, err
		}
		executeFlows = true
	}

	if !executeFlows {
		d.afterProcessed(ctx, event)
	}
	return executeFlows, nil
}

// sendContent replies to the event, records the turn history entry and
// persists session data (leaving any mid-flow context untouched).
func (d *DecisionEngine) sendContent(ctx context.Context, sessionID string, payloads []types.Payload, source, sourceDetails string, confidence float64, event *types.IncomingEvent) error {
	if err := d.transport.Reply(ctx, event, source, sourceDetails, payloads); err != nil {
		return err
	}

	preview := ""
	for _, p := range payloads {
		if p.Text != "" {
			preview = p.Text
			break
		}
	}
	event.State.Session.LastMessages = append(event.State.Session.LastMessages, types.TurnHistory{
		EventID:         event.ID,
		ReplyDate:       d.now(),
		ReplySource:     source + " " + sourceDetails,
		IncomingPreview: event.Preview,
		ReplyConfidence: confidence,
		ReplyPreview:    preview,
	})

	return d.state.Persist(ctx, sessionID, event, true)
}

// processErrorFlow is the fallback when the dialog engine itself blew
// up: jump to the error flow's entry node and run once. A failure here
// is final.
func (d *DecisionEngine) processErrorFlow(ctx context.Context, sessionID string, event *types.IncomingEvent) {
	if err := d.dialog.JumpTo(ctx, sessionID, event, flow.ErrorFlow, "entry"); err != nil {
		d.logger.Error("an error occurred in the error handler, abandoning",
			zap.String("bot_id", event.BotID), zap.Error(err))
		return
	}
	processed, err := d.dialog.ProcessEvent(ctx, sessionID, event)
	if err != nil {
		d.logger.Error("an error occurred in the error handler, abandoning",
			zap.String("bot_id", event.BotID), zap.Error(err))
		return
	}
	if err := d.state.Persist(ctx, sessionID, processed, false); err != nil {
		d.logger.Error("an error occurred in the error handler, abandoning",
			zap.String("bot_id", event.BotID), zap.Error(err))
	}
}

func (d *DecisionEngine) afterProcessed(ctx context.Context, event *types.IncomingEvent) {
	if d.OnAfterEventProcessed == nil {
		return
	}
	if err := d.OnAfterEventProcessed(ctx, event); err != nil {
		d.logger.Warn("after event processed callback failed",
			zap.String("bot_id", event.BotID), zap.Error(err))
	}
}

// dropSkillFrames removes skill subflow frames from the trace so that
// diagnostics only show user-authored flows.
func dropSkillFrames(event *types.IncomingEvent) {
	kept := event.State.Trace[:0]
	for _, f := range event.State.Trace {
		if !isSkillFrame(f) {
			kept = append(kept, f)
		}
	}
	event.State.Trace = kept
}

func isSkillFrame(f types.Frame) bool {
	return len(f.Flow) > 7 && f.Flow[:7] == "skills/"
}
