package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"

	"github.com/BaSui01/botflow/types"
)

// maxTurnHistory bounds the session's rolling reply history.
const maxTurnHistory = 10

// followUp tells the engine what to do after one instruction ran.
type followUp int

const (
	// followNone continues with the next queued instruction.
	followNone followUp = iota
	// followWait suspends the turn until the next inbound event.
	followWait
	// followTransition repositions the context at the result's
	// destination.
	followTransition
)

// processResult is the outcome of executing one instruction.
type processResult struct {
	followUp followUp

	// destination is the raw destination specifier of the matched
	// transition.
	destination string
}

var (
	resultContinue = processResult{followUp: followNone}
	resultWait     = processResult{followUp: followWait}
)

func resultTransition(dest string) processResult {
	return processResult{followUp: followTransition, destination: dest}
}

// Processor executes single instructions: wait markers, transition
// guards, say directives and custom actions. Action failures never
// surface to the caller; they are recorded on the event and converted
// into an error-flow transition.
type Processor struct {
	evaluator *Evaluator
	renderer  Renderer
	transport ReplyTransport
	actions   ActionRunner
	logger    *zap.Logger
}

// NewProcessor creates an instruction processor.
func NewProcessor(evaluator *Evaluator, renderer Renderer, transport ReplyTransport, actions ActionRunner, logger *zap.Logger) *Processor {
	return &Processor{
		evaluator: evaluator,
		renderer:  renderer,
		transport: transport,
		actions:   actions,
		logger:    logger.With(zap.String("component", "instruction_processor")),
	}
}

// Process executes one instruction against the event.
func (p *Processor) Process(ctx context.Context, instr types.Instruction, event *types.IncomingEvent) (processResult, error) {
	switch instr.Type {
	case types.InstructionWait:
		return resultWait, nil

	case types.InstructionTransition:
		if p.evaluator.Evaluate(ctx, instr.Condition, event) {
			return resultTransition(instr.Node), nil
		}
		return resultContinue, nil

	case types.InstructionOnEnter, types.InstructionOnReceive:
		if err := p.invoke(ctx, instr.Fn, event); err != nil {
			return p.failAction(instr.Fn, event, err), nil
		}
		return resultContinue, nil

	default:
		return resultContinue, fmt.Errorf("unknown instruction type: %s", instr.Type)
	}
}

// failAction records the failure on the event and redirects to the
// error flow. Actions may pre-empt the redirect target through
// temp.onErrorFlowTo.
func (p *Processor) failAction(fn string, event *types.IncomingEvent, err error) processResult {
	name, _, _ := splitAction(fn)
	p.logger.Warn("action failed, transitioning to error flow",
		zap.String("action", name), zap.String("bot_id", event.BotID), zap.Error(err))

	event.AddError(types.EventError{
		Type:       "action-execution",
		ActionName: name,
		Stacktrace: err.Error(),
	})

	dest := "error.flow.json"
	if to, ok := event.State.Temp["onErrorFlowTo"].(string); ok && to != "" {
		dest = to
	}
	return resultTransition(dest)
}

// invoke runs one action string. The "say" directive renders a content
// element and replies; anything else dispatches to the action runner.
func (p *Processor) invoke(ctx context.Context, fn string, event *types.IncomingEvent) error {
	name, rawArgs, onServer := splitAction(fn)
	if name == "" {
		return nil
	}

	if name == "say" {
		return p.say(ctx, rawArgs, event)
	}

	if !p.actions.HasAction(name) {
		return &types.ActionExecutionError{ActionName: name, Cause: fmt.Errorf("action not found: %s", name)}
	}
	args, err := p.expandArgs(rawArgs, event)
	if err != nil {
		return &types.ActionExecutionError{ActionName: name, Cause: err}
	}
	call := ActionCall{Name: name, Args: args, OnServer: onServer}
	if err := p.actions.RunAction(ctx, call, event); err != nil {
		return &types.ActionExecutionError{ActionName: name, Stacktrace: err.Error(), Cause: err}
	}
	return nil
}

// say renders the content element named by the directive and sends it.
//
//	say #!builtin_text-Ab12Cd          (content element reference)
//	say builtin_text {"text": "hi"}    (inline args)
func (p *Processor) say(ctx context.Context, rawArgs string, event *types.IncomingEvent) error {
	contentID, rest, _ := strings.Cut(strings.TrimSpace(rawArgs), " ")
	if contentID == "" {
		return &types.ActionExecutionError{ActionName: "say", Cause: fmt.Errorf("say directive without content")}
	}
	contentID = strings.TrimPrefix(contentID, "#!")

	args, err := p.expandArgs(rest, event)
	if err != nil {
		return &types.ActionExecutionError{ActionName: "say", Cause: err}
	}

	payloads, err := p.renderer.Render(ctx, event.BotID, contentID, args, event)
	if err != nil {
		return &types.ActionExecutionError{ActionName: "say", Stacktrace: err.Error(), Cause: err}
	}
	if err := p.transport.Reply(ctx, event, "dialogManager", contentID, payloads); err != nil {
		return &types.ActionExecutionError{ActionName: "say", Stacktrace: err.Error(), Cause: err}
	}

	recordReply(event, "dialogManager", payloads)
	return nil
}

// recordReply appends a turn-history entry so the no-repeat policy can
// see what the bot last said.
func recordReply(event *types.IncomingEvent, source string, payloads []types.Payload) {
	preview := ""
	for _, pl := range payloads {
		if pl.Text != "" {
			preview = pl.Text
			break
		}
	}

	history := append(event.State.Session.LastMessages, types.TurnHistory{
		EventID:         event.ID,
		ReplyDate:       time.Now(),
		ReplySource:     source,
		IncomingPreview: event.Preview,
		ReplyPreview:    preview,
		ReplyConfidence: 1,
	})
	if len(history) > maxTurnHistory {
		history = history[len(history)-maxTurnHistory:]
	}
	event.State.Session.LastMessages = history
}

// splitAction breaks an action string into name, raw argument text and
// the optional "@server" execution marker.
func splitAction(fn string) (name, rawArgs string, onServer bool) {
	fn = strings.TrimSpace(fn)
	if strings.HasSuffix(fn, "@server") {
		onServer = true
		fn = strings.TrimSpace(strings.TrimSuffix(fn, "@server"))
	}
	name, rawArgs, _ = strings.Cut(fn, " ")
	return name, strings.TrimSpace(rawArgs), onServer
}

// expandArgs parses the raw argument text (a JSON object, or plain text
// mapped to {"text": ...}) and expands {{expression}} templates in
// string values against the guard environment.
func (p *Processor) expandArgs(rawArgs string, event *types.IncomingEvent) (map[string]any, error) {
	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if strings.HasPrefix(rawArgs, "{") {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, fmt.Errorf("parsing action arguments: %w", err)
		}
	} else {
		args = map[string]any{"text": rawArgs}
	}

	env := guardEnv(event)
	for k, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		expanded, err := expandTemplate(s, env)
		if err != nil {
			return nil, fmt.Errorf("expanding argument %q: %w", k, err)
		}
		args[k] = expanded
	}
	return args, nil
}

// expandTemplate substitutes {{expression}} segments. A value that is a
// single template evaluates to the expression result itself; mixed text
// stringifies each segment.
func expandTemplate(s string, env map[string]any) (any, error) {
	start := strings.Index(s, "{{")
	if start < 0 {
		return s, nil
	}

	evalOne := func(code string) (any, error) {
		out, err := expr.Eval(strings.TrimSpace(code), env)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	// Whole-string template keeps the result's type.
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") && strings.Count(s, "{{") == 1 {
		return evalOne(s[2 : len(s)-2])
	}

	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, "{{")
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i+2:]
		j := strings.Index(rest, "}}")
		if j < 0 {
			return nil, fmt.Errorf("unterminated template in %q", s)
		}
		out, err := evalOne(rest[:j])
		if err != nil {
			return nil, err
		}
		if out != nil {
			fmt.Fprint(&b, out)
		}
		rest = rest[j+2:]
	}
	return b.String(), nil
}
