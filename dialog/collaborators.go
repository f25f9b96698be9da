package dialog

import (
	"context"

	"github.com/BaSui01/botflow/types"
)

// Renderer expands a content element into channel-ready payloads. The
// args carry the template arguments of the say directive after
// expression expansion.
type Renderer interface {
	Render(ctx context.Context, botID, contentID string, args map[string]any, event *types.IncomingEvent) ([]types.Payload, error)
}

// ReplyTransport delivers rendered payloads back to the conversation's
// channel.
type ReplyTransport interface {
	Reply(ctx context.Context, event *types.IncomingEvent, source, sourceDetails string, payloads []types.Payload) error
}

// ActionCall is one action dispatch: the parsed action name, its
// expanded arguments and whether the trailing "@server" marker routes
// the action to the bot's action server.
type ActionCall struct {
	Name     string
	Args     map[string]any
	OnServer bool
}

// ActionRunner executes named actions. HasAction gates dispatch: an
// unknown action is an execution failure, not a silent no-op. Mutations
// the action applies to the event state are the action's reply channel;
// a returned error is converted by the processor into an error-flow
// redirect, never propagated raw.
type ActionRunner interface {
	HasAction(actionName string) bool
	RunAction(ctx context.Context, call ActionCall, event *types.IncomingEvent) error
}

// ActionRunnerFunc adapts a function to ActionRunner. It claims every
// action name.
type ActionRunnerFunc func(ctx context.Context, call ActionCall, event *types.IncomingEvent) error

func (f ActionRunnerFunc) HasAction(string) bool { return true }

func (f ActionRunnerFunc) RunAction(ctx context.Context, call ActionCall, event *types.IncomingEvent) error {
	return f(ctx, call, event)
}

// TextRenderer is a minimal Renderer that turns the directive's text
// argument into a single text payload. Useful for development and
// tests; production deployments plug in the real content pipeline.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, _ string, contentID string, args map[string]any, _ *types.IncomingEvent) ([]types.Payload, error) {
	text, _ := args["text"].(string)
	return []types.Payload{{Type: "text", Text: text, Data: map[string]any{"contentId": contentID}}}, nil
}

// NopTransport discards replies.
type NopTransport struct{}

func (NopTransport) Reply(context.Context, *types.IncomingEvent, string, string, []types.Payload) error {
	return nil
}

// NopActionRunner accepts every action and does nothing.
type NopActionRunner struct{}

func (NopActionRunner) HasAction(string) bool { return true }

func (NopActionRunner) RunAction(context.Context, ActionCall, *types.IncomingEvent) error {
	return nil
}

var (
	_ Renderer       = TextRenderer{}
	_ ReplyTransport = NopTransport{}
	_ ActionRunner   = NopActionRunner{}
)
