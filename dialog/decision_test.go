package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/botflow/session"
	"github.com/BaSui01/botflow/types"
)

type decisionHarness struct {
	decision  *DecisionEngine
	store     *session.MemoryStore
	transport *recordingTransport
}

func newDecisionHarness(t *testing.T, flows map[string]string) *decisionHarness {
	t.Helper()
	eh := newEngineHarness(t, flows, nil)
	store := session.NewMemoryStore()
	state := NewStateManager(store, time.Minute, time.Hour, zaptest.NewLogger(t))
	d := NewDecisionEngine(DefaultPolicy(), eh.engine, state, eh.transport, nil, zaptest.NewLogger(t))
	return &decisionHarness{decision: d, store: store, transport: eh.transport}
}

func suggestion(confidence float64, source, details, text string) *types.Suggestion {
	return &types.Suggestion{
		Confidence:    confidence,
		Source:        source,
		SourceDetails: details,
		Payloads:      []types.Payload{{Type: "text", Text: text}},
	}
}

const endOnlyMainFlow = `{
	"startNode": "a",
	"nodes": [{"name": "a", "next": [{"condition": "true", "node": "END"}]}]
}`

func TestAmendSuggestionsLowConfidenceDropped(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})

	suggestions := []*types.Suggestion{suggestion(0.4, "qna", "ans-1", "maybe this?")}
	h.decision.amendSuggestionsWithDecision(suggestions, nil)

	assert.Equal(t, types.DecisionDropped, suggestions[0].Decision.Status)
	assert.Equal(t, "confidence lower than 0.5", suggestions[0].Decision.Reason)
}

func TestAmendSuggestionsElectsHighestConfidence(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})

	low := suggestion(0.6, "qna", "ans-1", "first")
	high := suggestion(0.9, "qna", "ans-2", "second")
	suggestions := []*types.Suggestion{low, high}
	h.decision.amendSuggestionsWithDecision(suggestions, nil)

	assert.Equal(t, types.DecisionElected, high.Decision.Status)
	assert.Equal(t, "best remaining suggestion available", high.Decision.Reason)
	assert.Equal(t, types.DecisionDropped, low.Decision.Status)
	assert.Equal(t, "best suggestion already elected", low.Decision.Reason)
}

func TestAmendSuggestionsNoRepeatPolicy(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})
	h.decision.policy.NoRepeatEnabled = true

	now := time.Now()
	h.decision.now = func() time.Time { return now }

	history := []types.TurnHistory{{
		ReplySource: "qna ans-1",
		ReplyDate:   now.Add(-5 * time.Second),
	}}

	repeat := suggestion(0.9, "qna", "ans-1", "same answer")
	fresh := suggestion(0.7, "qna", "ans-2", "other answer")
	suggestions := []*types.Suggestion{repeat, fresh}
	h.decision.amendSuggestionsWithDecision(suggestions, history)

	assert.Equal(t, types.DecisionDropped, repeat.Decision.Status)
	assert.Equal(t, "bot would repeat itself (within 20000ms)", repeat.Decision.Reason)
	assert.Equal(t, types.DecisionElected, fresh.Decision.Status)
}

func TestAmendSuggestionsRepeatOutsideCooldownIsFine(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})
	h.decision.policy.NoRepeatEnabled = true

	now := time.Now()
	h.decision.now = func() time.Time { return now }

	history := []types.TurnHistory{{
		ReplySource: "qna ans-1",
		ReplyDate:   now.Add(-time.Minute),
	}}

	repeat := suggestion(0.9, "qna", "ans-1", "same answer")
	h.decision.amendSuggestionsWithDecision([]*types.Suggestion{repeat}, history)

	assert.Equal(t, types.DecisionElected, repeat.Decision.Status)
}

func TestProcessEventMidFlowDropsElected(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{
		"main.flow.json": `{
			"startNode": "ask",
			"nodes": [
				{"name": "ask", "type": "listen", "next": [{"condition": "true", "node": "END"}]}
			]
		}`,
	})
	event := textEvent("hi")
	event.State.Context = &types.DialogContext{CurrentFlow: "main.flow.json", CurrentNode: "ask"}
	event.Suggestions = []*types.Suggestion{suggestion(0.9, "qna", "ans-1", "interrupting answer")}

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	assert.Equal(t, types.DecisionDropped, event.Suggestions[0].Decision.Status)
	assert.Equal(t, "would have been elected, but already in the middle of a flow", event.Suggestions[0].Decision.Reason)
	// The flow keeps running instead.
	assert.NotNil(t, event.Elected)
	assert.Equal(t, "decisionEngine", event.Elected.Source)
}

func TestProcessEventDefaultElectionRunsDefaultFlow(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})
	event := textEvent("hi")

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	require.NotNil(t, event.Elected)
	assert.Equal(t, types.DecisionElected, event.Elected.Decision.Status)
	assert.Equal(t, "no suggestion matched", event.Elected.Decision.Reason)
	assert.Equal(t, "decisionEngine", event.Elected.Source)
	assert.Equal(t, "execute default flow", event.Elected.SourceDetails)
	assert.Equal(t, float64(1), event.Elected.Confidence)

	// The turn's state was persisted.
	_, err := h.store.Get(context.Background(), "sid")
	assert.NoError(t, err)
}

func TestProcessEventElectedSuggestionSkipsFlows(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{
		"main.flow.json": `{
			"startNode": "a",
			"nodes": [
				{
					"name": "a",
					"onEnter": ["say builtin_text {\"text\": \"from flow\"}"],
					"next": [{"condition": "true", "node": "END"}]
				}
			]
		}`,
	})
	event := textEvent("what are your hours?")
	event.Suggestions = []*types.Suggestion{suggestion(0.9, "qna", "ans-hours", "9 to 5")}

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	// Only the suggestion's payloads went out; the default flow did not run.
	assert.Equal(t, []string{"9 to 5"}, h.transport.texts())

	require.Len(t, event.State.Session.LastMessages, 1)
	assert.Equal(t, "qna ans-hours", event.State.Session.LastMessages[0].ReplySource)
	assert.Equal(t, 0.9, event.State.Session.LastMessages[0].ReplyConfidence)

	// sendContent persists without touching the dialog context.
	sess, err := h.store.Get(context.Background(), "sid")
	require.NoError(t, err)
	assert.True(t, sess.Context.IsEmpty())
	require.Len(t, sess.SessionData.LastMessages, 1)
}

func TestProcessEventRedirectPayloadJumps(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{
		"main.flow.json": endOnlyMainFlow,
		"faq.flow.json": `{
			"startNode": "hours",
			"nodes": [
				{"name": "hours", "next": [{"condition": "true", "node": "answer"}]},
				{
					"name": "answer",
					"onEnter": ["say builtin_text {\"text\": \"open 9 to 5\"}"],
					"next": [{"condition": "true", "node": "END"}]
				}
			]
		}`,
	})
	event := textEvent("hours?")
	elected := suggestion(0.9, "qna", "ans-hours", "")
	elected.Payloads = []types.Payload{{Type: "redirect", Flow: "faq.flow.json", Node: "hours"}}
	event.Suggestions = []*types.Suggestion{elected}

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	// The redirect repositions the conversation and script execution
	// continues from the target's transition checks.
	assert.Equal(t, []string{"open 9 to 5"}, h.transport.texts())
}

func TestProcessEventSkipDialogEngineFlag(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})
	event := textEvent("hi")
	event.SetFlag(types.FlagSkipDialogEngine)

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	assert.Nil(t, event.Elected)
	_, err := h.store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestProcessEventForcePersistFlag(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{"main.flow.json": endOnlyMainFlow})
	event := textEvent("hi")
	event.SetFlag(types.FlagSkipDialogEngine)
	event.SetFlag(types.FlagForcePersistState)

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	_, err := h.store.Get(context.Background(), "sid")
	assert.NoError(t, err)
}

func TestProcessStructuredSendAndContinue(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{
		"main.flow.json":          endOnlyMainFlow,
		"misunderstood.flow.json": endOnlyMainFlow,
	})
	event := textEvent("hi")
	event.NDU = &types.NDUData{Actions: []types.NDUAction{
		{Action: types.NDUSend, Content: &types.SendContent{
			Payloads:   []types.Payload{{Type: "text", Text: "structured reply"}},
			Source:     "nlu",
			Confidence: 0.8,
		}},
		{Action: types.NDUContinue},
	}}

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	assert.Equal(t, []string{"structured reply"}, h.transport.texts())
	require.Len(t, event.State.Session.LastMessages, 1)
	assert.Equal(t, 0.8, event.State.Session.LastMessages[0].ReplyConfidence)
}

func TestProcessStructuredRedirect(t *testing.T) {
	h := newDecisionHarness(t, map[string]string{
		"main.flow.json": endOnlyMainFlow,
		"billing.flow.json": `{
			"startNode": "entry",
			"nodes": [{"name": "entry", "next": [{"condition": "true", "node": "END"}]}]
		}`,
	})
	event := textEvent("hi")
	event.NDU = &types.NDUData{Actions: []types.NDUAction{
		{Action: types.NDURedirect, Redirect: &types.FlowRedirect{Flow: "billing"}},
	}}

	require.NoError(t, h.decision.ProcessEvent(context.Background(), "sid", event))

	// Redirect alone repositions without running the engine.
	require.NotNil(t, event.State.Context)
	assert.Equal(t, "billing.flow.json", event.State.Context.CurrentFlow)
	assert.True(t, event.State.Context.HasJumped)
}

func TestDropSkillFrames(t *testing.T) {
	event := textEvent("hi")
	event.State.Trace = []types.Frame{
		{Flow: "main.flow.json", Node: "a"},
		{Flow: "skills/choice-x.flow.json", Node: "entry"},
		{Flow: "main.flow.json", Node: "b"},
	}

	dropSkillFrames(event)

	assert.Equal(t, []types.Frame{
		{Flow: "main.flow.json", Node: "a"},
		{Flow: "main.flow.json", Node: "b"},
	}, event.State.Trace)
}
