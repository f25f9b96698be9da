package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/botflow/types"
)

func textEvent(preview string) *types.IncomingEvent {
	return &types.IncomingEvent{
		ID:      "evt-1",
		BotID:   "bot1",
		Type:    types.EventText,
		Preview: preview,
		Payload: map[string]any{"type": "text", "text": preview},
		State: types.EventState{
			Temp: map[string]any{},
		},
	}
}

func TestEvaluateLiteralTrue(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	event := textEvent("hi")

	assert.True(t, e.Evaluate(context.Background(), "true", event))
	assert.True(t, e.Evaluate(context.Background(), "", event))
	assert.True(t, e.Evaluate(context.Background(), "  true  ", event))
}

func TestEvaluateEventFields(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	event := textEvent("yes")
	ctx := context.Background()

	assert.True(t, e.Evaluate(ctx, `event.preview == "yes"`, event))
	assert.False(t, e.Evaluate(ctx, `event.preview == "no"`, event))
	assert.True(t, e.Evaluate(ctx, `event.type == "text"`, event))
	assert.True(t, e.Evaluate(ctx, `event.payload.text == "yes"`, event))
}

func TestEvaluateTempAndSession(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	event := textEvent("hi")
	event.State.Temp["attempts"] = 3
	ctx := context.Background()

	assert.True(t, e.Evaluate(ctx, "temp.attempts > 2", event))
	assert.False(t, e.Evaluate(ctx, "temp.attempts > 5", event))
}

func TestEvaluateLastNodeIsSecondToLastFrame(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	event := textEvent("hi")
	event.State.Trace = []types.Frame{
		{Flow: "main.flow.json", Node: "ask"},
		{Flow: "main.flow.json", Node: "confirm"},
	}
	ctx := context.Background()

	assert.True(t, e.Evaluate(ctx, `lastNode == "ask"`, event))

	// With a single frame there is no previous node yet.
	event.State.Trace = event.State.Trace[:1]
	assert.True(t, e.Evaluate(ctx, `lastNode == ""`, event))
}

func TestEvaluateCompileErrorIsNonMatch(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	assert.False(t, e.Evaluate(context.Background(), "this is not ((valid", textEvent("hi")))
}

func TestEvaluateRuntimeErrorIsNonMatch(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	// Indexing a string with a map key fails at runtime, not compile time.
	assert.False(t, e.Evaluate(context.Background(), `event.preview["x"] == 1`, textEvent("hi")))
}

func TestEvaluateUndefinedVariableIsNonMatch(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	assert.False(t, e.Evaluate(context.Background(), "nonexistent.field == 1", textEvent("hi")))
}

func TestEvaluateProgramCacheReuse(t *testing.T) {
	e := NewEvaluator(0, nil, zaptest.NewLogger(t))
	ctx := context.Background()
	cond := `event.preview == "hi"`

	assert.True(t, e.Evaluate(ctx, cond, textEvent("hi")))
	assert.Len(t, e.programs, 1)

	assert.False(t, e.Evaluate(ctx, cond, textEvent("bye")))
	assert.Len(t, e.programs, 1)
}

func TestIsUnsafe(t *testing.T) {
	assert.False(t, isUnsafe(`event.preview == "hi"`))
	assert.False(t, isUnsafe("temp.count > 3"))
	assert.True(t, isUnsafe(`len(event.preview) > 0`))
	assert.True(t, isUnsafe("`template`"))
}

func TestEvaluateSandboxedCall(t *testing.T) {
	e := NewEvaluator(time.Second, nil, zaptest.NewLogger(t))
	// A function call routes through the sandbox but still returns its
	// result when it finishes in time.
	assert.True(t, e.Evaluate(context.Background(), `len(event.preview) == 2`, textEvent("hi")))
}

func TestEvaluateSandboxTimeoutIsNonMatch(t *testing.T) {
	e := NewEvaluator(time.Millisecond, nil, zaptest.NewLogger(t))
	event := textEvent("hi")
	ctx := context.Background()

	// Filtering a large range takes far longer than the deadline; the
	// guard would match if it ever finished.
	slow := "len(filter(1..500000, {# >= 0})) > 0"
	assert.False(t, e.Evaluate(ctx, slow, event))

	// The abandoned evaluation must not wedge the evaluator for the
	// guards that follow.
	assert.True(t, e.Evaluate(ctx, `len(event.preview) == 2`, event))
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"false", false},
		{"yes", true},
		{0, false},
		{7, true},
		{int64(0), false},
		{float64(0), false},
		{0.5, true},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.value), "value %#v", tt.value)
	}
}
