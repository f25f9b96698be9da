package types

import "time"

// EventType identifies what produced an incoming event.
type EventType string

const (
	EventText    EventType = "text"
	EventTimeout EventType = "timeout"
)

// Well-known processing flags. Flags are transient per event and never
// persisted.
const (
	// FlagSkipDialogEngine prevents the dialog engine from advancing
	// the state machine for this event.
	FlagSkipDialogEngine = "skipDialogEngine"
	// FlagForcePersistState persists the session state even when the
	// dialog engine did not run.
	FlagForcePersistState = "forcePersistState"
)

// Payload is one channel-ready message fragment produced by the render
// pipeline or carried by a suggestion.
type Payload struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Flow string         `json:"flow,omitempty"`
	Node string         `json:"node,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// DecisionStatus is the election outcome of one suggestion.
type DecisionStatus string

const (
	DecisionElected DecisionStatus = "elected"
	DecisionDropped DecisionStatus = "dropped"
)

// Decision records why a suggestion was elected or dropped.
type Decision struct {
	Status DecisionStatus `json:"status"`
	Reason string         `json:"reason"`
}

// Suggestion is a confidence-scored candidate reply competing for
// election in a turn. Transient; only the turn history it leaves behind
// is persisted.
type Suggestion struct {
	Confidence    float64   `json:"confidence"`
	Payloads      []Payload `json:"payloads"`
	Source        string    `json:"source"`
	SourceDetails string    `json:"sourceDetails,omitempty"`
	Decision      Decision  `json:"decision"`
}

// NDUActionType enumerates the structured directives of an event in
// structured-suggestion ("NDU") mode.
type NDUActionType string

const (
	NDUSend          NDUActionType = "send"
	NDURedirect      NDUActionType = "redirect"
	NDUStartWorkflow NDUActionType = "startWorkflow"
	NDUGoToNode      NDUActionType = "goToNode"
	NDUContinue      NDUActionType = "continue"
)

// SendContent is the payload of an NDU send directive.
type SendContent struct {
	Payloads      []Payload `json:"payloads"`
	Source        string    `json:"source"`
	SourceDetails string    `json:"sourceDetails,omitempty"`
	Confidence    float64   `json:"confidence"`
}

// FlowRedirect is the payload of redirect/startWorkflow/goToNode
// directives.
type FlowRedirect struct {
	Flow string `json:"flow"`
	Node string `json:"node,omitempty"`
}

// NDUAction is one structured directive.
type NDUAction struct {
	Action   NDUActionType `json:"action"`
	Content  *SendContent  `json:"content,omitempty"`
	Redirect *FlowRedirect `json:"redirect,omitempty"`
}

// NDUData marks an event as structured-suggestion mode and carries its
// directives.
type NDUData struct {
	Actions []NDUAction `json:"actions"`
}

// TurnHistory summarizes one reply sent during a conversation. The
// decision engine's no-repeat policy is evaluated against the most
// recent entry.
type TurnHistory struct {
	EventID         string    `json:"eventId"`
	ReplyDate       time.Time `json:"replyDate"`
	ReplySource     string    `json:"replySource"`
	IncomingPreview string    `json:"incomingPreview,omitempty"`
	ReplyConfidence float64   `json:"replyConfidence"`
	ReplyPreview    string    `json:"replyPreview,omitempty"`
}

// WorkflowStatus tracks one workflow entry in structured-suggestion
// mode.
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowCompleted WorkflowStatus = "completed"
)

// WorkflowRecord is one entry of the session's workflow map.
type WorkflowRecord struct {
	EventID string         `json:"eventId"`
	Status  WorkflowStatus `json:"status"`
	Parent  string         `json:"parent,omitempty"`
	Success *bool          `json:"success,omitempty"`
}

// SessionData is the session-level history owned by the conversation.
type SessionData struct {
	LastMessages    []TurnHistory              `json:"lastMessages,omitempty"`
	Workflows       map[string]*WorkflowRecord `json:"workflows,omitempty"`
	CurrentWorkflow string                     `json:"currentWorkflow,omitempty"`
	NLUContexts     []string                   `json:"nluContexts,omitempty"`
}

// EventError is a structured error recorded on an event during
// processing. Raw internal errors are never surfaced to the
// conversation; they accumulate here for diagnostics.
type EventError struct {
	Type        string `json:"type"`
	Stacktrace  string `json:"stacktrace,omitempty"`
	ActionName  string `json:"actionName,omitempty"`
	ActionArgs  string `json:"actionArgs,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// EventState is the mutable conversation state threaded through event
// processing and persisted as the session afterwards.
type EventState struct {
	Context *DialogContext `json:"context,omitempty"`
	Session SessionData    `json:"session"`
	Temp    map[string]any `json:"temp,omitempty"`

	// Workflow points at the session record of the workflow the
	// conversation is currently in (structured-suggestion mode only).
	Workflow *WorkflowRecord `json:"-"`

	// Trace is the ordered list of every (flow, node) visited this
	// turn. It feeds infinite-loop detection and the lastNode guard.
	Trace []Frame `json:"trace,omitempty"`
}

// IncomingEvent is one inbound message or timer event being reduced to
// state transitions over the flow graph.
type IncomingEvent struct {
	ID       string    `json:"id"`
	BotID    string    `json:"botId"`
	Channel  string    `json:"channel,omitempty"`
	Target   string    `json:"target"`
	ThreadID string    `json:"threadId,omitempty"`
	Type     EventType `json:"type"`
	Preview  string    `json:"preview,omitempty"`

	// Payload carries the channel payload of the inbound message; its
	// fields are exposed to guard expressions and action argument
	// templates.
	Payload map[string]any `json:"payload,omitempty"`

	NDU         *NDUData      `json:"ndu,omitempty"`
	Suggestions []*Suggestion `json:"suggestions,omitempty"`

	// Elected is the suggestion chosen by the decision engine for this
	// turn, if any.
	Elected *Suggestion `json:"decision,omitempty"`

	State  EventState   `json:"state"`
	Errors []EventError `json:"errors,omitempty"`

	flags map[string]bool
}

// SetFlag marks a processing flag on the event.
func (e *IncomingEvent) SetFlag(name string) {
	if e.flags == nil {
		e.flags = map[string]bool{}
	}
	e.flags[name] = true
}

// HasFlag reports whether a processing flag is set.
func (e *IncomingEvent) HasFlag(name string) bool {
	return e.flags[name]
}

// AddError records a structured error on the event.
func (e *IncomingEvent) AddError(ee EventError) {
	e.Errors = append(e.Errors, ee)
}

// PushTrace appends a frame to the turn's node-visit trace.
func (e *IncomingEvent) PushTrace(flow, node string) {
	e.State.Trace = append(e.State.Trace, Frame{Flow: flow, Node: node})
}
