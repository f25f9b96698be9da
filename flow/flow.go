package flow

import "strings"

// FileSuffix is the storage suffix of a flow definition file. Flow
// names keep the suffix; user-facing workflow names drop it.
const FileSuffix = ".flow.json"

// LayoutSuffix is the storage suffix of the paired layout file.
const LayoutSuffix = ".ui.json"

// Reserved flow names with contract-level meaning.
const (
	MainFlow            = "main" + FileSuffix
	MisunderstoodFlow   = "misunderstood" + FileSuffix
	ErrorFlow           = "error" + FileSuffix
	TimeoutFlow         = "timeout" + FileSuffix
	ConversationEndFlow = "conversation_end" + FileSuffix
)

// TimeoutNodeName is the reserved node name checked during timeout
// resolution.
const TimeoutNodeName = "timeout"

// NodeType discriminates node behavior during traversal.
type NodeType string

const (
	NodeStandard  NodeType = "standard"
	NodeSkillCall NodeType = "skill-call"
	NodeSay       NodeType = "say_something"
	NodeSuccess   NodeType = "success"
	NodeFailure   NodeType = "failure"
	NodeListen    NodeType = "listen"
)

// Transition is one outgoing edge of a node. Condition is a guard
// expression; the literal "true" always passes. Node keeps the raw
// destination specifier; Dest is its parsed form.
type Transition struct {
	Condition string `json:"condition"`
	Node      string `json:"node"`

	Dest Destination `json:"-"`
}

// Node is a single step in a flow. Nodes are read-only during
// execution.
type Node struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name"`
	Type NodeType `json:"type,omitempty"`

	// Flow names the subflow a skill-call node points at.
	Flow string `json:"flow,omitempty"`

	OnEnter   []string     `json:"onEnter,omitempty"`
	OnReceive []string     `json:"onReceive,omitempty"`
	Next      []Transition `json:"next,omitempty"`

	Content map[string]any `json:"content,omitempty"`

	// Timeout names the node to jump to when the session's context
	// goes stale while waiting on this node.
	Timeout string `json:"timeout,omitempty"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// CatchAll holds flow-level fallback instructions applied to every
// node of the flow.
type CatchAll struct {
	OnReceive []string     `json:"onReceive,omitempty"`
	Next      []Transition `json:"next,omitempty"`
}

// Flow is a named graph representing one reusable conversation script.
// A Flow is immutable once loaded for a given cache generation and
// replaced wholesale on invalidation.
type Flow struct {
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartNode string    `json:"startNode"`
	Nodes     []*Node   `json:"nodes"`
	CatchAll  *CatchAll `json:"catchAll,omitempty"`

	// TimeoutNode names the flow-level timeout entry node.
	TimeoutNode string `json:"timeoutNode,omitempty"`

	// Parent is the name of the structurally-containing flow, derived
	// from path-like naming. Synthesized only when the bot operates in
	// one-flow mode.
	Parent string `json:"-"`

	// Mutex is the current editing lease on the flow, if any.
	Mutex *Mutex `json:"currentMutex,omitempty"`
}

// FindNode returns the named node or nil.
func (f *Flow) FindNode(name string) *Node {
	for _, n := range f.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// BaseName returns the flow name without the storage suffix; this is
// the workflow name used by session bookkeeping.
func (f *Flow) BaseName() string {
	return strings.TrimSuffix(f.Name, FileSuffix)
}

// NormalizeName appends the storage suffix when missing, so callers may
// refer to flows with or without it.
func NormalizeName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), FileSuffix) {
		return name
	}
	return name + FileSuffix
}
