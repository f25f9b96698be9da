package types

// JumpPoint is a call-stack frame recording where to resume after a
// subflow returns. A frame is consumed (Used=true) exactly once per
// return traversal; used frames are pruned before the next transition.
type JumpPoint struct {
	Flow string `json:"flow"`
	Node string `json:"node"`

	// Used marks the frame as consumed by a return transition. A node
	// with several transitions processes each one separately; keeping
	// the consumed frame around (instead of removing it) is what lets
	// the later transitions still be recognized as "exiting a subflow".
	Used bool `json:"used,omitempty"`

	// ExecuteNode forces the parent node to re-run its full instruction
	// queue on return (the "##" destination) instead of only its
	// transition checks.
	ExecuteNode bool `json:"executeNode,omitempty"`
}

// JumpStack is the owned, append-only stack of jump points on a
// conversation's dialog context.
type JumpStack []*JumpPoint

// Push appends a frame recording the current position.
func (s JumpStack) Push(flow, node string) JumpStack {
	return append(s, &JumpPoint{Flow: flow, Node: node})
}

// LastUnused returns the most recent frame not yet consumed by a return
// transition, or nil when the stack holds none.
func (s JumpStack) LastUnused() *JumpPoint {
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Used {
			return s[i]
		}
	}
	return nil
}

// FirstUsed returns the earliest consumed frame, or nil. The engine
// compares it against the current position to decide whether it is
// currently exiting a subflow.
func (s JumpStack) FirstUsed() *JumpPoint {
	for _, jp := range s {
		if jp.Used {
			return jp
		}
	}
	return nil
}

// PruneUsed drops consumed frames, keeping order.
func (s JumpStack) PruneUsed() JumpStack {
	out := s[:0]
	for _, jp := range s {
		if !jp.Used {
			out = append(out, jp)
		}
	}
	return out
}

// Frame is one entry of the node-visit trace recorded during a turn.
// The trace is the input of infinite-loop detection and of the
// lastNode guard variable.
type Frame struct {
	Flow string `json:"flow"`
	Node string `json:"node"`
}

// DialogContext is the persisted per-conversation position in the flow
// graph. Queue is present only while mid-node execution is suspended
// waiting for the next event.
type DialogContext struct {
	CurrentFlow  string    `json:"currentFlow,omitempty"`
	CurrentNode  string    `json:"currentNode,omitempty"`
	PreviousFlow string    `json:"previousFlow,omitempty"`
	PreviousNode string    `json:"previousNode,omitempty"`
	JumpPoints   JumpStack `json:"jumpPoints,omitempty"`

	// Queue holds the remaining instructions of the current node when
	// execution paused. It is restored verbatim, never recompiled.
	Queue []Instruction `json:"queue,omitempty"`

	// HasJumped indicates the context was repositioned by a jump; the
	// next queue build then skips enter/receive instructions.
	HasJumped bool `json:"hasJumped,omitempty"`
}

// IsEmpty reports whether the context has not been initialized yet.
func (c *DialogContext) IsEmpty() bool {
	return c == nil || c.CurrentFlow == ""
}
