package types

import (
	"errors"
	"fmt"
	"strings"
)

// FlowError reports that a flow or node could not be resolved. It is
// fatal to the current turn: the engine redirects to the error flow.
type FlowError struct {
	BotID string
	Flow  string
	Node  string
	Msg   string
}

func (e *FlowError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.BotID != "" {
		fmt.Fprintf(&b, " (bot %s", e.BotID)
		if e.Flow != "" {
			fmt.Fprintf(&b, ", flow %s", e.Flow)
		}
		if e.Node != "" {
			fmt.Fprintf(&b, ", node %s", e.Node)
		}
		b.WriteString(")")
	}
	return b.String()
}

// NewFlowError builds a FlowError. Flow and node may be empty when the
// failure happened before they were resolved.
func NewFlowError(msg, botID, flow, node string) *FlowError {
	return &FlowError{BotID: botID, Flow: flow, Node: node, Msg: msg}
}

// InfiniteLoopError reports that the same (flow, node) pair was visited
// at least three times within a single turn. It is a FlowError subtype
// that must never be redirected to the error flow: the engine clears all
// conversation state and re-throws it.
type InfiniteLoopError struct {
	FlowError
	// Path is the minimal recurring sub-path between the first two
	// occurrences of the repeated node, for diagnostics.
	Path []string
}

func (e *InfiniteLoopError) Error() string {
	return fmt.Sprintf("infinite loop detected on %s (%s) for bot %s:\n%s",
		e.Flow, e.Node, e.BotID, strings.Join(e.Path, "\n"))
}

// Unwrap exposes the embedded FlowError so errors.As keeps working for
// callers that only care about the broader category.
func (e *InfiniteLoopError) Unwrap() error {
	return &e.FlowError
}

// NewInfiniteLoopError builds an InfiniteLoopError carrying the
// recurring path for diagnostics.
func NewInfiniteLoopError(path []string, botID, flow, node string) *InfiniteLoopError {
	return &InfiniteLoopError{
		FlowError: FlowError{BotID: botID, Flow: flow, Node: node, Msg: "infinite loop detected"},
		Path:      path,
	}
}

// ActionExecutionError reports that a named action threw during
// execution. It is recoverable: the processor converts it into an
// error-flow redirect instead of propagating it to the caller.
type ActionExecutionError struct {
	ActionName string
	Stacktrace string
	Cause      error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.ActionName, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error { return e.Cause }

// TimeoutNodeNotFoundError reports that no timeout handling is
// configured anywhere in the resolution chain. The janitor simply
// clears the stale context when it sees this.
type TimeoutNodeNotFoundError struct {
	BotID string
	Flow  string
}

func (e *TimeoutNodeNotFoundError) Error() string {
	return fmt.Sprintf("no timeout node configured for bot %s (flow %s)", e.BotID, e.Flow)
}

// MutexError reports a flow-edit lock conflict (two editors racing on
// the same flow). It is logged only and never interrupts dialog
// processing.
type MutexError struct {
	Flow  string
	Owner string
}

func (e *MutexError) Error() string {
	return fmt.Sprintf("flow %q is currently locked by %q", e.Flow, e.Owner)
}

// IsFlowError reports whether err is a FlowError (including the
// InfiniteLoopError subtype).
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

// IsInfiniteLoop reports whether err is an InfiniteLoopError.
func IsInfiniteLoop(err error) bool {
	var le *InfiniteLoopError
	return errors.As(err, &le)
}
