package types

// InstructionType discriminates the compiled units of work produced for
// a node.
type InstructionType string

const (
	// InstructionOnEnter runs an enter action (or say directive).
	InstructionOnEnter InstructionType = "on-enter"
	// InstructionOnReceive runs a receive action after the wait.
	InstructionOnReceive InstructionType = "on-receive"
	// InstructionTransition evaluates one transition guard.
	InstructionTransition InstructionType = "transition"
	// InstructionWait pauses execution until the next inbound event.
	InstructionWait InstructionType = "wait"
)

// Instruction is one queued unit of work. Instructions are produced
// fresh per node entry and never persisted individually; only the
// remaining queue travels with the dialog context when execution must
// pause.
type Instruction struct {
	Type InstructionType `json:"type"`

	// Fn is the raw action string for on-enter/on-receive instructions:
	// either `say <contentType> <args>` or `<action> [{json args}] [@server]`.
	Fn string `json:"fn,omitempty"`

	// Condition is the guard expression of a transition instruction.
	// The literal "true" always passes.
	Condition string `json:"condition,omitempty"`

	// Node is the raw destination specifier of a transition instruction.
	Node string `json:"node,omitempty"`
}
