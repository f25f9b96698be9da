/*
Package types defines the shared data model of the botflow dialog
orchestration engine.

# Core types

  - IncomingEvent    — one inbound message or timer event, carrying the
    mutable conversation state while it is being processed
  - DialogContext    — per-conversation position in the flow graph,
    including the jump-point stack used for subflow call/return
  - Instruction      — one compiled unit of work (run action, render
    reply, check transition, wait)
  - Suggestion       — a confidence-scored candidate reply competing for
    election in a turn

# Errors

The package also defines the dialog error taxonomy: FlowError,
InfiniteLoopError, ActionExecutionError, TimeoutNodeNotFoundError and
MutexError. See error.go for the propagation contract of each.
*/
package types
