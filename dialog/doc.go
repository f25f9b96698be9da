// Package dialog implements the conversational flow execution engine:
// suggestion election, flow-graph traversal, instruction compilation
// and execution, and the janitor reconciling stale sessions.
//
// The engine is a state machine over immutable flow definitions. Each
// incoming event is reduced to a sequence of instructions (enter
// actions, an optional wait, receive actions, transition checks) that
// are executed until the queue drains, a wait pauses the turn, or a
// transition repositions the context. All conversation state lives on
// the event and is persisted through the session store afterwards.
package dialog
