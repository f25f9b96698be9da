package dialog

import (
	"github.com/BaSui01/botflow/flow"
	"github.com/BaSui01/botflow/types"
)

// queue is the per-node instruction queue. It is rebuilt fresh on every
// node entry; only its remaining instructions travel with the dialog
// context when a wait suspends the turn.
type queue struct {
	instructions []types.Instruction
}

func newQueue(instructions ...types.Instruction) *queue {
	return &queue{instructions: instructions}
}

// restoreQueue rebuilds a queue from the snapshot stored on a suspended
// dialog context.
func restoreQueue(snapshot []types.Instruction) *queue {
	return &queue{instructions: append([]types.Instruction(nil), snapshot...)}
}

func (q *queue) empty() bool { return len(q.instructions) == 0 }

// dequeue pops the head instruction. Callers must check empty first.
func (q *queue) dequeue() types.Instruction {
	head := q.instructions[0]
	q.instructions = q.instructions[1:]
	return head
}

// snapshot returns the remaining instructions for persistence.
func (q *queue) snapshot() []types.Instruction {
	if len(q.instructions) == 0 {
		return nil
	}
	return append([]types.Instruction(nil), q.instructions...)
}

// buildQueue compiles a node into its instruction queue:
//
//	on-enter* [wait on-receive*] transition*
//
// The wait/receive section is emitted only when the node has receive
// handlers or is a listen node. Flow-level catch-all receive handlers
// and transitions are prepended to the node's own.
func buildQueue(f *flow.Flow, n *flow.Node) *queue {
	var ins []types.Instruction

	for _, fn := range n.OnEnter {
		ins = append(ins, types.Instruction{Type: types.InstructionOnEnter, Fn: fn})
	}

	var onReceive []string
	if f.CatchAll != nil {
		onReceive = append(onReceive, f.CatchAll.OnReceive...)
	}
	onReceive = append(onReceive, n.OnReceive...)

	if n.OnReceive != nil || n.Type == flow.NodeListen {
		ins = append(ins, types.Instruction{Type: types.InstructionWait})
		for _, fn := range onReceive {
			ins = append(ins, types.Instruction{Type: types.InstructionOnReceive, Fn: fn})
		}
	}

	return &queue{instructions: append(ins, transitionInstructions(f, n)...)}
}

// buildTransitionQueue compiles only the transition checks of a node.
// Used after a jump (the enter/receive work already ran before the
// position moved) and when returning to a parent node through "#".
func buildTransitionQueue(f *flow.Flow, n *flow.Node) *queue {
	return &queue{instructions: transitionInstructions(f, n)}
}

func transitionInstructions(f *flow.Flow, n *flow.Node) []types.Instruction {
	var ins []types.Instruction
	if f.CatchAll != nil {
		for _, t := range f.CatchAll.Next {
			ins = append(ins, types.Instruction{
				Type:      types.InstructionTransition,
				Condition: t.Condition,
				Node:      t.Node,
			})
		}
	}
	for _, t := range n.Next {
		ins = append(ins, types.Instruction{
			Type:      types.InstructionTransition,
			Condition: t.Condition,
			Node:      t.Node,
		})
	}
	return ins
}
