package flow

import "fmt"

// Validate checks the structural invariants of a parsed flow. In
// one-flow mode success/failure node types are allowed; in classic mode
// they are rejected, matching the authoring contract.
func Validate(f *Flow, oneFlow bool) error {
	if f.Name == "" {
		return fmt.Errorf("flow has no name")
	}
	if f.StartNode == "" {
		return fmt.Errorf("flow %s has no start node", f.Name)
	}
	if len(f.Nodes) == 0 {
		return fmt.Errorf("flow %s has no nodes", f.Name)
	}

	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.Name == "" {
			return fmt.Errorf("flow %s contains an unnamed node", f.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("flow %s contains duplicate node %q", f.Name, n.Name)
		}
		seen[n.Name] = true

		if !oneFlow && (n.Type == NodeSuccess || n.Type == NodeFailure) {
			return fmt.Errorf("flow %s: node %q has type %q, only valid in one-flow mode", f.Name, n.Name, n.Type)
		}
		if n.Type == NodeSkillCall && n.Flow == "" {
			return fmt.Errorf("flow %s: skill-call node %q names no subflow", f.Name, n.Name)
		}
	}

	if !seen[f.StartNode] {
		return fmt.Errorf("flow %s: start node %q does not exist", f.Name, f.StartNode)
	}
	if f.TimeoutNode != "" && !seen[f.TimeoutNode] {
		return fmt.Errorf("flow %s: timeout node %q does not exist", f.Name, f.TimeoutNode)
	}

	// Local destinations must resolve inside the flow. Cross-flow and
	// stack-relative destinations are resolved at traversal time.
	for _, n := range f.Nodes {
		for _, t := range n.Next {
			if t.Dest.Kind == DestLocalNode && !seen[t.Dest.Node] {
				return fmt.Errorf("flow %s: node %q transitions to unknown node %q", f.Name, n.Name, t.Dest.Node)
			}
		}
	}
	if f.CatchAll != nil {
		for _, t := range f.CatchAll.Next {
			if t.Dest.Kind == DestLocalNode && !seen[t.Dest.Node] {
				return fmt.Errorf("flow %s: catch-all transitions to unknown node %q", f.Name, t.Dest.Node)
			}
		}
	}
	return nil
}
