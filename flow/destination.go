package flow

import "strings"

// DestinationKind is the closed set of transition destination shapes.
type DestinationKind int

const (
	// DestLocalNode jumps to a node in the current flow.
	DestLocalNode DestinationKind = iota
	// DestEnterFlow enters another flow, pushing a jump point.
	DestEnterFlow
	// DestReturnToParent pops the last unused jump point and resumes
	// the parent node with only its transition checks.
	DestReturnToParent
	// DestReturnToParentStart pops the last unused jump point and
	// re-runs the parent node's full instruction queue.
	DestReturnToParentStart
	// DestEndFlow terminates the current flow.
	DestEndFlow
)

// Destination is the parsed form of a transition destination specifier.
// Parsing happens once at load time; traversal dispatches on Kind.
type Destination struct {
	Kind DestinationKind

	// Flow is set for DestEnterFlow.
	Flow string

	// Node is the target node, when one was named. For
	// DestReturnToParent* it overrides the jump point's recorded node.
	Node string
}

// ParseDestination parses a raw destination specifier:
//
//	""                     -> end of flow
//	"END"                  -> end of flow
//	"##"                   -> return to parent, re-running the node
//	"#", "#node"           -> return to parent ("#node" names the node)
//	"other.flow.json"      -> enter flow at its start node
//	"other.flow.json#node" -> enter flow at the named node
//	"node"                 -> node in the current flow
func ParseDestination(raw string) Destination {
	switch {
	case raw == "" || raw == "END":
		return Destination{Kind: DestEndFlow}
	case strings.HasPrefix(raw, "##"):
		return Destination{Kind: DestReturnToParentStart, Node: strings.TrimPrefix(raw, "##")}
	case strings.HasPrefix(raw, "#"):
		return Destination{Kind: DestReturnToParent, Node: strings.TrimPrefix(raw, "#")}
	case strings.Contains(raw, FileSuffix):
		flowName, nodeName := raw, ""
		if i := strings.Index(raw, "#"); i >= 0 {
			flowName, nodeName = raw[:i], raw[i+1:]
		}
		return Destination{Kind: DestEnterFlow, Flow: flowName, Node: nodeName}
	default:
		return Destination{Kind: DestLocalNode, Node: raw}
	}
}
