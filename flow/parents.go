package flow

import "strings"

// PathSeparator delimits structural nesting in flow names.
const PathSeparator = "/"

// ComputeParents synthesizes the parent of each flow from path-like
// naming: the parent of "hr/leave/approve" is the deepest existing flow
// whose base name is a proper path prefix ("hr/leave", else "hr").
// Parent relationships are only used by one-flow bots for
// subflow-aware routing.
func ComputeParents(flows []*Flow) {
	byBase := make(map[string]bool, len(flows))
	for _, f := range flows {
		byBase[f.BaseName()] = true
	}

	for _, f := range flows {
		f.Parent = ""
		segments := strings.Split(f.BaseName(), PathSeparator)
		for i := len(segments) - 1; i > 0; i-- {
			candidate := strings.Join(segments[:i], PathSeparator)
			if byBase[candidate] {
				f.Parent = candidate
				break
			}
		}
	}
}
