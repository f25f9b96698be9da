package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Destination
	}{
		{
			name: "empty ends the flow",
			raw:  "",
			want: Destination{Kind: DestEndFlow},
		},
		{
			name: "END ends the flow",
			raw:  "END",
			want: Destination{Kind: DestEndFlow},
		},
		{
			name: "double hash returns to parent re-running the node",
			raw:  "##",
			want: Destination{Kind: DestReturnToParentStart},
		},
		{
			name: "single hash returns to parent",
			raw:  "#",
			want: Destination{Kind: DestReturnToParent},
		},
		{
			name: "hash with node returns to a named parent node",
			raw:  "#confirm",
			want: Destination{Kind: DestReturnToParent, Node: "confirm"},
		},
		{
			name: "flow file enters at its start node",
			raw:  "billing.flow.json",
			want: Destination{Kind: DestEnterFlow, Flow: "billing.flow.json"},
		},
		{
			name: "flow file with node enters at the named node",
			raw:  "billing.flow.json#entry",
			want: Destination{Kind: DestEnterFlow, Flow: "billing.flow.json", Node: "entry"},
		},
		{
			name: "nested flow path",
			raw:  "skills/choice-a1b2.flow.json",
			want: Destination{Kind: DestEnterFlow, Flow: "skills/choice-a1b2.flow.json"},
		},
		{
			name: "bare name is a local node",
			raw:  "node-2",
			want: Destination{Kind: DestLocalNode, Node: "node-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDestination(tt.raw))
		})
	}
}
