package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *Flow {
	return &Flow{
		Name:      "main.flow.json",
		StartNode: "entry",
		Nodes: []*Node{
			{Name: "entry", Next: []Transition{{Condition: "true", Node: "done", Dest: Destination{Kind: DestLocalNode, Node: "done"}}}},
			{Name: "done"},
		},
	}
}

func TestValidateAcceptsWellFormedFlow(t *testing.T) {
	require.NoError(t, Validate(validFlow(), false))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *Flow)
		oneFlow bool
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(f *Flow) { f.Name = "" },
			wantErr: "no name",
		},
		{
			name:    "missing start node",
			mutate:  func(f *Flow) { f.StartNode = "" },
			wantErr: "no start node",
		},
		{
			name:    "no nodes",
			mutate:  func(f *Flow) { f.Nodes = nil },
			wantErr: "no nodes",
		},
		{
			name:    "unnamed node",
			mutate:  func(f *Flow) { f.Nodes[1].Name = "" },
			wantErr: "unnamed node",
		},
		{
			name:    "duplicate node",
			mutate:  func(f *Flow) { f.Nodes[1].Name = "entry" },
			wantErr: "duplicate node",
		},
		{
			name:    "start node does not exist",
			mutate:  func(f *Flow) { f.StartNode = "ghost" },
			wantErr: "does not exist",
		},
		{
			name:    "timeout node does not exist",
			mutate:  func(f *Flow) { f.TimeoutNode = "ghost" },
			wantErr: "does not exist",
		},
		{
			name:    "success node outside one-flow mode",
			mutate:  func(f *Flow) { f.Nodes[1].Type = NodeSuccess },
			wantErr: "only valid in one-flow mode",
		},
		{
			name:    "skill-call without subflow",
			mutate:  func(f *Flow) { f.Nodes[1].Type = NodeSkillCall },
			wantErr: "names no subflow",
		},
		{
			name: "local transition to unknown node",
			mutate: func(f *Flow) {
				f.Nodes[0].Next[0].Dest = Destination{Kind: DestLocalNode, Node: "ghost"}
			},
			wantErr: "unknown node",
		},
		{
			name: "catch-all transition to unknown node",
			mutate: func(f *Flow) {
				f.CatchAll = &CatchAll{Next: []Transition{{Condition: "true", Dest: Destination{Kind: DestLocalNode, Node: "ghost"}}}}
			},
			wantErr: "unknown node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFlow()
			tt.mutate(f)
			err := Validate(f, tt.oneFlow)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateOneFlowAllowsOutcomeNodes(t *testing.T) {
	f := validFlow()
	f.Nodes[1].Type = NodeFailure
	assert.NoError(t, Validate(f, true))
}

func TestValidateCrossFlowDestinationsSkipLocalCheck(t *testing.T) {
	f := validFlow()
	f.Nodes[0].Next[0] = Transition{
		Condition: "true",
		Node:      "other.flow.json",
		Dest:      Destination{Kind: DestEnterFlow, Flow: "other.flow.json"},
	}
	assert.NoError(t, Validate(f, false))
}
