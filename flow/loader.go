package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Layout node positions live in the paired .ui.json file and are merged
// into the flow at load time. Unplaced nodes are laid out on a grid.
const (
	placingStep = 250
	minPosX     = 50
)

type layoutNode struct {
	ID       string `json:"id"`
	Position *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
}

type layoutFile struct {
	Nodes []layoutNode `json:"nodes"`
}

// Loader parses flow definition files into Flow values.
type Loader struct {
	store   Store
	oneFlow bool
}

// NewLoader returns a loader reading from store. oneFlow toggles the
// validation rules specific to one-flow bots.
func NewLoader(store Store, oneFlow bool) *Loader {
	return &Loader{store: store, oneFlow: oneFlow}
}

// Load reads, parses and validates the flow at path, merging layout
// positions from the paired layout file.
func (l *Loader) Load(ctx context.Context, path string) (*Flow, error) {
	raw, err := l.store.ReadFlow(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading flow %s: %w", path, err)
	}

	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing flow %s: %w", path, err)
	}
	f.Name = path
	f.Location = path

	// Parse every destination once; traversal never re-sniffs strings.
	for _, n := range f.Nodes {
		for i := range n.Next {
			n.Next[i].Dest = ParseDestination(n.Next[i].Node)
		}
	}
	if f.CatchAll != nil {
		for i := range f.CatchAll.Next {
			f.CatchAll.Next[i].Dest = ParseDestination(f.CatchAll.Next[i].Node)
		}
	}

	if err := Validate(&f, l.oneFlow); err != nil {
		return nil, fmt.Errorf("invalid schema for %q: %w", path, err)
	}

	if err := l.mergeLayout(ctx, path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (l *Loader) mergeLayout(ctx context.Context, path string, f *Flow) error {
	raw, err := l.store.ReadLayout(ctx, path)
	if errors.Is(err, ErrNotFound) {
		raw = nil
	} else if err != nil {
		return fmt.Errorf("reading layout for %s: %w", path, err)
	}

	var layout layoutFile
	if raw != nil {
		if err := json.Unmarshal(raw, &layout); err != nil {
			return fmt.Errorf("parsing layout for %s: %w", path, err)
		}
	}

	positions := make(map[string]*layoutNode, len(layout.Nodes))
	for i := range layout.Nodes {
		positions[layout.Nodes[i].ID] = &layout.Nodes[i]
	}

	maxY := 0.0
	for _, n := range f.Nodes {
		if n.Y > maxY {
			maxY = n.Y
		}
	}

	unplaced := 0
	for _, n := range f.Nodes {
		if ln, ok := positions[n.ID]; ok && ln.Position != nil {
			n.X = ln.Position.X
			n.Y = ln.Position.Y
			continue
		}
		n.X = minPosX + float64(unplaced)*placingStep
		n.Y = maxY + placingStep
		unplaced++
	}
	return nil
}
