package domain

import (
	"encoding/json"
	"fmt"
)

// GraphState is the in-memory projection of a project graph: the latest
// payload for every live node, keyed by node UUID. Payloads are opaque
// to this subsystem. The projection is what gets serialized into the
// Project snapshot blob.
type GraphState struct {
	Sequence uint64                     `json:"sequence"`
	Nodes    map[string]json.RawMessage `json:"nodes"`
}

// NewGraphState returns an empty projection at sequence zero.
func NewGraphState() *GraphState {
	return &GraphState{Nodes: make(map[string]json.RawMessage)}
}

// Apply folds one accepted event into the projection. Lock events do
// not change graph contents but still advance the sequence cursor.
func (g *GraphState) Apply(ev *CollabEvent) {
	switch ev.Type {
	case EventNodeCreated, EventNodeMutated:
		if ev.NodeID != "" {
			g.Nodes[ev.NodeID] = append(json.RawMessage(nil), ev.RawPayload()...)
		}
	case EventNodeDeleted:
		delete(g.Nodes, ev.NodeID)
	}
	if ev.Sequence > g.Sequence {
		g.Sequence = ev.Sequence
	}
}

// Marshal serializes the projection into a snapshot blob.
func (g *GraphState) Marshal() ([]byte, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph state: %w", err)
	}
	return b, nil
}

// ParseGraphState decodes a snapshot blob. An empty blob yields an
// empty projection rather than an error, matching a project that has
// never been saved.
func ParseGraphState(blob []byte) (*GraphState, error) {
	if len(blob) == 0 {
		return NewGraphState(), nil
	}
	var g GraphState
	if err := json.Unmarshal(blob, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph state: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]json.RawMessage)
	}
	return &g, nil
}
