package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

func TestGraphState_ApplyLifecycle(t *testing.T) {
	g := domain.NewGraphState()

	g.Apply(&domain.CollabEvent{Sequence: 1, Type: domain.EventNodeCreated, NodeID: "n1", Payload: `{"name":"Bass"}`})
	g.Apply(&domain.CollabEvent{Sequence: 2, Type: domain.EventNodeMutated, NodeID: "n1", Payload: `{"name":"Bass","muted":true}`})
	g.Apply(&domain.CollabEvent{Sequence: 3, Type: domain.EventNodeCreated, NodeID: "n2", Payload: `{"name":"Keys"}`})
	g.Apply(&domain.CollabEvent{Sequence: 4, Type: domain.EventNodeDeleted, NodeID: "n2"})

	assert.Equal(t, uint64(4), g.Sequence)
	require.Contains(t, g.Nodes, "n1")
	assert.NotContains(t, g.Nodes, "n2")
	assert.JSONEq(t, `{"name":"Bass","muted":true}`, string(g.Nodes["n1"]))
}

func TestGraphState_LockEventsOnlyAdvanceCursor(t *testing.T) {
	g := domain.NewGraphState()
	g.Apply(&domain.CollabEvent{Sequence: 1, Type: domain.EventNodeCreated, NodeID: "n1", Payload: `{}`})
	g.Apply(&domain.CollabEvent{Sequence: 2, Type: domain.EventLockAcquired, NodeID: "n1", Payload: `{"ttlSeconds":30}`})
	g.Apply(&domain.CollabEvent{Sequence: 3, Type: domain.EventLockReleased, NodeID: "n1"})

	assert.Equal(t, uint64(3), g.Sequence)
	assert.JSONEq(t, `{}`, string(g.Nodes["n1"]))
}

func TestGraphState_MarshalRoundTrip(t *testing.T) {
	g := domain.NewGraphState()
	g.Apply(&domain.CollabEvent{Sequence: 9, Type: domain.EventNodeCreated, NodeID: "n1", Payload: `{"gain":0.5}`})

	blob, err := g.Marshal()
	require.NoError(t, err)

	parsed, err := domain.ParseGraphState(blob)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), parsed.Sequence)
	assert.JSONEq(t, `{"gain":0.5}`, string(parsed.Nodes["n1"]))
}

func TestParseGraphState_EmptyBlobIsEmptyProjection(t *testing.T) {
	g, err := domain.ParseGraphState(nil)
	require.NoError(t, err)
	assert.Zero(t, g.Sequence)
	assert.Empty(t, g.Nodes)
}
