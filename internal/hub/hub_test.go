package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/dto"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository/mocks"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

type noopQueue struct{}

func (noopQueue) EnqueueEventPersist(*domain.CollabEvent) error { return nil }

type hubFixture struct {
	hub         *Hub
	registry    *service.Registry
	broadcaster *service.Broadcaster
	state       *mocks.MemoryState
}

// newHubFixture wires a hub over an empty project with the durable
// stores stubbed out. Clients are attached directly so tests exercise
// the routing and lifecycle logic without a WebSocket in the loop.
func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	ownRepo := new(mocks.OwnershipRepository)
	ownRepo.On("ListByProject", mock.Anything, mock.Anything).Return([]domain.Ownership{}, nil)
	ownRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	projectRepo := new(mocks.ProjectRepository)
	projectRepo.On("FindByID", mock.Anything, mock.Anything).Return(nil, repository.ErrProjectNotFound)
	projectRepo.On("CreateIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	eventRepo := new(mocks.EventRepository)
	eventRepo.On("LatestSequence", mock.Anything, mock.Anything).Return(uint64(0), nil)

	state := mocks.NewMemoryState()
	registry := service.NewRegistry(ownRepo, 30*time.Second, 5*time.Minute)
	broadcaster := service.NewBroadcaster(registry, state, eventRepo, projectRepo, noopQueue{}, 128)
	reconciler := service.NewReconciler(state, eventRepo, projectRepo, broadcaster, 128, time.Minute)
	directory := service.NewDirectory(projectRepo, state, 90*time.Second)
	h := NewHub(broadcaster, reconciler, registry, directory, state, 60, time.Second)

	return &hubFixture{
		hub:         h,
		registry:    registry,
		broadcaster: broadcaster,
		state:       state,
	}
}

// addClient attaches a connectionless client to the project fan-out in
// the Syncing state.
func (f *hubFixture) addClient(projectID, userID uint, sessionID string) *Client {
	c := NewClient(f.hub, nil, projectID, userID, sessionID, 0)
	f.hub.mu.Lock()
	if _, ok := f.hub.projects[projectID]; !ok {
		f.hub.projects[projectID] = make(map[*Client]bool)
	}
	f.hub.projects[projectID][c] = true
	f.hub.mu.Unlock()
	return c
}

func (f *hubFixture) addLiveClient(projectID, userID uint, sessionID string) *Client {
	c := f.addClient(projectID, userID, sessionID)
	c.setState(StateLive)
	return c
}

func drainFrames(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case frame := <-c.send:
			out = append(out, frame)
		default:
			return out
		}
	}
}

// eventFrames decodes the event frames out of a drained send queue,
// skipping presence and error traffic.
func eventFrames(t *testing.T, frames [][]byte) []dto.EventDTO {
	t.Helper()
	var out []dto.EventDTO
	for _, frame := range frames {
		var ev dto.EventDTO
		require.NoError(t, json.Unmarshal(frame, &ev))
		if ev.Type == dto.MsgEvent {
			out = append(out, ev)
		}
	}
	return out
}

func mutationFrame(t *testing.T, nodeID string) []byte {
	t.Helper()
	frame, err := json.Marshal(dto.ClientMessage{
		Type:     dto.MsgMutation,
		NodeUUID: nodeID,
		Kind:     domain.KindTrack,
		Op:       dto.OpCreate,
		Payload:  json.RawMessage(`{"name":"Bass"}`),
	})
	require.NoError(t, err)
	return frame
}

func TestClient_StateLifecycle(t *testing.T) {
	f := newHubFixture(t)
	c := NewClient(f.hub, nil, 1, 7, "s1", 0)

	assert.Equal(t, StateSyncing, c.State())

	c.activate([]byte(`{"type":"sync","sequence":0}`), 0)
	assert.Equal(t, StateLive, c.State())

	c.Close("test teardown")
	assert.Equal(t, StateClosed, c.State())

	// Closing twice is a no-op; Closed is terminal.
	c.Close("again")
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_OutboundOverflowDisconnects(t *testing.T) {
	f := newHubFixture(t)
	c := NewClient(f.hub, nil, 1, 7, "s1", 0)
	c.setState(StateLive)

	frame := []byte(`{"type":"event"}`)
	for i := 0; i < sendBufferSize; i++ {
		c.enqueue(frame)
	}
	assert.Equal(t, StateLive, c.State(), "a full-but-not-overflowing queue keeps the session")

	// One frame past capacity means the consumer stalled; the session
	// is dropped rather than allowed to block the fan-out.
	c.enqueue(frame)
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_ParksBroadcastsUntilSynced(t *testing.T) {
	f := newHubFixture(t)
	c := f.addClient(1, 7, "s1")

	early := []byte(`{"type":"event","sequence":1}`)
	late := []byte(`{"type":"event","sequence":2}`)
	c.deliver(1, early)
	c.deliver(2, late)
	require.Empty(t, drainFrames(c), "no broadcast may reach the wire before the sync frame")

	// The sync payload already covers sequence 1, so only the frame
	// beyond it is flushed.
	syncFrame := []byte(`{"type":"sync","sequence":1}`)
	c.activate(syncFrame, 1)

	frames := drainFrames(c)
	require.Len(t, frames, 2)
	assert.Equal(t, syncFrame, frames[0])
	assert.Equal(t, late, frames[1])
	assert.Equal(t, StateLive, c.State())

	// Once live, deliveries go straight to the send queue.
	c.deliver(3, []byte(`{"type":"event","sequence":3}`))
	assert.Len(t, drainFrames(c), 1)
}

func TestHub_FanoutGivesSubmitterTheSameOrder(t *testing.T) {
	f := newHubFixture(t)
	c1 := f.addLiveClient(1, 7, "s1")
	c2 := f.addLiveClient(1, 8, "s2")

	f.hub.handleInbound(c1, mutationFrame(t, uuid.NewString()))
	f.hub.handleInbound(c2, mutationFrame(t, uuid.NewString()))
	f.hub.handleInbound(c1, mutationFrame(t, uuid.NewString()))

	// Every session, the submitters included, observes the identical
	// sequence-ordered stream.
	for _, c := range []*Client{c1, c2} {
		events := eventFrames(t, drainFrames(c))
		require.Len(t, events, 3, "session %s", c.sessionID)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Sequence)
		}
	}
}

func TestHub_DropsInboundFramesBeforeLive(t *testing.T) {
	f := newHubFixture(t)
	c := f.addClient(1, 7, "s1")

	f.hub.handleInbound(c, mutationFrame(t, uuid.NewString()))

	assert.Empty(t, drainFrames(c))
	current, err := f.state.CurrentSequence(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, current, "a frame racing the initial sync must not be applied")
}

func TestHub_MalformedFrameClosesConnection(t *testing.T) {
	f := newHubFixture(t)
	c := f.addLiveClient(1, 7, "s1")

	f.hub.handleInbound(c, []byte("not json at all"))

	frames := drainFrames(c)
	require.Len(t, frames, 1)
	var errFrame dto.ErrorDTO
	require.NoError(t, json.Unmarshal(frames[0], &errFrame))
	assert.Equal(t, dto.MsgError, errFrame.Type)
	assert.Equal(t, StateClosed, c.State())
}

func TestHub_UnknownMessageTypeClosesConnection(t *testing.T) {
	f := newHubFixture(t)
	c := f.addLiveClient(1, 7, "s1")

	f.hub.handleInbound(c, []byte(`{"type":"emote"}`))

	frames := drainFrames(c)
	require.Len(t, frames, 1)
	var errFrame dto.ErrorDTO
	require.NoError(t, json.Unmarshal(frames[0], &errFrame))
	assert.Equal(t, dto.MsgError, errFrame.Type)
	assert.Equal(t, StateClosed, c.State())
}

func TestHub_UnregisterReleasesHeldLocks(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	c1 := f.addLiveClient(1, 7, "s1")
	c2 := f.addLiveClient(1, 8, "s2")
	nodeID := uuid.New()

	_, err := f.registry.AcquireLock(ctx, 1, nodeID, 7, time.Minute)
	require.NoError(t, err)

	f.hub.unregisterClient(c1)

	assert.Nil(t, f.registry.ActiveLock(1, nodeID), "disconnect must release the user's locks")
	events := eventFrames(t, drainFrames(c2))
	require.Len(t, events, 1)
	assert.Equal(t, string(domain.EventLockReleased), events[0].Event)
	assert.Equal(t, nodeID.String(), events[0].NodeUUID)
}

func TestHub_StopRefusesNewTrafficAndIsIdempotent(t *testing.T) {
	f := newHubFixture(t)
	c := f.addClient(1, 7, "s1")

	f.hub.Stop()

	assert.False(t, f.hub.Register(NewClient(f.hub, nil, 1, 8, "s2", 0)))
	assert.Equal(t, StateClosed, c.State())

	// A second Stop, or an unregister racing shutdown, must not panic.
	f.hub.Stop()
	assert.False(t, f.hub.queue(hubMessage{kind: msgUnregister, client: c}))
}
