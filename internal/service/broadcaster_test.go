package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
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

// captureSink records delivered frames in arrival order.
type captureSink struct {
	mu     sync.Mutex
	frames []dto.EventDTO
}

func (s *captureSink) Deliver(projectID uint, seq uint64, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ev dto.EventDTO
	if err := json.Unmarshal(frame, &ev); err == nil {
		s.frames = append(s.frames, ev)
	}
}

func (s *captureSink) delivered() []dto.EventDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dto.EventDTO, len(s.frames))
	copy(out, s.frames)
	return out
}

// stubQueue is a PersistQueue that can be told to fail.
type stubQueue struct {
	mu     sync.Mutex
	fail   bool
	events []domain.CollabEvent
}

func (q *stubQueue) EnqueueEventPersist(ev *domain.CollabEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("broker unreachable")
	}
	q.events = append(q.events, *ev)
	return nil
}

type broadcasterFixture struct {
	broadcaster *service.Broadcaster
	registry    *service.Registry
	state       *mocks.MemoryState
	sink        *captureSink
	queue       *stubQueue
	eventRepo   *mocks.EventRepository
	projectRepo *mocks.ProjectRepository
}

// newBroadcasterFixture wires a broadcaster over an empty project with
// the durable stores stubbed out.
func newBroadcasterFixture(t *testing.T) *broadcasterFixture {
	t.Helper()

	ownRepo := new(mocks.OwnershipRepository)
	ownRepo.On("ListByProject", mock.Anything, mock.Anything).Return([]domain.Ownership{}, nil)
	ownRepo.On("Save", mock.Anything, mock.Anything).Return(nil)

	projectRepo := new(mocks.ProjectRepository)
	projectRepo.On("FindByID", mock.Anything, mock.Anything).Return(nil, repository.ErrProjectNotFound)

	eventRepo := new(mocks.EventRepository)
	eventRepo.On("LatestSequence", mock.Anything, mock.Anything).Return(uint64(0), nil)

	state := mocks.NewMemoryState()
	queue := &stubQueue{}
	sink := &captureSink{}

	registry := service.NewRegistry(ownRepo, 30*time.Second, 5*time.Minute)
	broadcaster := service.NewBroadcaster(registry, state, eventRepo, projectRepo, queue, 128)
	broadcaster.SetSink(sink)

	return &broadcasterFixture{
		broadcaster: broadcaster,
		registry:    registry,
		state:       state,
		sink:        sink,
		queue:       queue,
		eventRepo:   eventRepo,
		projectRepo: projectRepo,
	}
}

func createMutation(nodeID uuid.UUID) dto.Mutation {
	return dto.Mutation{
		NodeID:  nodeID,
		Kind:    domain.KindTrack,
		Op:      dto.OpCreate,
		Payload: json.RawMessage(`{"name":"Drums"}`),
	}
}

func updateMutation(nodeID uuid.UUID) dto.Mutation {
	return dto.Mutation{
		NodeID:  nodeID,
		Kind:    domain.KindTrack,
		Op:      dto.OpUpdate,
		Payload: json.RawMessage(`{"volume":0.8}`),
	}
}

func TestBroadcaster_Submit_AssignsDenseSequence(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev, outcome, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(uuid.New()))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, uint(7), outcome.OwnerID)
		assert.False(t, outcome.OwnershipLost)
	}

	// Fan-out observed every event in sequence order.
	frames := f.sink.delivered()
	require.Len(t, frames, 5)
	for i, frame := range frames {
		assert.Equal(t, uint64(i+1), frame.Sequence)
		assert.Equal(t, dto.MsgEvent, frame.Type)
	}
}

func TestBroadcaster_Submit_ConcurrentMutationsKeepTotalOrder(t *testing.T) {
	f := newBroadcasterFixture(t)

	const writers = 8
	const perWriter = 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _, err := f.broadcaster.Submit(context.Background(), 1, userID,createMutation(uuid.New()))
				assert.NoError(t, err)
			}
		}(uint(w + 1))
	}
	wg.Wait()

	// Delivery order equals sequence order with no gaps or duplicates.
	frames := f.sink.delivered()
	require.Len(t, frames, writers*perWriter)
	for i, frame := range frames {
		assert.Equal(t, uint64(i+1), frame.Sequence)
	}
}

func TestBroadcaster_Submit_RejectsLockedNode(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()
	nodeID := uuid.New()

	_, _, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(nodeID))
	require.NoError(t, err)

	_, err = f.registry.AcquireLock(ctx, 1, nodeID, 7, time.Minute)
	require.NoError(t, err)

	// Another user's update bounces with the holder attached.
	_, _, err = f.broadcaster.Submit(ctx, 1, 8,updateMutation(nodeID))
	require.Error(t, err)
	var conflict *service.LockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint(7), conflict.HolderID)

	// The holder itself edits freely.
	ev, _, err := f.broadcaster.Submit(ctx, 1, 7,updateMutation(nodeID))
	require.NoError(t, err)
	assert.Equal(t, domain.EventNodeMutated, ev.Type)
}

func TestBroadcaster_Submit_SucceedsAfterLockExpiry(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()
	nodeID := uuid.New()

	created, _, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(nodeID))
	require.NoError(t, err)

	_, err = f.registry.AcquireLock(ctx, 1, nodeID, 7, 20*time.Millisecond)
	require.NoError(t, err)

	_, _, err = f.broadcaster.Submit(ctx, 1, 8,updateMutation(nodeID))
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)

	// No background sweeper involved; expiry is checked on this path.
	ev, _, err := f.broadcaster.Submit(ctx, 1, 8,updateMutation(nodeID))
	require.NoError(t, err)
	assert.Equal(t, created.Sequence+1, ev.Sequence)
}

func TestBroadcaster_Submit_CreateRaceAcceptsBothEvents(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()
	nodeID := uuid.New()

	first, firstOutcome, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(nodeID))
	require.NoError(t, err)
	assert.Equal(t, uint(7), firstOutcome.OwnerID)

	// The losing creation is still appended so every session converges,
	// but the submitter learns it does not own the node.
	second, secondOutcome, err := f.broadcaster.Submit(ctx, 1, 8,createMutation(nodeID))
	require.NoError(t, err)
	assert.Equal(t, first.Sequence+1, second.Sequence)
	assert.True(t, secondOutcome.OwnershipLost)
	assert.Equal(t, uint(7), secondOutcome.OwnerID)
}

func TestBroadcaster_Submit_InvalidMutationRejected(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()

	_, _, err := f.broadcaster.Submit(ctx, 1, 7,dto.Mutation{NodeID: uuid.Nil, Kind: domain.KindTrack, Op: dto.OpCreate})
	assert.True(t, errors.Is(err, service.ErrInvalidMutation))

	_, _, err = f.broadcaster.Submit(ctx, 1, 7,dto.Mutation{NodeID: uuid.New(), Kind: domain.NodeKind("synth"), Op: dto.OpCreate})
	assert.True(t, errors.Is(err, service.ErrInvalidMutation))

	_, _, err = f.broadcaster.Submit(ctx, 1, 7,dto.Mutation{NodeID: uuid.New(), Kind: domain.KindTrack, Op: "rename"})
	assert.True(t, errors.Is(err, service.ErrInvalidMutation))
}

func TestBroadcaster_QueueFailureDegradesProjectOnly(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()

	f.queue.fail = true
	ev, _, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(uuid.New()))

	// The edit is accepted and fanned out; only durability lags.
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, f.broadcaster.Degraded(1))
	assert.False(t, f.broadcaster.Degraded(2), "other projects stay healthy")

	f.broadcaster.MarkPersisted(1)
	assert.False(t, f.broadcaster.Degraded(1))
}

func TestBroadcaster_AppendLockEvent_TakesPlaceInTotalOrder(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()
	nodeID := uuid.New()

	created, _, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(nodeID))
	require.NoError(t, err)

	acquired, err := f.broadcaster.AppendLockEvent(ctx, 1, 7,nodeID, true, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.EventLockAcquired, acquired.Type)
	assert.Equal(t, created.Sequence+1, acquired.Sequence)
	assert.JSONEq(t, `{"ttlSeconds":30}`, acquired.Payload)

	released, err := f.broadcaster.AppendLockEvent(ctx, 1, 7,nodeID, false, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.EventLockReleased, released.Type)
	assert.Equal(t, acquired.Sequence+1, released.Sequence)
}

func TestBroadcaster_Projection_TracksAppliedEvents(t *testing.T) {
	f := newBroadcasterFixture(t)
	ctx := context.Background()
	nodeID := uuid.New()

	_, _, err := f.broadcaster.Submit(ctx, 1, 7,createMutation(nodeID))
	require.NoError(t, err)
	_, _, err = f.broadcaster.Submit(ctx, 1, 7,updateMutation(nodeID))
	require.NoError(t, err)

	project, err := f.broadcaster.Projection(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), project.Sequence)

	graph, err := domain.ParseGraphState(project.Snapshot)
	require.NoError(t, err)
	require.Contains(t, graph.Nodes, nodeID.String())
	assert.JSONEq(t, `{"volume":0.8}`, string(graph.Nodes[nodeID.String()]))
}
