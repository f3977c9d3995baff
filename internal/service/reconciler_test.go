package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/dto"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

type reconcilerFixture struct {
	*broadcasterFixture
	reconciler *service.Reconciler
}

func newReconcilerFixture(t *testing.T, window int) *reconcilerFixture {
	t.Helper()
	f := newBroadcasterFixture(t)
	return &reconcilerFixture{
		broadcasterFixture: f,
		reconciler:         service.NewReconciler(f.state, f.eventRepo, f.projectRepo, f.broadcaster, window, time.Minute),
	}
}

// seed appends n create events and returns them in order.
func (f *reconcilerFixture) seed(t *testing.T, n int) []*domain.CollabEvent {
	t.Helper()
	events := make([]*domain.CollabEvent, 0, n)
	for i := 0; i < n; i++ {
		ev, _, err := f.broadcaster.Submit(context.Background(), 1, 7, createMutation(uuid.New()))
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestReconciler_Sync_ConfirmsCurrentCursor(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	f.seed(t, 3)

	payload, err := f.reconciler.Sync(context.Background(), 1, 3)

	require.NoError(t, err)
	assert.Equal(t, dto.MsgSync, payload.Type)
	assert.Equal(t, uint64(3), payload.Sequence)
	assert.False(t, payload.Full)
	assert.Empty(t, payload.Events)
}

func TestReconciler_Sync_ReplaysExactlyTheMissedEvents(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	seeded := f.seed(t, 6)

	payload, err := f.reconciler.Sync(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.False(t, payload.Full)
	assert.Equal(t, uint64(6), payload.Sequence)
	require.Len(t, payload.Events, 4)
	for i, ev := range payload.Events {
		assert.Equal(t, seeded[i+2].Sequence, ev.Sequence)
		assert.Equal(t, seeded[i+2].NodeID, ev.NodeUUID)
	}
}

func TestReconciler_Sync_FallsBackToDurableLogWhenWindowRotated(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	seeded := f.seed(t, 6)

	// The hot window lost the early events; the durable log still has
	// the full range.
	f.state.TrimWindowTo(1, 4)
	durable := make([]domain.CollabEvent, 0, 4)
	for _, ev := range seeded[2:] {
		durable = append(durable, *ev)
	}
	f.eventRepo.On("ListAfter", mock.Anything, uint(1), uint64(2), 128).Return(durable, nil).Once()

	payload, err := f.reconciler.Sync(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.False(t, payload.Full)
	require.Len(t, payload.Events, 4)
	assert.Equal(t, uint64(3), payload.Events[0].Sequence)
	f.eventRepo.AssertExpectations(t)
}

func TestReconciler_Sync_SnapshotWhenReplayHasGaps(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	seeded := f.seed(t, 6)

	// Both replay sources come back holey: the window is rotated and
	// the durable log is missing sequence 4.
	f.state.TrimWindowTo(1, 4)
	gappy := []domain.CollabEvent{*seeded[2], *seeded[4], *seeded[5]}
	f.eventRepo.On("ListAfter", mock.Anything, uint(1), uint64(2), 128).Return(gappy, nil).Once()

	payload, err := f.reconciler.Sync(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.True(t, payload.Full, "a gap must force the full snapshot")
	assert.Equal(t, uint64(6), payload.Sequence)

	graph, err := domain.ParseGraphState(payload.Snapshot)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 6)
}

func TestReconciler_Sync_SnapshotBeyondWindow(t *testing.T) {
	f := newReconcilerFixture(t, 3)
	f.seed(t, 6)

	// The client is 5 events behind a window of 3.
	payload, err := f.reconciler.Sync(context.Background(), 1, 1)

	require.NoError(t, err)
	assert.True(t, payload.Full)
	assert.Equal(t, uint64(6), payload.Sequence)
	assert.Empty(t, payload.Events)
}

func TestReconciler_Sync_NewSessionGetsFullSnapshot(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	f.seed(t, 4)

	payload, err := f.reconciler.Sync(context.Background(), 1, 0)

	require.NoError(t, err)
	assert.True(t, payload.Full)
	assert.Equal(t, uint64(4), payload.Sequence)
}

func TestReconciler_Sync_EmptyProjectBaseline(t *testing.T) {
	f := newReconcilerFixture(t, 128)

	payload, err := f.reconciler.Sync(context.Background(), 1, 0)

	require.NoError(t, err)
	assert.Equal(t, uint64(0), payload.Sequence)
	assert.Empty(t, payload.Events)
}

func TestReconciler_Sync_RecoversCounterFromDurableLog(t *testing.T) {
	f := newReconcilerFixture(t, 128)
	seeded := f.seed(t, 5)

	// The hot store lost everything; only the durable log survives. A
	// returning client must not be confirmed current at sequence zero.
	f.state.FlushProject(1)
	durable := []domain.CollabEvent{*seeded[3], *seeded[4]}
	f.eventRepo.ExpectedCalls = nil
	f.eventRepo.On("LatestSequence", mock.Anything, uint(1)).Return(uint64(5), nil)
	f.eventRepo.On("ListAfter", mock.Anything, uint(1), uint64(3), 128).Return(durable, nil).Once()

	payload, err := f.reconciler.Sync(context.Background(), 1, 3)

	require.NoError(t, err)
	assert.False(t, payload.Full)
	assert.Equal(t, uint64(5), payload.Sequence)
	require.Len(t, payload.Events, 2)
	assert.Equal(t, uint64(4), payload.Events[0].Sequence)
	assert.Equal(t, uint64(5), payload.Events[1].Sequence)

	// The counter was realigned so later appends continue past the log.
	current, err := f.state.CurrentSequence(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), current)
}

func TestReconciler_Sync_UnavailableWhenNoSequenceSource(t *testing.T) {
	f := newReconcilerFixture(t, 128)

	// Redis is down and the durable log cannot answer either.
	f.state.FailNextSequence = true
	failingRepo := f.eventRepo
	failingRepo.ExpectedCalls = nil
	failingRepo.On("LatestSequence", mock.Anything, uint(1)).Return(uint64(0), errors.New("db down"))

	_, err := f.reconciler.Sync(context.Background(), 1, 0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrSyncUnavailable))
}
