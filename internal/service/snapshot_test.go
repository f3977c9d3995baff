package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

func newSnapshotsFixture(t *testing.T) (*service.Snapshots, *broadcasterFixture) {
	t.Helper()
	f := newBroadcasterFixture(t)
	return service.NewSnapshots(f.projectRepo, f.state, f.broadcaster, time.Minute), f
}

func TestSnapshots_SaveWritesProjectionAndResetsCounter(t *testing.T) {
	snapshots, f := newSnapshotsFixture(t)
	ctx := context.Background()

	nodeID := uuid.New()
	_, _, err := f.broadcaster.Submit(ctx, 1, 7, createMutation(nodeID))
	require.NoError(t, err)
	_, _, err = f.broadcaster.Submit(ctx, 1, 7, updateMutation(nodeID))
	require.NoError(t, err)

	var savedBlob []byte
	f.projectRepo.On("SaveSnapshot", mock.Anything, uint(1), mock.Anything, uint64(2)).
		Run(func(args mock.Arguments) { savedBlob = args.Get(2).([]byte) }).
		Return(nil).Once()

	require.NoError(t, snapshots.Save(ctx, 1))

	graph, err := domain.ParseGraphState(savedBlob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), graph.Sequence)
	assert.Contains(t, graph.Nodes, nodeID.String())

	count, err := f.state.GetOpCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count, "op counter resets after a save")
	f.projectRepo.AssertExpectations(t)
}

func TestSnapshots_CheckAndSave_SkipsIdleProject(t *testing.T) {
	snapshots, f := newSnapshotsFixture(t)
	ctx := context.Background()

	// No ops since the last save: nothing to do regardless of age.
	lastSave := time.Now().Add(-time.Hour)
	updated, err := snapshots.CheckAndSave(ctx, 1, lastSave)

	require.NoError(t, err)
	assert.Equal(t, lastSave, updated)
	f.projectRepo.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSnapshots_CheckAndSave_SkipsWhenNotDueYet(t *testing.T) {
	snapshots, f := newSnapshotsFixture(t)
	ctx := context.Background()

	_, _, err := f.broadcaster.Submit(ctx, 1, 7, createMutation(uuid.New()))
	require.NoError(t, err)

	// One op with a fresh save: the idle-project interval has not
	// elapsed, so the snapshot is deferred.
	lastSave := time.Now().Add(-time.Minute)
	updated, err := snapshots.CheckAndSave(ctx, 1, lastSave)

	require.NoError(t, err)
	assert.Equal(t, lastSave, updated)
	f.projectRepo.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSnapshots_CheckAndSave_FirstSaveHappensImmediately(t *testing.T) {
	snapshots, f := newSnapshotsFixture(t)
	ctx := context.Background()

	_, _, err := f.broadcaster.Submit(ctx, 1, 7, createMutation(uuid.New()))
	require.NoError(t, err)

	f.projectRepo.On("SaveSnapshot", mock.Anything, uint(1), mock.Anything, uint64(1)).Return(nil).Once()

	updated, err := snapshots.CheckAndSave(ctx, 1, time.Time{})

	require.NoError(t, err)
	assert.False(t, updated.IsZero())
	f.projectRepo.AssertExpectations(t)
}
