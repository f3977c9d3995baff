package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ankit-raj78/synxSphere-sub001/internal/repository/mocks"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

// recordingListener collects presence notifications.
type recordingListener struct {
	mu    sync.Mutex
	calls []presenceCall
}

type presenceCall struct {
	projectID uint
	users     []uint
}

func (l *recordingListener) PresenceChanged(projectID uint, users []uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, presenceCall{projectID: projectID, users: users})
}

func (l *recordingListener) last() (presenceCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return presenceCall{}, false
	}
	return l.calls[len(l.calls)-1], true
}

func newTestDirectory(t *testing.T, timeout time.Duration) (*service.Directory, *mocks.ProjectRepository) {
	t.Helper()
	projectRepo := new(mocks.ProjectRepository)
	projectRepo.On("CreateIfAbsent", mock.Anything, mock.Anything, "").Return(nil)
	return service.NewDirectory(projectRepo, mocks.NewMemoryState(), timeout), projectRepo
}

func TestDirectory_RegisterAndListActive(t *testing.T) {
	directory, _ := newTestDirectory(t, time.Minute)
	ctx := context.Background()

	s1, err := directory.Register(ctx, 1, 7)
	require.NoError(t, err)
	require.NotEmpty(t, s1.ID)

	// A second session of the same user does not duplicate presence.
	_, err = directory.Register(ctx, 1, 7)
	require.NoError(t, err)
	_, err = directory.Register(ctx, 1, 9)
	require.NoError(t, err)

	assert.Equal(t, []uint{7, 9}, directory.ListActive(1))
	assert.Equal(t, []uint{1}, directory.ActiveProjects())
}

func TestDirectory_RegisterFailsWhenProjectRowUnavailable(t *testing.T) {
	projectRepo := new(mocks.ProjectRepository)
	projectRepo.On("CreateIfAbsent", mock.Anything, uint(1), "").Return(errors.New("db down"))
	directory := service.NewDirectory(projectRepo, mocks.NewMemoryState(), time.Minute)

	_, err := directory.Register(context.Background(), 1, 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrProjectUnavailable))
	assert.Empty(t, directory.ListActive(1))
}

func TestDirectory_UnregisterNotifiesPresence(t *testing.T) {
	directory, _ := newTestDirectory(t, time.Minute)
	listener := &recordingListener{}
	directory.Subscribe(listener)
	ctx := context.Background()

	s1, err := directory.Register(ctx, 1, 7)
	require.NoError(t, err)
	_, err = directory.Register(ctx, 1, 9)
	require.NoError(t, err)

	directory.Unregister(ctx, s1.ID)

	call, ok := listener.last()
	require.True(t, ok)
	assert.Equal(t, uint(1), call.projectID)
	assert.Equal(t, []uint{9}, call.users)

	_, err = directory.Get(s1.ID)
	assert.True(t, errors.Is(err, service.ErrSessionNotFound))
}

func TestDirectory_HeartbeatKeepsSessionAlive(t *testing.T) {
	directory, _ := newTestDirectory(t, 50*time.Millisecond)
	ctx := context.Background()

	session, err := directory.Register(ctx, 1, 7)
	require.NoError(t, err)

	// Keep the heartbeat coming past the timeout.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, directory.Heartbeat(ctx, session.ID))
	}

	assert.Empty(t, directory.EvictStale(ctx))
	_, err = directory.Get(session.ID)
	assert.NoError(t, err)
}

func TestDirectory_HeartbeatUnknownSession(t *testing.T) {
	directory, _ := newTestDirectory(t, time.Minute)
	err := directory.Heartbeat(context.Background(), "01HX0000000000000000000000")
	assert.True(t, errors.Is(err, service.ErrSessionNotFound))
}

func TestDirectory_EvictStaleRemovesSilentSessions(t *testing.T) {
	directory, _ := newTestDirectory(t, 30*time.Millisecond)
	ctx := context.Background()

	stale, err := directory.Register(ctx, 1, 7)
	require.NoError(t, err)
	fresh, err := directory.Register(ctx, 1, 9)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, directory.Heartbeat(ctx, fresh.ID))

	evicted := directory.EvictStale(ctx)

	require.Len(t, evicted, 1)
	assert.Equal(t, stale.ID, evicted[0].ID)
	assert.Equal(t, []uint{9}, directory.ListActive(1))
}
