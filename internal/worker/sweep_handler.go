package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/hub"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

// SessionSweepHandler evicts sessions whose heartbeats have gone stale.
// Eviction releases the user's locks, announces the releases so peers
// can unblock, and tears down the connection if it is still around.
type SessionSweepHandler struct {
	hub         *hub.Hub
	directory   *service.Directory
	registry    *service.Registry
	broadcaster *service.Broadcaster
}

// NewSessionSweepHandler creates the handler instance.
func NewSessionSweepHandler(h *hub.Hub, directory *service.Directory, registry *service.Registry, broadcaster *service.Broadcaster) *SessionSweepHandler {
	if h == nil || directory == nil || registry == nil || broadcaster == nil {
		panic("all dependencies must be non-nil for SessionSweepHandler")
	}
	return &SessionSweepHandler{
		hub:         h,
		directory:   directory,
		registry:    registry,
		broadcaster: broadcaster,
	}
}

// ProcessTask implements asynq.Handler.
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	evicted := h.directory.EvictStale(ctx)
	if len(evicted) == 0 {
		logCtx.Debug("No stale sessions to evict")
		return nil
	}
	logCtx.Infof("Evicting %d stale sessions", len(evicted))

	for _, session := range evicted {
		sessionCtx := logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
			"project_id": session.ProjectID,
			"user_id":    session.UserID,
		})

		released := h.registry.ReleaseUserLocks(ctx, session.ProjectID, session.UserID)
		for _, nodeID := range released {
			if _, err := h.broadcaster.AppendLockEvent(ctx, session.ProjectID, session.UserID, nodeID, false, 0); err != nil {
				sessionCtx.WithError(err).WithField("node_id", nodeID).Warn("Failed to announce lock release on eviction")
			}
		}

		h.hub.DisconnectSession(session.ID)
		sessionCtx.WithField("released_locks", len(released)).Info("Stale session evicted")
	}

	return nil
}
