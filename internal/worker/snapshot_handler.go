package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/hub"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
)

// SnapshotCheckHandler runs the periodic snapshot cadence over every
// project with live connections. The last save time per project is kept
// in process memory; after a restart the worst case is one extra save.
type SnapshotCheckHandler struct {
	hub       *hub.Hub
	snapshots *service.Snapshots

	lastSaveMu sync.Mutex
	lastSave   map[uint]time.Time
}

// NewSnapshotCheckHandler creates the handler instance.
func NewSnapshotCheckHandler(h *hub.Hub, snapshots *service.Snapshots) *SnapshotCheckHandler {
	if h == nil {
		panic("Hub cannot be nil for SnapshotCheckHandler")
	}
	if snapshots == nil {
		panic("Snapshots cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{
		hub:       h,
		snapshots: snapshots,
		lastSave:  make(map[uint]time.Time),
	}
}

// ProcessTask implements asynq.Handler.
func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	activeProjects := h.hub.ActiveProjects()
	if len(activeProjects) == 0 {
		logCtx.Debug("No active projects, skipping snapshot check")
		return nil
	}
	logCtx.Infof("Checking snapshots for %d active projects", len(activeProjects))

	var firstErr error
	for _, projectID := range activeProjects {
		h.lastSaveMu.Lock()
		last := h.lastSave[projectID]
		h.lastSaveMu.Unlock()

		updated, err := h.snapshots.CheckAndSave(ctx, projectID, last)
		if err != nil {
			logrus.WithError(err).WithField("project_id", projectID).Warn("Snapshot check failed for project")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		h.lastSaveMu.Lock()
		h.lastSave[projectID] = updated
		h.lastSaveMu.Unlock()
	}

	// Forget projects that went idle so the map does not grow forever.
	h.lastSaveMu.Lock()
	active := make(map[uint]bool, len(activeProjects))
	for _, id := range activeProjects {
		active[id] = true
	}
	for id := range h.lastSave {
		if !active[id] {
			delete(h.lastSave, id)
		}
	}
	h.lastSaveMu.Unlock()

	return firstErr
}
