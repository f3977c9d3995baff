package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
	"github.com/ankit-raj78/synxSphere-sub001/internal/tasks"
)

// EventPersistHandler writes accepted events to the durable log. The
// broadcaster has already assigned the sequence and fanned the event
// out; this handler only has to make it stick, retrying until it does.
type EventPersistHandler struct {
	eventRepo   repository.EventRepository
	broadcaster *service.Broadcaster
}

// NewEventPersistHandler creates the handler instance.
func NewEventPersistHandler(eventRepo repository.EventRepository, broadcaster *service.Broadcaster) *EventPersistHandler {
	if eventRepo == nil {
		panic("EventRepository cannot be nil for EventPersistHandler")
	}
	if broadcaster == nil {
		panic("Broadcaster cannot be nil for EventPersistHandler")
	}
	return &EventPersistHandler{eventRepo: eventRepo, broadcaster: broadcaster}
}

// ProcessTask implements asynq.Handler.
func (h *EventPersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	retryCount, _ := asynq.GetRetryCount(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_type": t.Type(),
		"retry":     retryCount,
	})

	var payload tasks.EventPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal event persist payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	ev := payload.Event
	logCtx = logCtx.WithFields(logrus.Fields{
		"project_id": ev.ProjectID,
		"sequence":   ev.Sequence,
	})

	if err := h.eventRepo.SaveBatch(ctx, []domain.CollabEvent{ev}); err != nil {
		logCtx.WithError(err).Error("Durable event write failed, will retry")
		h.broadcaster.MarkDegraded(ev.ProjectID)
		return fmt.Errorf("failed to save event seq %d: %w", ev.Sequence, err)
	}

	h.broadcaster.MarkPersisted(ev.ProjectID)
	if retryCount > 0 {
		logCtx.Info("Durable event write recovered after retries")
	} else {
		logCtx.Debug("Event persisted")
	}
	return nil
}
