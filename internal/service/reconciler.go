package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/dto"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// Reconciler computes the catch-up payload for a joining session:
// either the ordered slice of events after the client's last known
// sequence, or a full snapshot when the client is too far behind for
// the bounded replay window.
type Reconciler struct {
	stateRepo   repository.StateRepository
	eventRepo   repository.EventRepository
	projectRepo repository.ProjectRepository
	broadcaster *Broadcaster
	window      int
	cacheTTL    time.Duration
}

// NewReconciler creates a Reconciler instance. window bounds how far
// behind a client may be and still receive incremental events.
func NewReconciler(
	stateRepo repository.StateRepository,
	eventRepo repository.EventRepository,
	projectRepo repository.ProjectRepository,
	broadcaster *Broadcaster,
	window int,
	cacheTTL time.Duration,
) *Reconciler {
	if stateRepo == nil || eventRepo == nil || projectRepo == nil || broadcaster == nil {
		panic("all dependencies must be non-nil for Reconciler")
	}
	if window <= 0 {
		window = 512
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Reconciler{
		stateRepo:   stateRepo,
		eventRepo:   eventRepo,
		projectRepo: projectRepo,
		broadcaster: broadcaster,
		window:      window,
		cacheTTL:    cacheTTL,
	}
}

// Sync returns the payload that brings a session up to the
// authoritative state. sinceSeq is the client's last known sequence;
// zero means the client knows nothing. If the authoritative state
// cannot be loaded at all, Sync fails with ErrSyncUnavailable and the
// session must not be admitted.
func (r *Reconciler) Sync(ctx context.Context, projectID uint, sinceSeq uint64) (*dto.SyncPayload, error) {
	logCtx := logrus.WithFields(logrus.Fields{"project_id": projectID, "since": sinceSeq})

	current, err := r.stateRepo.CurrentSequence(ctx, projectID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read hot sequence, falling back to durable log")
		current, err = r.eventRepo.LatestSequence(ctx, projectID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to determine current sequence")
			return nil, ErrSyncUnavailable
		}
	} else if current == 0 {
		// A zero counter is ambiguous: brand-new project, or Redis lost
		// the key. The durable log decides; realign the counter so later
		// appends continue from the right sequence.
		durable, derr := r.eventRepo.LatestSequence(ctx, projectID)
		if derr != nil {
			logCtx.WithError(derr).Error("Failed to verify empty sequence counter")
			return nil, ErrSyncUnavailable
		}
		if durable > 0 {
			current = durable
			if serr := r.stateRepo.SyncSequence(ctx, projectID, durable); serr != nil {
				logCtx.WithError(serr).Warn("Failed to realign sequence counter")
			}
		}
	}

	if sinceSeq >= current {
		// Nothing to replay; confirm the cursor so the client can trust
		// its local state.
		return &dto.SyncPayload{Type: dto.MsgSync, Sequence: current}, nil
	}

	if sinceSeq > 0 && current-sinceSeq <= uint64(r.window) {
		if payload, ok := r.eventsPayload(ctx, projectID, sinceSeq, current); ok {
			return payload, nil
		}
		logCtx.Debug("Replay window unavailable, sending full snapshot")
	}
	return r.snapshotPayload(ctx, projectID)
}

// eventsPayload builds the incremental payload from the replay window,
// falling back to the durable log when the window is trimmed or Redis
// lost it. Returns ok=false when neither source yields a gap-free
// slice, forcing the snapshot path.
func (r *Reconciler) eventsPayload(ctx context.Context, projectID uint, sinceSeq, current uint64) (*dto.SyncPayload, bool) {
	logCtx := logrus.WithFields(logrus.Fields{"project_id": projectID, "since": sinceSeq})

	events, complete, err := r.stateRepo.EventsAfter(ctx, projectID, sinceSeq)
	if err != nil || !complete {
		if err != nil {
			logCtx.WithError(err).Warn("Failed to read replay window")
		}
		events, err = r.eventRepo.ListAfter(ctx, projectID, sinceSeq, r.window)
		if err != nil {
			logCtx.WithError(err).Warn("Failed to read durable log for catch-up")
			return nil, false
		}
	}
	if !contiguous(events, sinceSeq, current) {
		return nil, false
	}

	out := make([]dto.EventDTO, len(events))
	for i := range events {
		out[i] = dto.NewEventDTO(&events[i])
	}
	return &dto.SyncPayload{Type: dto.MsgSync, Sequence: current, Events: out}, true
}

// contiguous verifies the slice covers (since, current] with no gaps
// and no duplicates.
func contiguous(events []domain.CollabEvent, since, current uint64) bool {
	if uint64(len(events)) != current-since {
		return false
	}
	next := since + 1
	for i := range events {
		if events[i].Sequence != next {
			return false
		}
		next++
	}
	return true
}

// snapshotPayload returns the full current snapshot. The live
// projection is authoritative when available; the cache and the
// durable blob are fallbacks so an idle project can still admit
// sessions while its line is cold.
func (r *Reconciler) snapshotPayload(ctx context.Context, projectID uint) (*dto.SyncPayload, error) {
	logCtx := logrus.WithField("project_id", projectID)

	project, err := r.broadcaster.Projection(ctx, projectID)
	if err == nil {
		// Refresh the cache off the hot path.
		go func(p *domain.Project) {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.stateRepo.SetSnapshotCache(cacheCtx, p.ID, p, r.cacheTTL); err != nil {
				logrus.WithField("project_id", p.ID).
					WithError(err).Warn("Failed to warm snapshot cache after sync")
			}
		}(project)
		return &dto.SyncPayload{
			Type:     dto.MsgSync,
			Sequence: project.Sequence,
			Full:     true,
			Snapshot: project.Snapshot,
		}, nil
	}
	logCtx.WithError(err).Warn("Projection unavailable, trying snapshot stores")

	if cached, cerr := r.stateRepo.GetSnapshotCache(ctx, projectID); cerr == nil {
		return &dto.SyncPayload{
			Type:     dto.MsgSync,
			Sequence: cached.Sequence,
			Full:     true,
			Snapshot: cached.Snapshot,
		}, nil
	}
	stored, serr := r.projectRepo.FindByID(ctx, projectID)
	if serr != nil {
		if errors.Is(serr, repository.ErrProjectNotFound) {
			// Brand-new project: an empty graph is a valid baseline.
			empty, _ := domain.NewGraphState().Marshal()
			return &dto.SyncPayload{Type: dto.MsgSync, Full: true, Snapshot: empty}, nil
		}
		logCtx.WithError(serr).Error("Snapshot cannot be loaded from any source")
		return nil, ErrSyncUnavailable
	}
	return &dto.SyncPayload{
		Type:     dto.MsgSync,
		Sequence: stored.Sequence,
		Full:     true,
		Snapshot: stored.Snapshot,
	}, nil
}
