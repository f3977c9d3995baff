package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/dto"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// EventSink receives the serialized frame of every accepted event for
// fan-out to all of the project's sessions, the submitter included.
// Deliver is called while the
// project line is held, which is what makes the delivery order equal
// to the sequence order; implementations must only enqueue, never
// block.
type EventSink interface {
	Deliver(projectID uint, seq uint64, frame []byte)
}

// PersistQueue hands accepted events to the background persistence
// worker. Enqueue failures leave the project in degraded mode until the
// worker reports a successful write.
type PersistQueue interface {
	EnqueueEventPersist(ev *domain.CollabEvent) error
}

// SubmitOutcome reports how a mutation was arbitrated. OwnerID is the
// actual owner of the touched node after the call: when a creation
// races and loses, the mutation is still accepted and OwnershipLost is
// set so the submitter learns who won.
type SubmitOutcome struct {
	OwnerID       uint
	OwnershipLost bool
}

// Broadcaster validates mutations, assigns sequence numbers, appends
// events to the log, and fans them out. All of that happens under a
// per-project line (a project-keyed mutex): the single place where
// ordering-sensitive decisions are made. Persistence I/O stays outside
// the contract — the durable append runs on the background queue and
// is retried with backoff.
type Broadcaster struct {
	registry    *Registry
	stateRepo   repository.StateRepository
	eventRepo   repository.EventRepository
	projectRepo repository.ProjectRepository
	queue       PersistQueue
	window      int

	mu    sync.Mutex
	lines map[uint]*projectLine

	sinkMu sync.RWMutex
	sink   EventSink
}

type projectLine struct {
	mu       sync.Mutex
	graph    *domain.GraphState
	degraded bool
}

// NewBroadcaster creates a Broadcaster instance. window is the number
// of events retained for catch-up replay.
func NewBroadcaster(
	registry *Registry,
	stateRepo repository.StateRepository,
	eventRepo repository.EventRepository,
	projectRepo repository.ProjectRepository,
	queue PersistQueue,
	window int,
) *Broadcaster {
	if registry == nil || stateRepo == nil || eventRepo == nil || projectRepo == nil {
		panic("all dependencies must be non-nil for Broadcaster")
	}
	if window <= 0 {
		window = 512
	}
	return &Broadcaster{
		registry:    registry,
		stateRepo:   stateRepo,
		eventRepo:   eventRepo,
		projectRepo: projectRepo,
		queue:       queue,
		window:      window,
		lines:       make(map[uint]*projectLine),
	}
}

// SetSink wires the transport fan-out. Must be called before traffic
// arrives.
func (b *Broadcaster) SetSink(sink EventSink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sink = sink
}

func (b *Broadcaster) line(projectID uint) *projectLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lines[projectID]
	if !ok {
		l = &projectLine{}
		b.lines[projectID] = l
	}
	return l
}

// warmLine loads the projection from the latest snapshot, replays the
// durable log past it, and realigns the Redis sequence counter with
// the durable log. Caller holds l.mu.
func (b *Broadcaster) warmLine(ctx context.Context, projectID uint, l *projectLine) error {
	if l.graph != nil {
		return nil
	}
	logCtx := logrus.WithField("project_id", projectID)

	var blob []byte
	if cached, err := b.stateRepo.GetSnapshotCache(ctx, projectID); err == nil {
		blob = cached.Snapshot
	} else if project, err := b.projectRepo.FindByID(ctx, projectID); err == nil {
		blob = project.Snapshot
	} else if !errors.Is(err, repository.ErrProjectNotFound) {
		return fmt.Errorf("failed to load snapshot for projection: %w", err)
	}

	graph, err := domain.ParseGraphState(blob)
	if err != nil {
		logCtx.WithError(err).Error("Snapshot blob is corrupt, starting projection from empty state")
		graph = domain.NewGraphState()
	}

	durable, err := b.eventRepo.LatestSequence(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to read durable log head: %w", err)
	}
	if durable > graph.Sequence {
		events, err := b.eventRepo.ListAfter(ctx, projectID, graph.Sequence, int(durable-graph.Sequence))
		if err != nil {
			return fmt.Errorf("failed to replay durable log into projection: %w", err)
		}
		for i := range events {
			graph.Apply(&events[i])
		}
	}
	if err := b.stateRepo.SyncSequence(ctx, projectID, graph.Sequence); err != nil {
		logCtx.WithError(err).Warn("Failed to realign Redis sequence counter")
	}
	l.graph = graph
	logCtx.WithField("sequence", graph.Sequence).Debug("Project line warmed")
	return nil
}

// Submit runs one mutation through the accept pipeline: classify,
// arbitrate ownership, check locks, assign the next sequence, append,
// and fan out. All sessions in the project observe accepted mutations
// in sequence order; nothing is guaranteed across projects.
func (b *Broadcaster) Submit(ctx context.Context, projectID, userID uint, m dto.Mutation) (*domain.CollabEvent, *SubmitOutcome, error) {
	if !m.Kind.Valid() || m.NodeID == uuid.Nil {
		return nil, nil, ErrInvalidMutation
	}

	l := b.line(projectID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := b.warmLine(ctx, projectID, l); err != nil {
		logrus.WithField("project_id", projectID).
			WithError(err).Error("Failed to warm project line")
		return nil, nil, ErrProjectUnavailable
	}

	outcome := &SubmitOutcome{OwnerID: userID}
	var eventType domain.EventType

	switch m.Op {
	case dto.OpCreate:
		eventType = domain.EventNodeCreated
		if m.Kind.Ownable() {
			record, err := b.registry.RegisterOwnership(ctx, projectID, m.NodeID, m.Kind, userID)
			var conflict *OwnershipConflictError
			switch {
			case err == nil:
				outcome.OwnerID = record.OwnerID
			case errors.As(err, &conflict):
				// First committer wins; the losing creation is still
				// accepted and the submitter learns the actual owner.
				outcome.OwnerID = conflict.OwnerID
				outcome.OwnershipLost = true
			default:
				return nil, nil, err
			}
		}
	case dto.OpUpdate, dto.OpDelete:
		if lock := b.registry.ActiveLock(projectID, m.NodeID); lock != nil && lock.HolderID != userID {
			now := time.Now().UTC()
			return nil, nil, &LockConflictError{
				NodeID:    m.NodeID,
				HolderID:  lock.HolderID,
				Remaining: lock.Remaining(now),
			}
		}
		if m.Op == dto.OpUpdate {
			eventType = domain.EventNodeMutated
		} else {
			eventType = domain.EventNodeDeleted
		}
		if owner, err := b.registry.Owner(ctx, projectID, m.NodeID); err == nil && owner != nil {
			outcome.OwnerID = owner.OwnerID
		}
	case dto.OpOther:
		eventType = domain.EventOther
	default:
		return nil, nil, ErrInvalidMutation
	}

	event, err := b.appendLocked(ctx, projectID, userID, l, eventType, m.NodeID.String(), m.Payload)
	if err != nil {
		return nil, nil, err
	}
	return event, outcome, nil
}

// AppendLockEvent records and fans out a lock acquisition or release.
// Lock arbitration itself happens in the registry; this only gives the
// outcome a place in the total order so late joiners replay it.
func (b *Broadcaster) AppendLockEvent(ctx context.Context, projectID, userID uint, nodeID uuid.UUID, acquired bool, ttl time.Duration) (*domain.CollabEvent, error) {
	l := b.line(projectID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := b.warmLine(ctx, projectID, l); err != nil {
		return nil, ErrProjectUnavailable
	}

	eventType := domain.EventLockReleased
	var payload json.RawMessage
	if acquired {
		eventType = domain.EventLockAcquired
		payload = json.RawMessage(fmt.Sprintf(`{"ttlSeconds":%d}`, int(ttl.Seconds())))
	}
	return b.appendLocked(ctx, projectID, userID, l, eventType, nodeID.String(), payload)
}

// appendLocked assigns the next sequence, updates the projection,
// pushes the event into the replay window, queues the durable append,
// and delivers the frame. Caller holds l.mu.
func (b *Broadcaster) appendLocked(ctx context.Context, projectID, userID uint, l *projectLine, eventType domain.EventType, nodeID string, payload json.RawMessage) (*domain.CollabEvent, error) {
	logCtx := logrus.WithFields(logrus.Fields{"project_id": projectID, "user_id": userID})

	seq, err := b.stateRepo.NextSequence(ctx, projectID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to assign sequence number")
		return nil, ErrInternal
	}

	event := &domain.CollabEvent{
		ProjectID: projectID,
		Sequence:  seq,
		UserID:    userID,
		Type:      eventType,
		NodeID:    nodeID,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}

	l.graph.Apply(event)

	if err := b.stateRepo.PushEvent(ctx, projectID, event, b.window); err != nil {
		logCtx.WithField("sequence", seq).
			WithError(err).Error("Failed to push event into replay window")
	}
	if err := b.stateRepo.IncrementOpCount(ctx, projectID); err != nil {
		logCtx.WithError(err).Warn("Failed to bump op counter")
	}

	if b.queue != nil {
		if err := b.queue.EnqueueEventPersist(event); err != nil {
			l.degraded = true
			logCtx.WithField("sequence", seq).
				WithError(err).Error("Failed to queue durable append, project degraded")
		}
	}

	b.sinkMu.RLock()
	sink := b.sink
	b.sinkMu.RUnlock()
	if sink != nil {
		frame, err := json.Marshal(dto.NewEventDTO(event))
		if err != nil {
			logCtx.WithError(err).Error("Failed to marshal broadcast frame")
		} else {
			sink.Deliver(projectID, event.Sequence, frame)
		}
	}
	return event, nil
}

// Projection returns a snapshot of the in-memory graph projection for
// the project, packaged for the snapshot store.
func (b *Broadcaster) Projection(ctx context.Context, projectID uint) (*domain.Project, error) {
	l := b.line(projectID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := b.warmLine(ctx, projectID, l); err != nil {
		return nil, err
	}
	blob, err := l.graph.Marshal()
	if err != nil {
		return nil, err
	}
	return &domain.Project{ID: projectID, Snapshot: blob, Sequence: l.graph.Sequence}, nil
}

// Degraded reports whether the project is waiting on persistence
// recovery.
func (b *Broadcaster) Degraded(projectID uint) bool {
	l := b.line(projectID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// MarkDegraded flags a project whose durable appends are failing. A
// single project's persistence trouble never touches other projects'
// lines.
func (b *Broadcaster) MarkDegraded(projectID uint) {
	l := b.line(projectID)
	l.mu.Lock()
	l.degraded = true
	l.mu.Unlock()
}

// MarkPersisted clears the degraded flag after the persistence worker
// lands a write.
func (b *Broadcaster) MarkPersisted(projectID uint) {
	l := b.line(projectID)
	l.mu.Lock()
	l.degraded = false
	l.mu.Unlock()
}
