package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// PresenceListener is notified whenever the set of live users in a
// project changes (join, leave, eviction). The transport gateway
// subscribes to broadcast presence frames.
type PresenceListener interface {
	PresenceChanged(projectID uint, users []uint)
}

// Directory tracks which users are connected to which project. The map
// of live sessions is in-memory (sessions are bound to this process's
// connections); liveness keys are mirrored into Redis with a TTL so
// operators can see them and so stale state self-expires.
type Directory struct {
	projectRepo repository.ProjectRepository
	stateRepo   repository.StateRepository
	timeout     time.Duration

	mu        sync.RWMutex
	sessions  map[string]*domain.Session
	byProject map[uint]map[string]*domain.Session
	listeners []PresenceListener
}

// NewDirectory creates a Directory instance. timeout is the heartbeat
// window after which a session counts as stale.
func NewDirectory(projectRepo repository.ProjectRepository, stateRepo repository.StateRepository, timeout time.Duration) *Directory {
	if projectRepo == nil {
		panic("ProjectRepository cannot be nil for Directory")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for Directory")
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Directory{
		projectRepo: projectRepo,
		stateRepo:   stateRepo,
		timeout:     timeout,
		sessions:    make(map[string]*domain.Session),
		byProject:   make(map[uint]map[string]*domain.Session),
	}
}

// Subscribe registers a presence listener. Must be called before the
// directory starts taking registrations.
func (d *Directory) Subscribe(l PresenceListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Register creates a session for a user joining a project. The project
// row is created on the first collaborative session for a room; if the
// row cannot be loaded or created the registration fails with
// ErrProjectUnavailable and the connection is not admitted.
func (d *Directory) Register(ctx context.Context, projectID uint, userID uint) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"project_id": projectID, "user_id": userID})

	if err := d.projectRepo.CreateIfAbsent(ctx, projectID, ""); err != nil {
		logCtx.WithError(err).Error("Failed to ensure project row for new session")
		return nil, ErrProjectUnavailable
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		UserID:    userID,
		StartedAt: now,
		LastSeen:  now,
	}

	d.mu.Lock()
	d.sessions[session.ID] = session
	if _, ok := d.byProject[projectID]; !ok {
		d.byProject[projectID] = make(map[string]*domain.Session)
	}
	d.byProject[projectID][session.ID] = session
	users := d.activeUsersLocked(projectID)
	listeners := append([]PresenceListener(nil), d.listeners...)
	d.mu.Unlock()

	// Liveness mirroring is best-effort: a Redis hiccup must not block
	// session admission.
	if err := d.stateRepo.TouchSession(ctx, session, d.timeout); err != nil {
		logCtx.WithError(err).Warn("Failed to mirror session liveness to Redis")
	}

	logCtx.WithField("session_id", session.ID).Info("Session registered")
	for _, l := range listeners {
		l.PresenceChanged(projectID, users)
	}
	return session, nil
}

// Heartbeat refreshes the session's liveness timestamp.
func (d *Directory) Heartbeat(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	session, ok := d.sessions[sessionID]
	if !ok {
		d.mu.Unlock()
		return ErrSessionNotFound
	}
	session.LastSeen = time.Now().UTC()
	cp := *session
	d.mu.Unlock()

	if err := d.stateRepo.TouchSession(ctx, &cp, d.timeout); err != nil {
		logrus.WithField("session_id", sessionID).
			WithError(err).Warn("Failed to refresh session liveness in Redis")
	}
	return nil
}

// Unregister removes a session on disconnect and notifies presence
// listeners. Unknown session IDs are ignored.
func (d *Directory) Unregister(ctx context.Context, sessionID string) {
	d.mu.Lock()
	session, ok := d.sessions[sessionID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.sessions, sessionID)
	if projectSessions, ok := d.byProject[session.ProjectID]; ok {
		delete(projectSessions, sessionID)
		if len(projectSessions) == 0 {
			delete(d.byProject, session.ProjectID)
		}
	}
	users := d.activeUsersLocked(session.ProjectID)
	listeners := append([]PresenceListener(nil), d.listeners...)
	d.mu.Unlock()

	if err := d.stateRepo.RemoveSession(ctx, sessionID); err != nil {
		logrus.WithField("session_id", sessionID).
			WithError(err).Warn("Failed to remove session liveness key")
	}
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"project_id": session.ProjectID,
		"user_id":    session.UserID,
	}).Info("Session unregistered")
	for _, l := range listeners {
		l.PresenceChanged(session.ProjectID, users)
	}
}

// Get returns the session by ID, or ErrSessionNotFound.
func (d *Directory) Get(sessionID string) (*domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	session, ok := d.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

// ListActive returns the distinct user IDs with a live session in the
// project, sorted for stable presence frames.
func (d *Directory) ListActive(projectID uint) []uint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeUsersLocked(projectID)
}

func (d *Directory) activeUsersLocked(projectID uint) []uint {
	seen := make(map[uint]struct{})
	var users []uint
	for _, s := range d.byProject[projectID] {
		if _, ok := seen[s.UserID]; ok {
			continue
		}
		seen[s.UserID] = struct{}{}
		users = append(users, s.UserID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// ActiveProjects returns the IDs of projects with at least one live
// session, used by the periodic snapshot worker.
func (d *Directory) ActiveProjects() []uint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]uint, 0, len(d.byProject))
	for id := range d.byProject {
		ids = append(ids, id)
	}
	return ids
}

// EvictStale removes sessions whose heartbeat is older than the
// directory timeout and returns them so the caller can release the
// evicted users' locks. Liveness here is best-effort bookkeeping, not
// part of the ordering contract.
func (d *Directory) EvictStale(ctx context.Context) []*domain.Session {
	now := time.Now().UTC()

	d.mu.Lock()
	var evicted []*domain.Session
	affected := make(map[uint][]uint)
	for id, session := range d.sessions {
		if !session.Stale(now, d.timeout) {
			continue
		}
		delete(d.sessions, id)
		if projectSessions, ok := d.byProject[session.ProjectID]; ok {
			delete(projectSessions, id)
			if len(projectSessions) == 0 {
				delete(d.byProject, session.ProjectID)
			}
		}
		evicted = append(evicted, session)
	}
	for _, s := range evicted {
		affected[s.ProjectID] = d.activeUsersLocked(s.ProjectID)
	}
	listeners := append([]PresenceListener(nil), d.listeners...)
	d.mu.Unlock()

	for _, s := range evicted {
		if err := d.stateRepo.RemoveSession(ctx, s.ID); err != nil {
			logrus.WithField("session_id", s.ID).
				WithError(err).Warn("Failed to remove evicted session liveness key")
		}
		logrus.WithFields(logrus.Fields{
			"session_id": s.ID,
			"project_id": s.ProjectID,
			"user_id":    s.UserID,
		}).Info("Session evicted after heartbeat timeout")
	}
	for projectID, users := range affected {
		for _, l := range listeners {
			l.PresenceChanged(projectID, users)
		}
	}
	return evicted
}
