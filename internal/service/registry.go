package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// Registry is the ownership registry: the per-project table of
// node-to-owner bindings plus the table of active edit locks. Ownership
// is immutable once registered; locks expire by TTL and are checked
// lazily on every read, there is no sweep on the lock read path.
//
// All ordering-sensitive calls (registration, lock arbitration) take
// the per-project mutex, which is this registry's share of the
// project serialization point.
type Registry struct {
	ownRepo    repository.OwnershipRepository
	defaultTTL time.Duration
	maxTTL     time.Duration

	mu       sync.Mutex
	projects map[uint]*projectRegistry
}

type projectRegistry struct {
	mu     sync.Mutex
	loaded bool
	owners map[uuid.UUID]*domain.Ownership
	locks  map[uuid.UUID]*domain.EditLock
}

// NewRegistry creates a Registry instance.
func NewRegistry(ownRepo repository.OwnershipRepository, defaultTTL, maxTTL time.Duration) *Registry {
	if ownRepo == nil {
		panic("OwnershipRepository cannot be nil for Registry")
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	if maxTTL < defaultTTL {
		maxTTL = 5 * time.Minute
	}
	return &Registry{
		ownRepo:    ownRepo,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		projects:   make(map[uint]*projectRegistry),
	}
}

func (r *Registry) project(projectID uint) *projectRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		p = &projectRegistry{
			owners: make(map[uuid.UUID]*domain.Ownership),
			locks:  make(map[uuid.UUID]*domain.EditLock),
		}
		r.projects[projectID] = p
	}
	return p
}

// ensureLoaded warms the in-memory ownership table from the durable
// store on first touch of a project. Caller holds p.mu.
func (r *Registry) ensureLoaded(ctx context.Context, projectID uint, p *projectRegistry) error {
	if p.loaded {
		return nil
	}
	records, err := r.ownRepo.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for i := range records {
		rec := records[i]
		p.owners[rec.NodeID] = &rec
	}
	p.loaded = true
	return nil
}

// RegisterOwnership binds a node to its creating user. The call is
// idempotent for the same owner and fails with OwnershipConflictError
// when another user already owns the node; it never transfers
// ownership. Non-ownable kinds are rejected with ErrNotOwnable and pass
// through unchecked upstream.
func (r *Registry) RegisterOwnership(ctx context.Context, projectID uint, nodeID uuid.UUID, kind domain.NodeKind, userID uint) (*domain.Ownership, error) {
	if !kind.Ownable() {
		return nil, ErrNotOwnable
	}
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := r.ensureLoaded(ctx, projectID, p); err != nil {
		logrus.WithFields(logrus.Fields{"project_id": projectID}).
			WithError(err).Error("Failed to warm ownership table")
		return nil, ErrProjectUnavailable
	}

	if existing, ok := p.owners[nodeID]; ok {
		if existing.OwnerID == userID {
			return existing, nil
		}
		return existing, &OwnershipConflictError{NodeID: nodeID, OwnerID: existing.OwnerID}
	}

	record := &domain.Ownership{
		ProjectID:    projectID,
		NodeID:       nodeID,
		Kind:         kind,
		OwnerID:      userID,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.ownRepo.Save(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// Lost a cross-process race. Reload and report the winner.
			p.loaded = false
			if lerr := r.ensureLoaded(ctx, projectID, p); lerr == nil {
				if winner, ok := p.owners[nodeID]; ok {
					if winner.OwnerID == userID {
						return winner, nil
					}
					return winner, &OwnershipConflictError{NodeID: nodeID, OwnerID: winner.OwnerID}
				}
			}
			return nil, &OwnershipConflictError{NodeID: nodeID}
		}
		// The binding is only authoritative once durable. Keeping an
		// in-memory record here would let another process durably claim
		// the node after a restart, so the registration fails instead.
		logrus.WithFields(logrus.Fields{
			"project_id": projectID,
			"node_id":    nodeID,
			"owner_id":   userID,
		}).WithError(err).Error("Failed to persist ownership record")
		return nil, ErrProjectUnavailable
	}
	p.owners[nodeID] = record
	return record, nil
}

// Owner returns the ownership record for a node, or nil when the node
// is unowned.
func (r *Registry) Owner(ctx context.Context, projectID uint, nodeID uuid.UUID) (*domain.Ownership, error) {
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := r.ensureLoaded(ctx, projectID, p); err != nil {
		return nil, ErrProjectUnavailable
	}
	return p.owners[nodeID], nil
}

// AcquireLock grants or refreshes a short-lived exclusive claim on a
// node. A live lock held by another user fails with LockConflictError
// carrying the holder and remaining TTL. Expired locks are treated as
// absent.
func (r *Registry) AcquireLock(ctx context.Context, projectID uint, nodeID uuid.UUID, userID uint, ttl time.Duration) (*domain.EditLock, error) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := p.locks[nodeID]; ok && !existing.Expired(now) && existing.HolderID != userID {
		return nil, &LockConflictError{
			NodeID:    nodeID,
			HolderID:  existing.HolderID,
			Remaining: existing.Remaining(now),
		}
	}

	lock := &domain.EditLock{
		ProjectID:  projectID,
		NodeID:     nodeID,
		HolderID:   userID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	p.locks[nodeID] = lock
	cp := *lock
	return &cp, nil
}

// ReleaseLock drops the lock if the caller holds it. Releasing a lock
// you do not hold is safe but ineffective; the boolean reports whether
// a live lock was actually released.
func (r *Registry) ReleaseLock(ctx context.Context, projectID uint, nodeID uuid.UUID, userID uint) bool {
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.locks[nodeID]
	if !ok || existing.HolderID != userID {
		return false
	}
	expired := existing.Expired(time.Now().UTC())
	delete(p.locks, nodeID)
	return !expired
}

// ReleaseUserLocks drops every lock a user holds in a project and
// returns the affected node IDs. Called on disconnect and on session
// eviction; ownership records are untouched.
func (r *Registry) ReleaseUserLocks(ctx context.Context, projectID uint, userID uint) []uuid.UUID {
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	var released []uuid.UUID
	for nodeID, lock := range p.locks {
		if lock.HolderID != userID {
			continue
		}
		live := !lock.Expired(now)
		delete(p.locks, nodeID)
		if live {
			released = append(released, nodeID)
		}
	}
	return released
}

// ActiveLock returns the live lock on a node, or nil when the node is
// unlocked or the lock has expired. Expired entries are pruned here,
// which is the registry's only form of lock cleanup.
func (r *Registry) ActiveLock(projectID uint, nodeID uuid.UUID) *domain.EditLock {
	p := r.project(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[nodeID]
	if !ok {
		return nil
	}
	if lock.Expired(time.Now().UTC()) {
		delete(p.locks, nodeID)
		return nil
	}
	cp := *lock
	return &cp
}
