package repository

import (
	"context"
	"time"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// StateRepository holds the hot, per-project collaboration state,
// implemented on Redis: the authoritative sequence counter, the bounded
// replay window, the snapshot cache, session liveness, and the rate
// limiter counters.
type StateRepository interface {
	// === Sequencing ===

	// NextSequence atomically increments and returns the project's
	// sequence counter. Called only under the project's serialization
	// point.
	NextSequence(ctx context.Context, projectID uint) (uint64, error)

	// CurrentSequence returns the latest assigned sequence, zero if the
	// counter does not exist yet.
	CurrentSequence(ctx context.Context, projectID uint) (uint64, error)

	// SyncSequence raises the counter to at least seq, used to realign
	// Redis with the durable log after a Redis restart.
	SyncSequence(ctx context.Context, projectID uint, seq uint64) error

	// === Replay window ===

	// PushEvent appends an event to the project's replay window and
	// trims the window to the given length.
	PushEvent(ctx context.Context, projectID uint, ev *domain.CollabEvent, window int) error

	// EventsAfter returns the windowed events with sequence > after in
	// ascending order. The boolean is false when the window has been
	// trimmed past `after`, i.e. the caller must fall back to the
	// durable log or a full snapshot.
	EventsAfter(ctx context.Context, projectID uint, after uint64) ([]domain.CollabEvent, bool, error)

	// === Snapshot cache ===

	GetSnapshotCache(ctx context.Context, projectID uint) (*domain.Project, error)
	SetSnapshotCache(ctx context.Context, projectID uint, p *domain.Project, ttl time.Duration) error

	// === Snapshot cadence ===

	IncrementOpCount(ctx context.Context, projectID uint) error
	GetOpCount(ctx context.Context, projectID uint) (int64, error)
	ResetOpCount(ctx context.Context, projectID uint) error

	// === Session liveness ===

	// TouchSession records the session as alive for the given TTL.
	TouchSession(ctx context.Context, s *domain.Session, ttl time.Duration) error
	// RemoveSession clears the liveness key.
	RemoveSession(ctx context.Context, sessionID string) error

	// === Rate limiting ===

	// CheckRateLimit increments the counter for key and reports whether
	// the limit is exceeded within the window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
