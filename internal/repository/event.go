package repository

import (
	"context"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// EventRepository is the durable, append-only collaboration log. The
// hot read path is served from Redis; this store is the source of
// truth for replay beyond the in-memory window and across restarts.
type EventRepository interface {
	// SaveBatch appends accepted events. Sequence numbers are assigned
	// by the broadcaster before the events reach this store; the
	// (project_id, sequence) unique index guards against double writes
	// from task retries.
	SaveBatch(ctx context.Context, events []domain.CollabEvent) error

	// ListAfter returns up to limit events with sequence > after for a
	// project, in ascending sequence order.
	ListAfter(ctx context.Context, projectID uint, after uint64, limit int) ([]domain.CollabEvent, error)

	// LatestSequence returns the highest durably stored sequence for a
	// project, or zero when the log is empty.
	LatestSequence(ctx context.Context, projectID uint) (uint64, error)

	// CountSince returns the number of events persisted for a project
	// after the given sequence, used for snapshot cadence decisions.
	CountSince(ctx context.Context, projectID uint, after uint64) (int64, error)
}
