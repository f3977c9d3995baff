package repository

import (
	"context"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// OwnershipRepository persists the node-to-owner bindings. Rows are
// insert-only: ownership is immutable for the lifetime of a node.
type OwnershipRepository interface {
	// Save inserts a new ownership record. Returns ErrDuplicateEntry if
	// the (project, node) pair already has an owner, which the registry
	// treats as losing a cross-process creation race.
	Save(ctx context.Context, o *domain.Ownership) error

	// ListByProject returns every ownership record for a project, used
	// to warm the registry's in-memory table on first touch.
	ListByProject(ctx context.Context, projectID uint) ([]domain.Ownership, error)
}
