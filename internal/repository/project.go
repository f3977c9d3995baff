package repository

import (
	"context"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// ProjectRepository stores project rows and their snapshot blobs.
type ProjectRepository interface {
	// FindByID loads a project or returns ErrProjectNotFound.
	FindByID(ctx context.Context, projectID uint) (*domain.Project, error)

	// CreateIfAbsent inserts a project row with the given ID if none
	// exists yet. A project comes into being on the first collaborative
	// session for its room; the row may already exist from a previous
	// session, which is not an error.
	CreateIfAbsent(ctx context.Context, projectID uint, name string) error

	// SaveSnapshot replaces the project's snapshot blob and records the
	// sequence number it was taken at.
	SaveSnapshot(ctx context.Context, projectID uint, blob []byte, sequence uint64) error
}
