package service

import (
	"context"
	"errors"

	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// Access decides whether a user may join a project. Membership rosters
// live in the upstream workspace service that issues the JWTs, so the
// default implementation only verifies the project itself; deployments
// with a local roster can plug in their own checker.
type Access interface {
	Authorize(ctx context.Context, projectID uint, userID uint) error
}

// ProjectAccess authorizes any authenticated user against an existing
// project and lets brand-new projects through so the first collaborator
// can create them on connect.
type ProjectAccess struct {
	projectRepo repository.ProjectRepository
}

func NewProjectAccess(projectRepo repository.ProjectRepository) *ProjectAccess {
	return &ProjectAccess{projectRepo: projectRepo}
}

func (a *ProjectAccess) Authorize(ctx context.Context, projectID uint, userID uint) error {
	if projectID == 0 {
		return ErrNotMember
	}
	_, err := a.projectRepo.FindByID(ctx, projectID)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
