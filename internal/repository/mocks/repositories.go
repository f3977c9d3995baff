// Package mocks provides testify mocks for the repository interfaces
// plus an in-memory StateRepository fake for service-level tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// ProjectRepository is a testify mock of repository.ProjectRepository.
type ProjectRepository struct {
	mock.Mock
}

func (m *ProjectRepository) FindByID(ctx context.Context, projectID uint) (*domain.Project, error) {
	args := m.Called(ctx, projectID)
	var p *domain.Project
	if args.Get(0) != nil {
		p = args.Get(0).(*domain.Project)
	}
	return p, args.Error(1)
}

func (m *ProjectRepository) CreateIfAbsent(ctx context.Context, projectID uint, name string) error {
	args := m.Called(ctx, projectID, name)
	return args.Error(0)
}

func (m *ProjectRepository) SaveSnapshot(ctx context.Context, projectID uint, blob []byte, sequence uint64) error {
	args := m.Called(ctx, projectID, blob, sequence)
	return args.Error(0)
}

// OwnershipRepository is a testify mock of repository.OwnershipRepository.
type OwnershipRepository struct {
	mock.Mock
}

func (m *OwnershipRepository) Save(ctx context.Context, o *domain.Ownership) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *OwnershipRepository) ListByProject(ctx context.Context, projectID uint) ([]domain.Ownership, error) {
	args := m.Called(ctx, projectID)
	var list []domain.Ownership
	if args.Get(0) != nil {
		list = args.Get(0).([]domain.Ownership)
	}
	return list, args.Error(1)
}

// EventRepository is a testify mock of repository.EventRepository.
type EventRepository struct {
	mock.Mock
}

func (m *EventRepository) SaveBatch(ctx context.Context, events []domain.CollabEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *EventRepository) ListAfter(ctx context.Context, projectID uint, after uint64, limit int) ([]domain.CollabEvent, error) {
	args := m.Called(ctx, projectID, after, limit)
	var list []domain.CollabEvent
	if args.Get(0) != nil {
		list = args.Get(0).([]domain.CollabEvent)
	}
	return list, args.Error(1)
}

func (m *EventRepository) LatestSequence(ctx context.Context, projectID uint) (uint64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *EventRepository) CountSince(ctx context.Context, projectID uint, after uint64) (int64, error) {
	args := m.Called(ctx, projectID, after)
	return args.Get(0).(int64), args.Error(1)
}
