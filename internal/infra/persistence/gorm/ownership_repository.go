package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// GormOwnershipRepository is the GORM implementation of
// OwnershipRepository. The table carries a unique index on
// (project_id, node_id), which is what makes ownership registration
// race-free across processes.
type GormOwnershipRepository struct {
	db *gorm.DB
}

// NewGormOwnershipRepository creates a GormOwnershipRepository instance.
func NewGormOwnershipRepository(db *gorm.DB) *GormOwnershipRepository {
	if db == nil {
		panic("database connection cannot be nil for GormOwnershipRepository")
	}
	return &GormOwnershipRepository{db: db}
}

// Save inserts a new ownership record, mapping unique-key violations to
// ErrDuplicateEntry so the registry can resolve the race.
func (r *GormOwnershipRepository) Save(ctx context.Context, o *domain.Ownership) error {
	err := r.db.WithContext(ctx).Create(o).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: failed to save ownership (project %d, node %s): %w", o.ProjectID, o.NodeID, err)
	}
	return nil
}

// ListByProject returns all ownership records for a project.
func (r *GormOwnershipRepository) ListByProject(ctx context.Context, projectID uint) ([]domain.Ownership, error) {
	var records []domain.Ownership
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list ownership for project %d: %w", projectID, err)
	}
	return records, nil
}

// isDuplicateKeyError recognizes a MySQL 1062 (or a textual duplicate
// message from other drivers) under the GORM wrapping.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
