package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// GormProjectRepository is the GORM implementation of ProjectRepository.
type GormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository creates a GormProjectRepository instance.
func NewGormProjectRepository(db *gorm.DB) *GormProjectRepository {
	if db == nil {
		panic("database connection cannot be nil for GormProjectRepository")
	}
	return &GormProjectRepository{db: db}
}

// FindByID loads a project row, mapping gorm.ErrRecordNotFound to the
// repository sentinel.
func (r *GormProjectRepository) FindByID(ctx context.Context, projectID uint) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).First(&project, projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrProjectNotFound
		}
		return nil, fmt.Errorf("gorm: failed to load project %d: %w", projectID, err)
	}
	return &project, nil
}

// CreateIfAbsent inserts the project row on first collaborative
// session. An existing row is left untouched.
func (r *GormProjectRepository) CreateIfAbsent(ctx context.Context, projectID uint, name string) error {
	project := domain.Project{ID: projectID, Name: name}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&project).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to ensure project %d: %w", projectID, err)
	}
	return nil
}

// SaveSnapshot replaces the snapshot blob and its sequence marker.
func (r *GormProjectRepository) SaveSnapshot(ctx context.Context, projectID uint, blob []byte, sequence uint64) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Project{}).
		Where("id = ?", projectID).
		Updates(map[string]any{"snapshot": blob, "sequence": sequence})
	if res.Error != nil {
		return fmt.Errorf("gorm: failed to save snapshot for project %d (seq %d): %w", projectID, sequence, res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrProjectNotFound
	}
	return nil
}
