package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// GormEventRepository is the GORM implementation of EventRepository.
type GormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository creates a GormEventRepository instance.
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	if db == nil {
		panic("database connection cannot be nil for GormEventRepository")
	}
	return &GormEventRepository{db: db}
}

// SaveBatch appends accepted events. Persistence tasks may be retried
// after partial failures, so rows that already exist (same project and
// sequence) are skipped rather than erred on.
func (r *GormEventRepository) SaveBatch(ctx context.Context, events []domain.CollabEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&events).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save event batch (size %d): %w", len(events), err)
	}
	return nil
}

// ListAfter returns events with sequence > after in ascending order.
func (r *GormEventRepository) ListAfter(ctx context.Context, projectID uint, after uint64, limit int) ([]domain.CollabEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	var events []domain.CollabEvent
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND sequence > ?", projectID, after).
		Order("sequence asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list events for project %d after seq %d: %w", projectID, after, err)
	}
	return events, nil
}

// LatestSequence returns the highest persisted sequence, zero for an
// empty log.
func (r *GormEventRepository) LatestSequence(ctx context.Context, projectID uint) (uint64, error) {
	var seq *uint64
	err := r.db.WithContext(ctx).
		Model(&domain.CollabEvent{}).
		Where("project_id = ?", projectID).
		Select("MAX(sequence)").
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: failed to get latest sequence for project %d: %w", projectID, err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// CountSince counts persisted events after a sequence, for snapshot
// cadence decisions.
func (r *GormEventRepository) CountSince(ctx context.Context, projectID uint, after uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.CollabEvent{}).
		Where("project_id = ? AND sequence > ?", projectID, after).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: failed to count events for project %d since seq %d: %w", projectID, after, err)
	}
	return count, nil
}
