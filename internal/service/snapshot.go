package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// Snapshots persists the in-memory graph projection into the durable
// snapshot blob. Saves happen on a cadence driven by how busy the
// project is, not on every event: the event log carries correctness,
// the snapshot only bounds replay cost.
type Snapshots struct {
	projectRepo repository.ProjectRepository
	stateRepo   repository.StateRepository
	broadcaster *Broadcaster
	cacheTTL    time.Duration
}

// NewSnapshots creates a Snapshots service instance.
func NewSnapshots(projectRepo repository.ProjectRepository, stateRepo repository.StateRepository, broadcaster *Broadcaster, cacheTTL time.Duration) *Snapshots {
	if projectRepo == nil || stateRepo == nil || broadcaster == nil {
		panic("all dependencies must be non-nil for Snapshots")
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Snapshots{
		projectRepo: projectRepo,
		stateRepo:   stateRepo,
		broadcaster: broadcaster,
		cacheTTL:    cacheTTL,
	}
}

// CheckAndSave saves the project snapshot when the cadence warrants it
// and returns the updated last-save time. On failure the original time
// is returned so the next check retries sooner.
func (s *Snapshots) CheckAndSave(ctx context.Context, projectID uint, lastSave time.Time) (time.Time, error) {
	logCtx := logrus.WithField("project_id", projectID)

	opCount, err := s.stateRepo.GetOpCount(ctx, projectID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read op counter for snapshot cadence")
		return lastSave, err
	}
	if opCount == 0 && !lastSave.IsZero() {
		return lastSave, nil
	}
	if !snapshotDue(lastSave, snapshotInterval(opCount)) {
		return lastSave, nil
	}

	if err := s.Save(ctx, projectID); err != nil {
		logCtx.WithError(err).Error("Snapshot save failed")
		return lastSave, err
	}
	return time.Now().UTC(), nil
}

// Save unconditionally writes the current projection to the durable
// store, warms the cache, and resets the op counter.
func (s *Snapshots) Save(ctx context.Context, projectID uint) error {
	logCtx := logrus.WithField("project_id", projectID)

	project, err := s.broadcaster.Projection(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.projectRepo.SaveSnapshot(ctx, projectID, project.Snapshot, project.Sequence); err != nil {
		return err
	}
	s.broadcaster.MarkPersisted(projectID)

	go func(p *domain.Project) {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.stateRepo.SetSnapshotCache(cacheCtx, p.ID, p, s.cacheTTL); err != nil {
			logrus.WithField("project_id", p.ID).
				WithError(err).Warn("Failed to warm snapshot cache after save")
		}
	}(project)

	if err := s.stateRepo.ResetOpCount(ctx, projectID); err != nil {
		logCtx.WithError(err).Warn("Failed to reset op counter after snapshot")
	}
	logCtx.WithField("sequence", project.Sequence).Info("Snapshot saved")
	return nil
}

// snapshotInterval shortens under heavy editing so a crash replays
// less, and stretches out for idle projects.
func snapshotInterval(opCount int64) time.Duration {
	switch {
	case opCount > 100:
		return 30 * time.Second
	case opCount > 20:
		return 2 * time.Minute
	default:
		return 10 * time.Minute
	}
}

func snapshotDue(lastSave time.Time, interval time.Duration) bool {
	return lastSave.IsZero() || time.Since(lastSave) >= interval
}
