package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// RedisStateRepository is the Redis implementation of StateRepository.
// Per-project keys: sequence counter, replay window list, snapshot
// cache, op counter; per-session liveness keys with TTL.
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository creates a RedisStateRepository instance.
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "sx:"
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

// --- key helpers ---

func (r *RedisStateRepository) seqKey(projectID uint) string {
	return fmt.Sprintf("%sproject:%d:seq", r.keyPrefix, projectID)
}

func (r *RedisStateRepository) eventsKey(projectID uint) string {
	return fmt.Sprintf("%sproject:%d:events", r.keyPrefix, projectID)
}

func (r *RedisStateRepository) snapshotKey(projectID uint) string {
	return fmt.Sprintf("%sproject:%d:snapshot", r.keyPrefix, projectID)
}

func (r *RedisStateRepository) opCountKey(projectID uint) string {
	return fmt.Sprintf("%sproject:%d:op_count", r.keyPrefix, projectID)
}

func (r *RedisStateRepository) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", r.keyPrefix, sessionID)
}

// --- sequencing ---

// NextSequence atomically assigns the next sequence number.
func (r *RedisStateRepository) NextSequence(ctx context.Context, projectID uint) (uint64, error) {
	n, err := r.client.Incr(ctx, r.seqKey(projectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to increment sequence for project %d: %w", projectID, err)
	}
	return uint64(n), nil
}

// CurrentSequence returns the latest assigned sequence, zero when the
// counter key does not exist.
func (r *RedisStateRepository) CurrentSequence(ctx context.Context, projectID uint) (uint64, error) {
	n, err := r.client.Get(ctx, r.seqKey(projectID)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: failed to get sequence for project %d: %w", projectID, err)
	}
	return n, nil
}

// SyncSequence raises the counter to at least seq. Used after a Redis
// restart to realign with the durable log before admitting writes.
func (r *RedisStateRepository) SyncSequence(ctx context.Context, projectID uint, seq uint64) error {
	key := r.seqKey(projectID)
	cur, err := r.client.Get(ctx, key).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: failed to read sequence for project %d: %w", projectID, err)
	}
	if cur >= seq {
		return nil
	}
	if err := r.client.Set(ctx, key, seq, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to sync sequence for project %d to %d: %w", projectID, seq, err)
	}
	return nil
}

// --- replay window ---

// PushEvent appends the event to the replay window and trims it.
func (r *RedisStateRepository) PushEvent(ctx context.Context, projectID uint, ev *domain.CollabEvent, window int) error {
	if window <= 0 {
		window = 512
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal event seq %d for window: %w", ev.Sequence, err)
	}
	key := r.eventsKey(projectID)
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, string(b))
	pipe.LTrim(ctx, key, int64(-window), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to push event to window for project %d: %w", projectID, err)
	}
	return nil
}

// EventsAfter reads the replay window and filters to sequence > after.
// The boolean is false when the window no longer reaches back to
// `after`, meaning the caller must take the durable-log or snapshot
// path instead.
func (r *RedisStateRepository) EventsAfter(ctx context.Context, projectID uint, after uint64) ([]domain.CollabEvent, bool, error) {
	key := r.eventsKey(projectID)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: failed to read replay window for project %d: %w", projectID, err)
	}
	events := make([]domain.CollabEvent, 0, len(raw))
	for _, s := range raw {
		var ev domain.CollabEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			logrus.WithFields(logrus.Fields{"project_id": projectID}).
				WithError(err).Warn("Dropping undecodable event from replay window")
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		// An empty window only covers the client when nothing has ever
		// been written; otherwise it was trimmed or lost.
		return nil, after == 0, nil
	}
	// The window must reach back to the first event the client is
	// missing, i.e. contain sequence after+1.
	if events[0].Sequence > after+1 {
		return nil, false, nil
	}
	out := make([]domain.CollabEvent, 0, len(events))
	for _, ev := range events {
		if ev.Sequence > after {
			out = append(out, ev)
		}
	}
	return out, true, nil
}

// --- snapshot cache ---

// GetSnapshotCache returns the cached project snapshot or ErrNotFound.
func (r *RedisStateRepository) GetSnapshotCache(ctx context.Context, projectID uint) (*domain.Project, error) {
	s, err := r.client.Get(ctx, r.snapshotKey(projectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis: failed to get snapshot cache for project %d: %w", projectID, err)
	}
	var project domain.Project
	if err := json.Unmarshal([]byte(s), &project); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal snapshot cache for project %d: %w", projectID, err)
	}
	return &project, nil
}

// SetSnapshotCache stores the snapshot with the given TTL (0 = no
// expiry).
func (r *RedisStateRepository) SetSnapshotCache(ctx context.Context, projectID uint, p *domain.Project, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal snapshot for cache (project %d, seq %d): %w", projectID, p.Sequence, err)
	}
	if err := r.client.Set(ctx, r.snapshotKey(projectID), string(b), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set snapshot cache for project %d: %w", projectID, err)
	}
	return nil
}

// --- snapshot cadence counters ---

func (r *RedisStateRepository) IncrementOpCount(ctx context.Context, projectID uint) error {
	key := r.opCountKey(projectID)
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to increment op count for project %d: %w", projectID, err)
	}
	return nil
}

func (r *RedisStateRepository) GetOpCount(ctx context.Context, projectID uint) (int64, error) {
	n, err := r.client.Get(ctx, r.opCountKey(projectID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: failed to get op count for project %d: %w", projectID, err)
	}
	return n, nil
}

func (r *RedisStateRepository) ResetOpCount(ctx context.Context, projectID uint) error {
	if err := r.client.Set(ctx, r.opCountKey(projectID), "0", time.Hour).Err(); err != nil {
		return fmt.Errorf("redis: failed to reset op count for project %d: %w", projectID, err)
	}
	return nil
}

// --- session liveness ---

// TouchSession writes the liveness key with the heartbeat TTL. The key
// body carries the project and user so operators can inspect live
// sessions directly in Redis.
func (r *RedisStateRepository) TouchSession(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	val := fmt.Sprintf(`{"projectId":%d,"userId":%d}`, s.ProjectID, s.UserID)
	if err := r.client.Set(ctx, r.sessionKey(s.ID), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to touch session %s: %w", s.ID, err)
	}
	return nil
}

// RemoveSession deletes the liveness key.
func (r *RedisStateRepository) RemoveSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove session %s: %w", sessionID, err)
	}
	return nil
}

// --- rate limiting ---

// CheckRateLimit increments the counter for key and reports whether the
// limit is exceeded. INCR and EXPIRE run in one pipeline to keep the
// window honest under concurrency.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}
