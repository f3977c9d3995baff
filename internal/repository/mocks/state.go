package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
	"github.com/ankit-raj78/synxSphere-sub001/internal/repository"
)

// MemoryState is an in-memory StateRepository. Mocking every pipeline
// call would make ordering tests unreadable, so the hot-state store
// gets a real, if simplified, implementation instead.
type MemoryState struct {
	mu sync.Mutex

	seqs      map[uint]uint64
	windows   map[uint][]domain.CollabEvent
	snapshots map[uint]*domain.Project
	opCounts  map[uint]int64
	sessions  map[string]*domain.Session
	rates     map[string]int

	// FailNextSequence makes sequence reads and assignments fail, to
	// simulate a Redis outage.
	FailNextSequence bool
}

// NewMemoryState creates an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		seqs:      make(map[uint]uint64),
		windows:   make(map[uint][]domain.CollabEvent),
		snapshots: make(map[uint]*domain.Project),
		opCounts:  make(map[uint]int64),
		sessions:  make(map[string]*domain.Session),
		rates:     make(map[string]int),
	}
}

func (s *MemoryState) NextSequence(ctx context.Context, projectID uint) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextSequence {
		return 0, context.DeadlineExceeded
	}
	s.seqs[projectID]++
	return s.seqs[projectID], nil
}

func (s *MemoryState) CurrentSequence(ctx context.Context, projectID uint) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextSequence {
		return 0, context.DeadlineExceeded
	}
	return s.seqs[projectID], nil
}

func (s *MemoryState) SyncSequence(ctx context.Context, projectID uint, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqs[projectID] < seq {
		s.seqs[projectID] = seq
	}
	return nil
}

func (s *MemoryState) PushEvent(ctx context.Context, projectID uint, ev *domain.CollabEvent, window int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := append(s.windows[projectID], *ev)
	if window > 0 && len(w) > window {
		w = w[len(w)-window:]
	}
	s.windows[projectID] = w
	return nil
}

func (s *MemoryState) EventsAfter(ctx context.Context, projectID uint, after uint64) ([]domain.CollabEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[projectID]
	if len(w) == 0 {
		return nil, after == 0, nil
	}
	if w[0].Sequence > after+1 {
		return nil, false, nil
	}
	var out []domain.CollabEvent
	for _, ev := range w {
		if ev.Sequence > after {
			out = append(out, ev)
		}
	}
	return out, true, nil
}

// FlushProject wipes all hot state for a project, the way a Redis flush
// or failover would.
func (s *MemoryState) FlushProject(projectID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seqs, projectID)
	delete(s.windows, projectID)
	delete(s.snapshots, projectID)
	delete(s.opCounts, projectID)
}

// TrimWindowTo drops every windowed event with sequence <= seq, used by
// tests to force the snapshot fallback path.
func (s *MemoryState) TrimWindowTo(projectID uint, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.CollabEvent
	for _, ev := range s.windows[projectID] {
		if ev.Sequence > seq {
			kept = append(kept, ev)
		}
	}
	s.windows[projectID] = kept
}

func (s *MemoryState) GetSnapshotCache(ctx context.Context, projectID uint) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.snapshots[projectID]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryState) SetSnapshotCache(ctx context.Context, projectID uint, p *domain.Project, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.snapshots[projectID] = &cp
	return nil
}

func (s *MemoryState) IncrementOpCount(ctx context.Context, projectID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts[projectID]++
	return nil
}

func (s *MemoryState) GetOpCount(ctx context.Context, projectID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opCounts[projectID], nil
}

func (s *MemoryState) ResetOpCount(ctx context.Context, projectID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts[projectID] = 0
	return nil
}

func (s *MemoryState) TouchSession(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryState) RemoveSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryState) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[key]++
	return s.rates[key] > limit, nil
}
