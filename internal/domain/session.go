package domain

import "time"

// Session is one live connection between a user and a project. The ID
// is a ULID assigned at registration; LastSeen is refreshed by
// heartbeats and drives liveness eviction.
type Session struct {
	ID        string
	ProjectID uint
	UserID    uint
	StartedAt time.Time
	LastSeen  time.Time
}

// Stale reports whether the session has missed its heartbeat window.
func (s *Session) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastSeen) > timeout
}
