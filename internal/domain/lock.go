package domain

import (
	"time"

	"github.com/google/uuid"
)

// EditLock is a short-lived exclusive claim on a node, distinct from
// ownership. Locks are advisory for editing only and expire by TTL;
// there is no background sweep, expiry is checked on every read.
type EditLock struct {
	ProjectID  uint
	NodeID     uuid.UUID
	HolderID   uint
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock is past its TTL at the given time.
func (l *EditLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero if expired.
func (l *EditLock) Remaining(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
