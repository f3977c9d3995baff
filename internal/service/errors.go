package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service-level errors, one sentinel per branch of the taxonomy:
// authorization, conflict, availability, transport.
var (
	ErrNotMember          = errors.New("user is not a member of this project")
	ErrNotOwnable         = errors.New("node kind is not ownable")
	ErrAlreadyOwned       = errors.New("node is already owned by another user")
	ErrLocked             = errors.New("node is locked by another user")
	ErrProjectUnavailable = errors.New("project cannot be loaded")
	ErrSyncUnavailable    = errors.New("authoritative state cannot be loaded")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidMutation    = errors.New("invalid mutation data")
	ErrInternal           = errors.New("internal server error")
)

// LockConflictError reports who holds the contended lock and for how
// much longer, so the client can render contention feedback. Unwraps to
// ErrLocked.
type LockConflictError struct {
	NodeID    uuid.UUID
	HolderID  uint
	Remaining time.Duration
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("node %s is locked by user %d for another %s", e.NodeID, e.HolderID, e.Remaining.Round(time.Millisecond))
}

func (e *LockConflictError) Unwrap() error { return ErrLocked }

// OwnershipConflictError reports the actual owner when a registration
// loses the creation race. Unwraps to ErrAlreadyOwned.
type OwnershipConflictError struct {
	NodeID  uuid.UUID
	OwnerID uint
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("node %s is already owned by user %d", e.NodeID, e.OwnerID)
}

func (e *OwnershipConflictError) Unwrap() error { return ErrAlreadyOwned }
