package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates the kinds of records appended to a project's
// collaboration log.
type EventType string

const (
	EventNodeCreated  EventType = "node-created"
	EventNodeMutated  EventType = "node-mutated"
	EventNodeDeleted  EventType = "node-deleted"
	EventLockAcquired EventType = "lock-acquired"
	EventLockReleased EventType = "lock-released"
	EventOther        EventType = "other"
)

// CollabEvent is an immutable record of an accepted mutation. Events
// for a project are totally ordered by Sequence and never rewritten;
// together they form the replay log for reconciliation.
type CollabEvent struct {
	ID        uint      `gorm:"primaryKey"`
	ProjectID uint      `gorm:"uniqueIndex:idx_project_seq;not null"`
	Sequence  uint64    `gorm:"uniqueIndex:idx_project_seq;not null"`
	UserID    uint      `gorm:"index;not null"`
	Type      EventType `gorm:"size:32;not null"`
	NodeID    string    `gorm:"size:36;index"`
	Payload   string    `gorm:"type:text"` // opaque structured data, JSON
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// SetPayload serializes v into the Payload column.
func (e *CollabEvent) SetPayload(v any) error {
	if v == nil {
		e.Payload = ""
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	e.Payload = string(b)
	return nil
}

// RawPayload returns the payload as raw JSON, or null when empty.
func (e *CollabEvent) RawPayload() json.RawMessage {
	if e.Payload == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(e.Payload)
}
