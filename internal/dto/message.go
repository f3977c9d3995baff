package dto

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ankit-raj78/synxSphere-sub001/internal/domain"
)

// Inbound message types accepted over an established connection.
const (
	MsgMutation    = "mutation"
	MsgLockRequest = "lock"
	MsgLockRelease = "unlock"
	MsgHeartbeat   = "heartbeat"
)

// Outbound message types.
const (
	MsgSync     = "sync"
	MsgEvent    = "event"
	MsgPresence = "presence"
	MsgConflict = "conflict"
	MsgError    = "error"
)

// ClientMessage is the envelope for every inbound WebSocket frame.
type ClientMessage struct {
	Type       string          `json:"type" binding:"required"`
	NodeUUID   string          `json:"nodeUuid,omitempty"`
	Kind       domain.NodeKind `json:"kind,omitempty"`
	Op         string          `json:"op,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TTLSeconds int             `json:"ttlSeconds,omitempty"`
}

// Mutation ops after classification.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpOther  = "other"
)

// Mutation is a parsed, validated graph change submitted by a client.
type Mutation struct {
	NodeID  uuid.UUID
	Kind    domain.NodeKind
	Op      string
	Payload json.RawMessage
}

// EventDTO is one collaboration event as delivered to clients, both in
// broadcast frames and in catch-up sync payloads.
type EventDTO struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	UserID   uint            `json:"userId"`
	Event    string          `json:"eventType"`
	NodeUUID string          `json:"nodeUuid,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewEventDTO converts a domain event into its wire form.
func NewEventDTO(ev *domain.CollabEvent) EventDTO {
	return EventDTO{
		Type:     MsgEvent,
		Sequence: ev.Sequence,
		UserID:   ev.UserID,
		Event:    string(ev.Type),
		NodeUUID: ev.NodeID,
		Payload:  ev.RawPayload(),
	}
}

// SyncPayload is pushed once after a session joins. Either Events holds
// the ordered catch-up slice, or Full is set and Snapshot carries the
// complete serialized graph.
type SyncPayload struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	Full     bool            `json:"full"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Events   []EventDTO      `json:"events,omitempty"`
}

// PresenceDTO announces the current set of connected users.
type PresenceDTO struct {
	Type      string `json:"type"`
	ProjectID uint   `json:"projectId"`
	Users     []uint `json:"users"`
}

// ConflictDTO tells the submitting client why an operation was refused,
// with enough state to re-render (current lock holder, actual owner).
type ConflictDTO struct {
	Type        string `json:"type"`
	NodeUUID    string `json:"nodeUuid"`
	Reason      string `json:"reason"`
	HolderID    uint   `json:"currentHolder,omitempty"`
	OwnerID     uint   `json:"currentOwner,omitempty"`
	RetryableMs int64  `json:"retryableInMs,omitempty"`
}

// ErrorDTO reports a transport-level or internal failure to the client.
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
