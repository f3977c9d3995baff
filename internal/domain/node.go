package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind classifies an editable entity in the project graph.
type NodeKind string

const (
	KindTrack     NodeKind = "track"
	KindAudioUnit NodeKind = "audio_unit"
	KindClip      NodeKind = "clip"
	KindParameter NodeKind = "parameter"
	KindOther     NodeKind = "other"
)

// Ownable reports whether nodes of this kind carry an ownership record.
// Only track-like containers do; clips and parameters pass through the
// registry unchecked.
func (k NodeKind) Ownable() bool {
	return k == KindTrack || k == KindAudioUnit
}

// Valid reports whether k is one of the enumerated kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindTrack, KindAudioUnit, KindClip, KindParameter, KindOther:
		return true
	}
	return false
}

// Ownership binds a graph node to the user who created it. The binding
// is permanent: it is never transferred, reclaimed, or reset by a
// delete/recreate of the same UUID.
type Ownership struct {
	ID           uint      `gorm:"primaryKey"`
	ProjectID    uint      `gorm:"uniqueIndex:idx_project_node;not null"`
	NodeID       uuid.UUID `gorm:"uniqueIndex:idx_project_node;type:char(36);not null"`
	Kind         NodeKind  `gorm:"size:32;not null"`
	OwnerID      uint      `gorm:"index;not null"`
	RegisteredAt time.Time `gorm:"autoCreateTime"`
}
