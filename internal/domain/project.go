package domain

import "time"

// Project is a collaborative workspace. The snapshot column holds the
// serialized project graph as an opaque blob; this subsystem reads and
// writes it but never interprets node payloads.
type Project struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:191"`
	Snapshot  []byte    `gorm:"type:longblob"`
	Sequence  uint64    `gorm:"not null;default:0"` // sequence the snapshot was taken at
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index"`
}
