package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of work on the durable queue.
type Job struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"size:100;not null;index" json:"name"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	UniqueKey      *string        `gorm:"size:255;index" json:"unique_key"`
	Status         JobStatus      `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Attempts       int            `gorm:"default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"default:4" json:"max_attempts"`
	TimeoutSeconds int            `gorm:"default:600" json:"timeout_seconds"`
	AvailableAt    time.Time      `gorm:"not null;index" json:"available_at"`
	ReservedAt     *time.Time     `json:"reserved_at"`
	FinishedAt     *time.Time     `json:"finished_at"`
	LastError      string         `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// ThrottleSlot is one lease of a shared rate limiter.
type ThrottleSlot struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Key        string     `gorm:"column:lock_key;size:100;not null;uniqueIndex:idx_throttle_slot,priority:1" json:"key"`
	Slot       int        `gorm:"not null;uniqueIndex:idx_throttle_slot,priority:2" json:"slot"`
	Holder     string     `gorm:"size:100" json:"holder"`
	AcquiredAt *time.Time `json:"acquired_at"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at"`
}

// VectorPoint is a stored embedding for the local vector index.
type VectorPoint struct {
	ID        string         `gorm:"primaryKey;size:255" json:"id"`
	Namespace string         `gorm:"primaryKey;size:100" json:"namespace"`
	Vector    []byte         `json:"-"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
