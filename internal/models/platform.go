package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Platform struct {
	ID                        uint           `gorm:"primaryKey" json:"id"`
	Name                      string         `gorm:"not null;size:100" json:"name"`
	Slug                      string         `gorm:"uniqueIndex;not null;size:100" json:"slug"`
	Timezone                  string         `gorm:"size:64;default:'UTC'" json:"timezone"`
	RecommendedUploadsPerWeek *int           `json:"recommended_uploads_per_week"`
	BestDays                  StringArray    `gorm:"type:jsonb" json:"best_days"`
	BestTimes                 StringArray    `gorm:"type:jsonb" json:"best_times"`
	AllowSameDayUploads       bool           `gorm:"default:false" json:"allow_same_day_uploads"`
	IsEnabled                 bool           `gorm:"default:false" json:"is_enabled"`
	CreatedAt                 time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt                 gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// Location returns the platform timezone, UTC when unset or unknown.
func (p *Platform) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

type ScheduledUpload struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ScriptID       *uint          `gorm:"index" json:"script_id"`
	Title          string         `gorm:"size:500" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	FilePath       string         `gorm:"size:1024;not null" json:"file_path"`
	ThumbnailURL   *string        `gorm:"size:1024" json:"thumbnail_url"`
	PlatformID     uint           `gorm:"not null;index" json:"platform_id"`
	ScheduledAt    time.Time      `gorm:"not null;index" json:"scheduled_at"`
	Timezone       string         `gorm:"size:64;not null" json:"timezone"`
	Tags           StringArray    `gorm:"type:jsonb" json:"tags"`
	Status         UploadStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
	UploadResponse datatypes.JSON `gorm:"type:jsonb" json:"upload_response"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Platform Platform `gorm:"foreignKey:PlatformID" json:"platform"`
}

// LocalScheduledAt returns the scheduled instant in the row's own timezone.
func (u *ScheduledUpload) LocalScheduledAt() time.Time {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return u.ScheduledAt.In(loc)
}
