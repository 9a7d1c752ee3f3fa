package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineStats is the daily snapshot of the pipeline.
type PipelineStats struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Date             time.Time      `gorm:"uniqueIndex;not null" json:"date"`
	NewsFetched      int            `gorm:"default:0" json:"news_fetched"`
	NewsRejected     int            `gorm:"default:0" json:"news_rejected"`
	NewsFailed       int            `gorm:"default:0" json:"news_failed"`
	ScriptsGenerated int            `gorm:"default:0" json:"scripts_generated"`
	VideosAssembled  int            `gorm:"default:0" json:"videos_assembled"`
	UploadsDone      int            `gorm:"default:0" json:"uploads_done"`
	UploadsFailed    int            `gorm:"default:0" json:"uploads_failed"`
	StageCounts      datatypes.JSON `gorm:"type:jsonb" json:"stage_counts"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlatformStats is the daily upload snapshot of one platform.
type PlatformStats struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Date          time.Time  `gorm:"index;not null" json:"date"`
	PlatformID    uint       `gorm:"not null;index" json:"platform_id"`
	PlatformSlug  string     `gorm:"size:100;not null" json:"platform_slug"`
	Pending       int        `gorm:"default:0" json:"pending"`
	Uploaded      int        `gorm:"default:0" json:"uploaded"`
	Failed        int        `gorm:"default:0" json:"failed"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Platform Platform `gorm:"foreignKey:PlatformID" json:"platform"`
}

type ErrorLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Level        string         `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source       string         `gorm:"size:100;not null;index" json:"source"` // batch, scraper, composer, uploader...
	PlatformSlug string         `gorm:"size:100;index" json:"platform_slug"`
	NewsID       *uint          `gorm:"index" json:"news_id"`
	ScriptID     *uint          `gorm:"index" json:"script_id"`
	JobID        *uint          `gorm:"index" json:"job_id"`
	Title        string         `gorm:"size:500;not null" json:"title"`
	Message      string         `gorm:"type:text;not null" json:"message"`
	StackTrace   string         `gorm:"type:text" json:"stack_trace"`
	Context      datatypes.JSON `gorm:"type:jsonb" json:"context"`
	Resolved     bool           `gorm:"default:false;index" json:"resolved"`
	ResolvedAt   *time.Time     `json:"resolved_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DashboardSummary is a single pre-aggregated row for quick reads.
type DashboardSummary struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	TotalNews             int            `gorm:"default:0" json:"total_news"`
	StageCounts           datatypes.JSON `gorm:"type:jsonb" json:"stage_counts"`
	ActiveBatches         int            `gorm:"default:0" json:"active_batches"`
	QueuedAssets          int            `gorm:"default:0" json:"queued_assets"`
	PendingUploads        int            `gorm:"default:0" json:"pending_uploads"`
	PendingJobs           int            `gorm:"default:0" json:"pending_jobs"`
	FailedJobs            int            `gorm:"default:0" json:"failed_jobs"`
	UnresolvedErrorsCount int            `gorm:"default:0" json:"unresolved_errors_count"`
	LastFetchTime         *time.Time     `json:"last_fetch_time"`
	LastUploadTime        *time.Time     `json:"last_upload_time"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// AllModels lists every table the service migrates.
func AllModels() []interface{} {
	return []interface{}{
		&News{},
		&Article{},
		&Script{},
		&Scene{},
		&Asset{},
		&OpenaiBatch{},
		&Platform{},
		&ScheduledUpload{},
		&MusicCategory{},
		&MusicTrack{},
		&SoundEffect{},
		&Job{},
		&ThrottleSlot{},
		&VectorPoint{},
		&PipelineStats{},
		&PlatformStats{},
		&ErrorLog{},
		&DashboardSummary{},
	}
}
