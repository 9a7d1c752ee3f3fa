package models

import "time"

type BatchAction string

const (
	ActionEmbedding        BatchAction = "embedding"
	ActionScriptGenerating BatchAction = "script_generating"
	ActionClassifying      BatchAction = "classifying"
)

// Provider-side batch statuses.
const (
	BatchValidating = "validating"
	BatchInProgress = "in_progress"
	BatchFinalizing = "finalizing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
	BatchCancelled  = "cancelled"
	BatchCancelling = "cancelling"
	BatchExpired    = "expired"
)

// IsTerminalBatchStatus reports whether the provider will not change the
// batch any further.
func IsTerminalBatchStatus(status string) bool {
	switch status {
	case BatchCompleted, BatchFailed, BatchCancelled, BatchExpired:
		return true
	}
	return false
}

type OpenaiBatch struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	ProviderBatchID string      `gorm:"uniqueIndex;not null;size:255" json:"provider_batch_id"`
	Action          BatchAction `gorm:"size:50;not null;index" json:"action"`
	Endpoint        string      `gorm:"size:255;not null" json:"endpoint"`
	InputFileID     string      `gorm:"size:255" json:"input_file_id"`
	OutputFileID    *string     `gorm:"size:255" json:"output_file_id"`
	ErrorFileID     *string     `gorm:"size:255" json:"error_file_id"`
	Status          string      `gorm:"size:50;not null;index" json:"status"`
	CustomIDs       StringArray `gorm:"type:jsonb" json:"custom_ids"`
	TotalItems      int         `gorm:"default:0" json:"total_items"`
	ProcessedItems  int         `gorm:"default:0" json:"processed_items"`
	ErrorItems      int         `gorm:"default:0" json:"error_items"`
	StartedAt       *time.Time  `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at"`
	ProcessedAt     *time.Time  `json:"processed_at"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}
