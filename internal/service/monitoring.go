package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordError stores an error log row.
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(slug string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PlatformSlug = slug
	}
}

func WithNews(newsID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.NewsID = &newsID
	}
}

func WithScript(scriptID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ScriptID = &scriptID
	}
}

func WithJob(jobID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.JobID = &jobID
	}
}

func WithStackTrace(stackTrace string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.StackTrace = stackTrace
	}
}

func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = datatypes.JSON(contextBytes)
		}
	}
}

// PipelineSummary is the live view of the pipeline served by the API.
type PipelineSummary struct {
	TotalNews        int64                      `json:"total_news"`
	StageCounts      map[models.NewsStage]int64 `json:"stage_counts"`
	JobCounts        map[models.JobStatus]int64 `json:"job_counts"`
	ActiveBatches    int64                      `json:"active_batches"`
	QueuedAssets     int64                      `json:"queued_assets"`
	PendingUploads   int64                      `json:"pending_uploads"`
	UnresolvedErrors int64                      `json:"unresolved_errors"`
}

// PipelineSummary counts news per stage along with the work in flight.
func (m *MonitoringService) PipelineSummary() (*PipelineSummary, error) {
	summary := &PipelineSummary{
		StageCounts: map[models.NewsStage]int64{},
		JobCounts:   map[models.JobStatus]int64{},
	}

	var stages []struct {
		Stage models.NewsStage
		Count int64
	}
	if err := m.db.Model(&models.News{}).
		Select("current_stage AS stage, COUNT(*) AS count").
		Group("current_stage").
		Scan(&stages).Error; err != nil {
		return nil, fmt.Errorf("failed to count news stages: %w", err)
	}
	for _, s := range stages {
		summary.StageCounts[s.Stage] = s.Count
		summary.TotalNews += s.Count
	}

	var jobs []struct {
		Status models.JobStatus
		Count  int64
	}
	if err := m.db.Model(&models.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for _, j := range jobs {
		summary.JobCounts[j.Status] = j.Count
	}

	counts := []struct {
		dst   *int64
		model interface{}
		query string
		args  []interface{}
	}{
		{&summary.ActiveBatches, &models.OpenaiBatch{}, "status IN ?", []interface{}{[]string{models.BatchValidating, models.BatchInProgress, models.BatchFinalizing}}},
		{&summary.QueuedAssets, &models.Asset{}, "status = ?", []interface{}{models.AssetQueued}},
		{&summary.PendingUploads, &models.ScheduledUpload{}, "status = ?", []interface{}{models.UploadPending}},
		{&summary.UnresolvedErrors, &models.ErrorLog{}, "resolved = ?", []interface{}{false}},
	}
	for _, c := range counts {
		if err := m.db.Model(c.model).Where(c.query, c.args...).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to build pipeline summary: %w", err)
		}
	}
	return summary, nil
}

// UpdatePipelineStats writes today's snapshot row.
func (m *MonitoringService) UpdatePipelineStats() error {
	today := m.now().Truncate(24 * time.Hour)

	summary, err := m.PipelineSummary()
	if err != nil {
		return err
	}
	stageCounts, err := json.Marshal(summary.StageCounts)
	if err != nil {
		return err
	}

	var fetched, rejected, failed, scripts, videos, uploaded, uploadFailed int64
	m.db.Model(&models.News{}).Where("created_at >= ?", today).Count(&fetched)
	m.db.Model(&models.News{}).Where("current_stage = ? AND updated_at >= ?", models.StageRejected, today).Count(&rejected)
	m.db.Model(&models.News{}).Where("current_stage = ? AND updated_at >= ?", models.StageFailed, today).Count(&failed)
	m.db.Model(&models.Script{}).Where("created_at >= ?", today).Count(&scripts)
	m.db.Model(&models.Script{}).Where("video_path IS NOT NULL AND updated_at >= ?", today).Count(&videos)
	m.db.Model(&models.ScheduledUpload{}).Where("status = ? AND updated_at >= ?", models.UploadUploaded, today).Count(&uploaded)
	m.db.Model(&models.ScheduledUpload{}).Where("status = ? AND updated_at >= ?", models.UploadFailed, today).Count(&uploadFailed)

	snapshot := models.PipelineStats{
		Date:             today,
		NewsFetched:      int(fetched),
		NewsRejected:     int(rejected),
		NewsFailed:       int(failed),
		ScriptsGenerated: int(scripts),
		VideosAssembled:  int(videos),
		UploadsDone:      int(uploaded),
		UploadsFailed:    int(uploadFailed),
		StageCounts:      datatypes.JSON(stageCounts),
	}

	var stats models.PipelineStats
	result := m.db.Where("date = ?", today).First(&stats)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return m.db.Create(&snapshot).Error
	}
	if result.Error != nil {
		return result.Error
	}
	return m.db.Model(&stats).Updates(map[string]interface{}{
		"news_fetched":      snapshot.NewsFetched,
		"news_rejected":     snapshot.NewsRejected,
		"news_failed":       snapshot.NewsFailed,
		"scripts_generated": snapshot.ScriptsGenerated,
		"videos_assembled":  snapshot.VideosAssembled,
		"uploads_done":      snapshot.UploadsDone,
		"uploads_failed":    snapshot.UploadsFailed,
		"stage_counts":      snapshot.StageCounts,
	}).Error
}

// UpdatePlatformStats writes today's upload counters of every platform.
func (m *MonitoringService) UpdatePlatformStats() error {
	today := m.now().Truncate(24 * time.Hour)

	var platforms []models.Platform
	if err := m.db.Find(&platforms).Error; err != nil {
		return err
	}

	for _, platform := range platforms {
		var pending, uploaded, failed int64
		m.db.Model(&models.ScheduledUpload{}).Where("platform_id = ? AND status = ?", platform.ID, models.UploadPending).Count(&pending)
		m.db.Model(&models.ScheduledUpload{}).Where("platform_id = ? AND status = ?", platform.ID, models.UploadUploaded).Count(&uploaded)
		m.db.Model(&models.ScheduledUpload{}).Where("platform_id = ? AND status = ?", platform.ID, models.UploadFailed).Count(&failed)

		var lastSuccess, lastFailure models.ScheduledUpload
		m.db.Where("platform_id = ? AND status = ?", platform.ID, models.UploadUploaded).Order("updated_at desc").Limit(1).Find(&lastSuccess)
		m.db.Where("platform_id = ? AND status = ?", platform.ID, models.UploadFailed).Order("updated_at desc").Limit(1).Find(&lastFailure)

		updates := map[string]interface{}{
			"pending":  pending,
			"uploaded": uploaded,
			"failed":   failed,
		}
		if lastSuccess.ID != 0 {
			updates["last_success_at"] = lastSuccess.UpdatedAt
		}
		if lastFailure.ID != 0 {
			updates["last_failure_at"] = lastFailure.UpdatedAt
		}

		var stats models.PlatformStats
		result := m.db.Where("date = ? AND platform_id = ?", today, platform.ID).First(&stats)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			stats = models.PlatformStats{
				Date:         today,
				PlatformID:   platform.ID,
				PlatformSlug: platform.Slug,
				Pending:      int(pending),
				Uploaded:     int(uploaded),
				Failed:       int(failed),
			}
			if lastSuccess.ID != 0 {
				stats.LastSuccessAt = &lastSuccess.UpdatedAt
			}
			if lastFailure.ID != 0 {
				stats.LastFailureAt = &lastFailure.UpdatedAt
			}
			if err := m.db.Create(&stats).Error; err != nil {
				return err
			}
			continue
		}
		if result.Error != nil {
			return result.Error
		}
		if err := m.db.Model(&stats).Updates(updates).Error; err != nil {
			return err
		}
	}

	return nil
}

// UpdateDashboardSummary refreshes the single summary row.
func (m *MonitoringService) UpdateDashboardSummary() error {
	summary, err := m.PipelineSummary()
	if err != nil {
		return err
	}
	stageCounts, err := json.Marshal(summary.StageCounts)
	if err != nil {
		return err
	}

	data := models.DashboardSummary{
		ID:                    1,
		TotalNews:             int(summary.TotalNews),
		StageCounts:           datatypes.JSON(stageCounts),
		ActiveBatches:         int(summary.ActiveBatches),
		QueuedAssets:          int(summary.QueuedAssets),
		PendingUploads:        int(summary.PendingUploads),
		PendingJobs:           int(summary.JobCounts[models.JobPending]),
		FailedJobs:            int(summary.JobCounts[models.JobFailed]),
		UnresolvedErrorsCount: int(summary.UnresolvedErrors),
	}

	var lastNews models.News
	m.db.Order("created_at desc").Limit(1).Find(&lastNews)
	if lastNews.ID != 0 {
		data.LastFetchTime = &lastNews.CreatedAt
	}
	var lastUpload models.ScheduledUpload
	m.db.Where("status = ?", models.UploadUploaded).Order("updated_at desc").Limit(1).Find(&lastUpload)
	if lastUpload.ID != 0 {
		data.LastUploadTime = &lastUpload.UpdatedAt
	}

	return m.db.Save(&data).Error
}

// GetDashboardSummary returns the summary row, building it on first use.
func (m *MonitoringService) GetDashboardSummary() (*models.DashboardSummary, error) {
	var summary models.DashboardSummary
	err := m.db.First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := m.UpdateDashboardSummary(); err != nil {
			return nil, err
		}
		err = m.db.First(&summary).Error
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (m *MonitoringService) GetRecentErrors(limit int) ([]models.ErrorLog, error) {
	var logs []models.ErrorLog
	err := m.db.Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (m *MonitoringService) GetPlatformStats(days int) ([]models.PlatformStats, error) {
	var stats []models.PlatformStats
	startDate := m.now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	err := m.db.Preload("Platform").
		Where("date >= ?", startDate).
		Order("date desc, platform_slug").
		Find(&stats).Error
	return stats, err
}

// CleanupOldData drops snapshots and resolved errors older than daysToKeep,
// and finished jobs of the same age.
func (m *MonitoringService) CleanupOldData(daysToKeep int) error {
	cutoffDate := m.now().AddDate(0, 0, -daysToKeep)

	if err := m.db.Where("date < ?", cutoffDate).Delete(&models.PipelineStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup pipeline stats: %w", err)
	}

	if err := m.db.Where("date < ?", cutoffDate).Delete(&models.PlatformStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup platform stats: %w", err)
	}

	if err := m.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	if err := m.db.Where("finished_at < ? AND status = ?", cutoffDate, models.JobCompleted).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup finished jobs: %w", err)
	}

	return nil
}
