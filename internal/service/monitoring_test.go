package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

func newTestMonitoring(t *testing.T) *MonitoringService {
	t.Helper()
	return NewMonitoringService(testutil.NewDB(t), testutil.NewLogger())
}

func TestRecordErrorAppliesOptions(t *testing.T) {
	m := newTestMonitoring(t)

	require.NoError(t, m.RecordError("ERROR", "uploader", "Upload failed", "quota exceeded",
		WithPlatform("youtube"),
		WithNews(3),
		WithScript(7),
		WithJob(11),
		WithStackTrace("trace"),
		WithContext(map[string]interface{}{"attempts": 2}),
	))

	var got models.ErrorLog
	require.NoError(t, m.db.First(&got).Error)
	assert.Equal(t, "ERROR", got.Level)
	assert.Equal(t, "uploader", got.Source)
	assert.Equal(t, "youtube", got.PlatformSlug)
	require.NotNil(t, got.NewsID)
	assert.EqualValues(t, 3, *got.NewsID)
	require.NotNil(t, got.ScriptID)
	assert.EqualValues(t, 7, *got.ScriptID)
	require.NotNil(t, got.JobID)
	assert.EqualValues(t, 11, *got.JobID)
	assert.Equal(t, "trace", got.StackTrace)
	assert.JSONEq(t, `{"attempts":2}`, string(got.Context))
	assert.False(t, got.Resolved)
}

func TestPipelineSummaryCountsStages(t *testing.T) {
	m := newTestMonitoring(t)
	testutil.CreateNews(t, m.db, models.StageNew)
	testutil.CreateNews(t, m.db, models.StageNew)
	testutil.CreateNews(t, m.db, models.StageRejected)
	require.NoError(t, m.db.Create(&models.OpenaiBatch{ProviderBatchID: "b1", Action: models.ActionEmbedding, Status: models.BatchInProgress}).Error)
	require.NoError(t, m.db.Create(&models.OpenaiBatch{ProviderBatchID: "b2", Action: models.ActionEmbedding, Status: models.BatchCompleted}).Error)
	require.NoError(t, m.RecordError("WARN", "batch", "t", "m"))

	summary, err := m.PipelineSummary()
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.TotalNews)
	assert.EqualValues(t, 2, summary.StageCounts[models.StageNew])
	assert.EqualValues(t, 1, summary.StageCounts[models.StageRejected])
	assert.EqualValues(t, 1, summary.ActiveBatches)
	assert.EqualValues(t, 1, summary.UnresolvedErrors)
	assert.Zero(t, summary.PendingUploads)
}

func TestUpdatePipelineStatsUpsertsToday(t *testing.T) {
	m := newTestMonitoring(t)
	testutil.CreateNews(t, m.db, models.StageNew)

	require.NoError(t, m.UpdatePipelineStats())
	testutil.CreateNews(t, m.db, models.StageNew)
	require.NoError(t, m.UpdatePipelineStats())

	var rows []models.PipelineStats
	require.NoError(t, m.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].NewsFetched)

	var counts map[string]int64
	require.NoError(t, json.Unmarshal(rows[0].StageCounts, &counts))
	assert.EqualValues(t, 2, counts["new"])
}

func TestUpdatePlatformStats(t *testing.T) {
	m := newTestMonitoring(t)
	platform := models.Platform{Name: "YouTube", Slug: "youtube", IsEnabled: true}
	require.NoError(t, m.db.Create(&platform).Error)
	for _, status := range []models.UploadStatus{models.UploadPending, models.UploadUploaded, models.UploadUploaded, models.UploadFailed} {
		require.NoError(t, m.db.Create(&models.ScheduledUpload{
			FilePath:    "scripts/1/final.mp4",
			PlatformID:  platform.ID,
			ScheduledAt: time.Now(),
			Timezone:    "UTC",
			Status:      status,
		}).Error)
	}

	require.NoError(t, m.UpdatePlatformStats())
	require.NoError(t, m.UpdatePlatformStats())

	stats, err := m.GetPlatformStats(1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "youtube", stats[0].PlatformSlug)
	assert.Equal(t, 1, stats[0].Pending)
	assert.Equal(t, 2, stats[0].Uploaded)
	assert.Equal(t, 1, stats[0].Failed)
	assert.NotNil(t, stats[0].LastSuccessAt)
	assert.NotNil(t, stats[0].LastFailureAt)
}

func TestGetDashboardSummaryBuildsOnFirstRead(t *testing.T) {
	m := newTestMonitoring(t)
	testutil.CreateNews(t, m.db, models.StageScheduled)

	summary, err := m.GetDashboardSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalNews)
	assert.NotNil(t, summary.LastFetchTime)
	assert.Nil(t, summary.LastUploadTime)
}

func TestCleanupOldData(t *testing.T) {
	m := newTestMonitoring(t)
	old := time.Now().UTC().AddDate(0, 0, -120)

	require.NoError(t, m.db.Create(&models.PipelineStats{Date: old}).Error)
	require.NoError(t, m.db.Create(&models.PipelineStats{Date: time.Now().UTC()}).Error)
	require.NoError(t, m.db.Create(&models.ErrorLog{Level: "ERROR", Source: "x", Title: "old", Message: "m", Resolved: true, CreatedAt: old}).Error)
	require.NoError(t, m.db.Create(&models.ErrorLog{Level: "ERROR", Source: "x", Title: "open", Message: "m", CreatedAt: old}).Error)

	require.NoError(t, m.CleanupOldData(90))

	var stats, logs int64
	m.db.Model(&models.PipelineStats{}).Count(&stats)
	m.db.Model(&models.ErrorLog{}).Count(&logs)
	assert.EqualValues(t, 1, stats)
	assert.EqualValues(t, 1, logs)
}

func TestStatsUpdaterRun(t *testing.T) {
	m := newTestMonitoring(t)
	testutil.CreateNews(t, m.db, models.StageNew)

	require.NoError(t, NewStatsUpdater(m, testutil.NewLogger(), 0).Run(t.Context()))

	var count int64
	m.db.Model(&models.PipelineStats{}).Count(&count)
	assert.EqualValues(t, 1, count)
	summary, err := m.GetDashboardSummary()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalNews)
}
