package pipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

func TestClaimStampsClaimedAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := testutil.CreateNews(t, h.db, models.StageNoveltyFiltered)

	ok, err := Claim(ctx, h.db, n.ID, models.StageNoveltyFiltered)
	require.NoError(t, err)
	require.True(t, ok)
	got := h.news(t, n.ID)
	require.NotNil(t, got.ClaimedAt)
	assert.WithinDuration(t, time.Now(), *got.ClaimedAt, time.Minute)

	require.NoError(t, Release(ctx, h.db, n.ID, models.StageNoveltyFiltered))
	got = h.news(t, n.ID)
	assert.Equal(t, models.StageNoveltyFiltered, got.CurrentStage)
	assert.Nil(t, got.ClaimedAt)
}

func TestInterruptedFetchArticlesReleasesNews(t *testing.T) {
	h := newHarness(t)
	h.scraper.block = true
	n := testutil.CreateNews(t, h.db, models.StageNoveltyFiltered)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.pipeline.FetchArticles(ctx, jobWith(t, JobFetchArticles, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := h.news(t, n.ID)
	assert.Equal(t, models.StageNoveltyFiltered, got.CurrentStage)
	assert.Nil(t, got.ClaimedAt)
	assert.Nil(t, got.RejectionReason)

	h.scraper.block = false
	require.NoError(t, h.pipeline.FetchArticles(context.Background(), jobWith(t, JobFetchArticles, nil)))
	assert.Equal(t, models.StageArticleFetched, h.news(t, n.ID).CurrentStage)

	var articles int64
	h.db.Model(&models.Article{}).Where("news_id = ?", n.ID).Count(&articles)
	assert.EqualValues(t, 1, articles)
}

func TestReclaimStaleReleasesExpiredClaims(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.pipeline.now = func() time.Time { return now }

	stale := testutil.CreateNews(t, h.db, models.StageNoveltyFiltered.Processing())
	require.NoError(t, h.db.Model(&models.News{}).Where("id = ?", stale.ID).Update("claimed_at", now.Add(-3*time.Hour)).Error)
	unstamped := testutil.CreateNews(t, h.db, models.StageArticleFetched.Processing())
	recent := testutil.CreateNews(t, h.db, models.StageNoveltyFiltered.Processing())
	require.NoError(t, h.db.Model(&models.News{}).Where("id = ?", recent.ID).Update("claimed_at", now.Add(-time.Minute)).Error)
	done := testutil.CreateNews(t, h.db, models.StageArticleFetched)

	require.NoError(t, h.pipeline.ReclaimStale(context.Background(), jobWith(t, JobReclaimStale, nil)))

	got := h.news(t, stale.ID)
	assert.Equal(t, models.StageNoveltyFiltered, got.CurrentStage)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, models.StageArticleFetched, h.news(t, unstamped.ID).CurrentStage)
	assert.Equal(t, models.StageNoveltyFiltered.Processing(), h.news(t, recent.ID).CurrentStage)
	assert.Equal(t, models.StageArticleFetched, h.news(t, done.ID).CurrentStage)

	assert.Len(t, h.jobs(t, JobFetchArticles, models.JobPending), 1)
	assert.Len(t, h.jobs(t, JobSummarizeArticles, models.JobPending), 1)
	assert.Empty(t, h.jobs(t, JobEmbedNews, models.JobPending))

	var warns int64
	h.db.Model(&models.ErrorLog{}).Where("level = ? AND source = ?", "WARN", "reclaim").Count(&warns)
	assert.EqualValues(t, 2, warns)
}

func TestReclaimStaleKeepsNewsHeldByOpenBatch(t *testing.T) {
	h := newHarness(t)
	n := testutil.CreateNews(t, h.db, models.StageNew)

	h.trigger(t, JobEmbedNews, nil)
	h.drain(t)
	require.Equal(t, models.StageNew.Processing(), h.news(t, n.ID).CurrentStage)

	h.pipeline.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	require.NoError(t, h.pipeline.ReclaimStale(context.Background(), jobWith(t, JobReclaimStale, nil)))
	assert.Equal(t, models.StageNew.Processing(), h.news(t, n.ID).CurrentStage)

	h.pipeline.now = func() time.Time { return time.Now().Add(batchHoldLimit + time.Hour) }
	require.NoError(t, h.pipeline.ReclaimStale(context.Background(), jobWith(t, JobReclaimStale, nil)))
	assert.Equal(t, models.StageNew, h.news(t, n.ID).CurrentStage)
	assert.Len(t, h.jobs(t, JobEmbedNews, models.JobPending), 1)
}

func TestBatchReleasesNewsWithoutResult(t *testing.T) {
	h := newHarness(t)
	answered := testutil.CreateNews(t, h.db, models.StageNew)
	dropped := testutil.CreateNews(t, h.db, models.StageNew)

	h.trigger(t, JobEmbedNews, nil)
	h.drain(t)

	h.provider.finish("batch_1", []batch.Result{embeddingResult(answered.ID, []float32{0, 1})}, nil)
	h.trigger(t, JobPollBatches, nil)
	h.drain(t)

	assert.NotEqual(t, models.StageNew.Processing(), h.news(t, answered.ID).CurrentStage)
	got := h.news(t, dropped.ID)
	assert.Equal(t, models.StageNew, got.CurrentStage)
	assert.Nil(t, got.ClaimedAt)

	var b models.OpenaiBatch
	require.NoError(t, h.db.First(&b).Error)
	assert.Contains(t, []string(b.CustomIDs), strconv.FormatUint(uint64(dropped.ID), 10))
	assert.NotNil(t, b.ProcessedAt)
}
