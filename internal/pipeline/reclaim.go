package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/service"
)

// batchHoldLimit bounds how long an unprocessed batch keeps its news held.
const batchHoldLimit = 72 * time.Hour

// reclaimJobs is the job that picks up each claimable stage again.
var reclaimJobs = map[models.NewsStage]string{
	models.StageNew:             JobEmbedNews,
	models.StageNoveltyFiltered: JobFetchArticles,
	models.StageArticleFetched:  JobSummarizeArticles,
	models.StageSummaryFetched:  JobGenerateScripts,
}

// ReclaimStale hands rows held longer than ClaimLease back to their stage and
// dispatches the job of every stage that got rows back. News held by a
// provider batch that is still running, or that was processed within the
// lease, stay held.
func (p *Pipeline) ReclaimStale(ctx context.Context, job *models.Job) error {
	now := p.now().UTC()
	cutoff := now.Add(-p.ClaimLease)

	held, err := p.batchHeld(ctx, now, cutoff)
	if err != nil {
		return err
	}

	var processing []models.NewsStage
	for stage := range reclaimJobs {
		processing = append(processing, stage.Processing())
	}
	var rows []models.News
	if err := p.db.WithContext(ctx).
		Where("current_stage IN ? AND (claimed_at IS NULL OR claimed_at < ?)", processing, cutoff).
		Order("id").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to list held news: %w", err)
	}

	reclaimed := map[models.NewsStage]int{}
	for _, n := range rows {
		if held[n.ID] {
			continue
		}
		base := n.CurrentStage.Base()
		err := Advance(ctx, p.db, n.ID, n.CurrentStage, base, map[string]interface{}{"claimed_at": nil})
		if errors.Is(err, ErrStageChanged) {
			continue
		}
		if err != nil {
			p.logger.Warn("Failed to reclaim news", zap.Uint("news_id", n.ID), zap.Error(err))
			continue
		}
		reclaimed[base]++
		p.logger.Warn("Reclaimed stale news", zap.Uint("news_id", n.ID), zap.String("stage", string(base)))
	}

	for stage, count := range reclaimed {
		p.record("WARN", "reclaim", fmt.Sprintf("%d news reclaimed at %s", count, stage),
			"claim lease expired", service.WithContext(map[string]interface{}{"stage": stage, "count": count}))
		if _, err := p.Queue.Dispatch(ctx, reclaimJobs[stage], nil); err != nil {
			return err
		}
	}
	return nil
}

// batchHeld returns the news still held by a provider batch.
func (p *Pipeline) batchHeld(ctx context.Context, now, cutoff time.Time) (map[uint]bool, error) {
	var batches []models.OpenaiBatch
	err := p.db.WithContext(ctx).
		Where("action IN ?", []models.BatchAction{models.ActionEmbedding, models.ActionScriptGenerating}).
		Where("status NOT IN ?", []string{models.BatchFailed, models.BatchCancelled, models.BatchExpired}).
		Where("((processed_at IS NULL AND created_at > ?) OR processed_at > ?)", now.Add(-batchHoldLimit), cutoff).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open batches: %w", err)
	}

	held := map[uint]bool{}
	for i := range batches {
		ids, _ := p.heldNews(ctx, &batches[i])
		for _, id := range ids {
			held[id] = true
		}
	}
	return held, nil
}
