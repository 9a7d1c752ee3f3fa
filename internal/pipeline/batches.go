package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/service"
)

type batchPayload struct {
	BatchID uint `json:"batch_id"`
}

type scenePayload struct {
	SceneID uint             `json:"scene_id"`
	Type    models.AssetType `json:"type,omitempty"`
}

func (p *Pipeline) registerProcessors() {
	classification := batch.NewClassificationProcessor(p.db, p.logger)
	classification.OnCreated = func(ctx context.Context, newsIDs []uint) error {
		return p.publish(ctx, MsgNewsClassified, newsIDsPayload{NewsIDs: newsIDs})
	}

	embedding := batch.NewEmbeddingProcessor(p.logger)
	embedding.OnEmbedded = func(ctx context.Context, embeddings []batch.Embedding) error {
		items := make([]embeddingItem, 0, len(embeddings))
		for _, e := range embeddings {
			items = append(items, embeddingItem{NewsID: e.NewsID, Vector: e.Vector})
		}
		return p.publish(ctx, MsgNewsEmbedded, embeddingsPayload{Embeddings: items})
	}

	scripts := batch.NewScriptProcessor(p.db, p.logger)
	scripts.OnStored = p.scriptsStored
	scripts.OnInvalid = func(ctx context.Context, articleID uint, err error) {
		newsID, lerr := p.newsForArticle(ctx, articleID)
		if lerr != nil {
			p.logger.Warn("Invalid script for unknown article", zap.Uint("article_id", articleID), zap.Error(lerr))
			return
		}
		p.fail(ctx, newsID, models.StageSummaryFetched.Processing(), "invalid_script", err)
	}

	p.Batches.RegisterProcessor(models.ActionClassifying, classification)
	p.Batches.RegisterProcessor(models.ActionEmbedding, p.releasingUnanswered(embedding))
	p.Batches.RegisterProcessor(models.ActionScriptGenerating, p.releasingUnanswered(scripts))

	p.Batches.OnCompleted(func(ctx context.Context, b *models.OpenaiBatch) {
		err := p.publish(ctx, MsgBatchCompleted, batchPayload{BatchID: b.ID},
			queue.WithUniqueKey(strconv.FormatUint(uint64(b.ID), 10)))
		if err != nil {
			p.logger.Error("Failed to dispatch batch results", zap.String("batch_id", b.ProviderBatchID), zap.Error(err))
		}
	})
	p.Batches.OnAborted(func(ctx context.Context, b *models.OpenaiBatch) {
		p.logger.Warn("Batch aborted, releasing claimed news",
			zap.String("batch_id", b.ProviderBatchID),
			zap.String("status", b.Status))
		p.record("WARN", "batch", "Batch "+b.ProviderBatchID+" "+b.Status, "claimed news handed back to their stage",
			service.WithContext(map[string]interface{}{"action": b.Action, "items": b.TotalItems}))
		p.releaseBatch(ctx, b)
	})
}

// PollBatches refreshes the running provider batches.
func (p *Pipeline) PollBatches(ctx context.Context, job *models.Job) error {
	n, err := p.Batches.Poll(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("Polled batches", zap.Int("batches", n))
	return nil
}

// ProcessBatch routes the results of a completed batch to its processor.
// When the provider reported erroring lines no processor runs and the news
// held by the batch are failed.
func (p *Pipeline) ProcessBatch(ctx context.Context, job *models.Job) error {
	var in batchPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	err := p.Batches.Process(ctx, in.BatchID)
	var failed *batch.BatchFailedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &failed):
		var b models.OpenaiBatch
		if lerr := p.db.WithContext(ctx).First(&b, in.BatchID).Error; lerr == nil {
			p.failBatch(ctx, &b, failed)
		}
		return queue.Permanent(err)
	case errors.Is(err, batch.ErrUnknownAction), errors.Is(err, batch.ErrNotCompleted):
		return queue.Permanent(err)
	}
	return err
}

// heldNews maps the custom ids of a batch to the news rows it holds and the
// stage they were claimed from.
func (p *Pipeline) heldNews(ctx context.Context, b *models.OpenaiBatch) ([]uint, models.NewsStage) {
	return p.newsForCustomIDs(ctx, b, b.CustomIDs)
}

func (p *Pipeline) newsForCustomIDs(ctx context.Context, b *models.OpenaiBatch, customIDs []string) ([]uint, models.NewsStage) {
	var parsed []uint
	for _, cid := range customIDs {
		if id, err := strconv.ParseUint(cid, 10, 64); err == nil {
			parsed = append(parsed, uint(id))
		}
	}

	switch b.Action {
	case models.ActionEmbedding:
		return parsed, models.StageNew
	case models.ActionScriptGenerating:
		var ids []uint
		if len(parsed) > 0 {
			if err := p.db.WithContext(ctx).Model(&models.Article{}).Where("id IN ?", parsed).Pluck("news_id", &ids).Error; err != nil {
				p.logger.Warn("Failed to resolve batch articles", zap.String("batch_id", b.ProviderBatchID), zap.Error(err))
			}
		}
		return ids, models.StageSummaryFetched
	}
	return nil, ""
}

// processorFunc adapts a function to batch.Processor.
type processorFunc func(ctx context.Context, b *models.OpenaiBatch, results []batch.Result) error

func (f processorFunc) Process(ctx context.Context, b *models.OpenaiBatch, results []batch.Result) error {
	return f(ctx, b, results)
}

// releasingUnanswered runs next and then hands back the news of every custom
// id the provider returned no line for.
func (p *Pipeline) releasingUnanswered(next batch.Processor) batch.Processor {
	return processorFunc(func(ctx context.Context, b *models.OpenaiBatch, results []batch.Result) error {
		if err := next.Process(ctx, b, results); err != nil {
			return err
		}

		answered := make(map[string]bool, len(results))
		for _, r := range results {
			answered[r.CustomID] = true
		}
		var missing []string
		for _, cid := range b.CustomIDs {
			if !answered[cid] {
				missing = append(missing, cid)
			}
		}
		if len(missing) == 0 {
			return nil
		}

		ids, stage := p.newsForCustomIDs(ctx, b, missing)
		p.logger.Warn("Batch returned no result for held news",
			zap.String("batch_id", b.ProviderBatchID),
			zap.Strings("custom_ids", missing))
		p.releaseAll(ctx, ids, stage)
		return nil
	})
}

func (p *Pipeline) releaseBatch(ctx context.Context, b *models.OpenaiBatch) {
	ids, stage := p.heldNews(ctx, b)
	if stage == "" {
		return
	}
	p.releaseAll(ctx, ids, stage)
}

func (p *Pipeline) failBatch(ctx context.Context, b *models.OpenaiBatch, cause *batch.BatchFailedError) {
	ids, stage := p.heldNews(ctx, b)
	for _, id := range ids {
		p.fail(ctx, id, stage.Processing(), "batch_failed", cause)
	}
	if stage == "" {
		p.record("ERROR", "batch", "Batch "+b.ProviderBatchID+" failed", cause.Error())
	}
}

// scriptsStored advances the news of freshly stored scripts and starts the
// asset generation of every scene.
func (p *Pipeline) scriptsStored(ctx context.Context, scriptIDs []uint) error {
	var scripts []models.Script
	if err := p.db.WithContext(ctx).
		Preload("Article").
		Preload("Scenes").
		Where("id IN ?", scriptIDs).
		Order("id").
		Find(&scripts).Error; err != nil {
		return fmt.Errorf("failed to load stored scripts: %w", err)
	}

	for _, s := range scripts {
		if s.Article == nil {
			continue
		}
		err := Advance(ctx, p.db, s.Article.NewsID, models.StageSummaryFetched.Processing(), models.StageScriptGenerated, nil)
		if errors.Is(err, ErrStageChanged) {
			p.logger.Info("Script already handled", zap.Uint("script_id", s.ID))
			continue
		}
		if err != nil {
			return err
		}
		for _, scene := range s.Scenes {
			if err := p.publish(ctx, MsgScriptStored, scenePayload{SceneID: scene.ID}); err != nil {
				return err
			}
		}
		p.logger.Info("Script stored", zap.Uint("script_id", s.ID), zap.Int("scenes", len(s.Scenes)))
	}
	return nil
}

func (p *Pipeline) newsForArticle(ctx context.Context, articleID uint) (uint, error) {
	var a models.Article
	if err := p.db.WithContext(ctx).Select("id", "news_id").First(&a, articleID).Error; err != nil {
		return 0, err
	}
	return a.NewsID, nil
}

func (p *Pipeline) newsForScript(ctx context.Context, scriptID uint) (uint, error) {
	var s models.Script
	if err := p.db.WithContext(ctx).Select("id", "article_id").First(&s, scriptID).Error; err != nil {
		return 0, fmt.Errorf("failed to load script %d: %w", scriptID, err)
	}
	return p.newsForArticle(ctx, s.ArticleID)
}
