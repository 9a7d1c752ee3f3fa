package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/news"
	"github.com/ifuryst/quickbyte/internal/prompt"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/vectorindex"
)

type itemsPayload struct {
	Items []news.Item `json:"items"`
}

type newsIDsPayload struct {
	NewsIDs []uint `json:"news_ids,omitempty"`
}

type embeddingItem struct {
	NewsID uint      `json:"news_id"`
	Vector []float32 `json:"vector"`
}

type embeddingsPayload struct {
	Embeddings []embeddingItem `json:"embeddings"`
}

// FetchNews collects headlines and hands them to the classifier.
func (p *Pipeline) FetchNews(ctx context.Context, job *models.Job) error {
	items, err := p.Fetcher.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch news: %w", err)
	}
	p.logger.Info("Fetched headlines", zap.Int("count", len(items)))
	if len(items) == 0 {
		return nil
	}
	return p.publish(ctx, MsgNewsFetched, itemsPayload{Items: items})
}

// ClassifyNews submits the fetched items in chunks to a classification
// batch. Items whose URL is already stored are dropped first.
func (p *Pipeline) ClassifyNews(ctx context.Context, job *models.Job) error {
	var in itemsPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	urls := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		urls = append(urls, it.URL)
	}
	var known []string
	if len(urls) > 0 {
		if err := p.db.WithContext(ctx).Model(&models.News{}).Where("url IN ?", urls).Pluck("url", &known).Error; err != nil {
			return fmt.Errorf("failed to check known urls: %w", err)
		}
	}
	skip := make(map[string]bool, len(known))
	for _, u := range known {
		skip[u] = true
	}

	var candidates []prompt.Candidate
	for _, it := range in.Items {
		if skip[it.URL] {
			continue
		}
		skip[it.URL] = true
		candidates = append(candidates, prompt.Candidate{
			Source:      it.Source,
			Title:       it.Title,
			Description: it.Description,
			URL:         it.URL,
			Category:    it.Category,
		})
	}
	if len(candidates) == 0 {
		p.logger.Info("No new headlines to classify")
		return nil
	}

	requests := ClassificationRequests(p.llm.ClassifyModel, candidates, p.cfg.ClassifyChunkSize, p.cfg.ClassifySelect, job.ID)
	b, err := p.Batches.Submit(ctx, models.ActionClassifying, prompt.ChatEndpoint, requests)
	if err != nil {
		return err
	}
	p.logger.Info("Submitted classification batch",
		zap.String("batch_id", b.ProviderBatchID),
		zap.Int("candidates", len(candidates)),
		zap.Int("chunks", len(requests)))
	return nil
}

// ClassificationRequests splits candidates into chunks of chunkSize, one
// batch line each.
func ClassificationRequests(model string, candidates []prompt.Candidate, chunkSize, selectCount int, jobID uint) []batch.Request {
	if chunkSize <= 0 {
		chunkSize = len(candidates)
	}
	var requests []batch.Request
	for start, n := 0, 0; start < len(candidates); start, n = start+chunkSize, n+1 {
		end := start + chunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		requests = append(requests, batch.Request{
			CustomID: fmt.Sprintf("classify-%d-%d", jobID, n),
			Body:     prompt.Classification(model, candidates[start:end], selectCount),
		})
	}
	return requests
}

// EmbedNews claims new rows and submits their embeddings batch. With no ids
// in the payload a page of new rows is taken.
func (p *Pipeline) EmbedNews(ctx context.Context, job *models.Job) error {
	var in newsIDsPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var rows []models.News
	q := p.db.WithContext(ctx).Where("current_stage = ?", models.StageNew).Order("id")
	if len(in.NewsIDs) > 0 {
		q = q.Where("id IN ?", in.NewsIDs)
	} else {
		q = q.Limit(p.cfg.PageSize)
	}
	if err := q.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to list new news: %w", err)
	}

	var (
		claimed  []uint
		requests []batch.Request
	)
	for _, n := range rows {
		ok, err := Claim(ctx, p.db, n.ID, models.StageNew)
		if err != nil {
			p.logger.Warn("Failed to claim news", zap.Uint("news_id", n.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		claimed = append(claimed, n.ID)
		requests = append(requests, batch.Request{
			CustomID: strconv.FormatUint(uint64(n.ID), 10),
			Body:     prompt.Embedding(p.llm.EmbeddingModel, n.Title, n.Description),
		})
	}
	if len(requests) == 0 {
		return nil
	}

	b, err := p.Batches.Submit(ctx, models.ActionEmbedding, prompt.EmbeddingEndpoint, requests)
	if err != nil {
		p.releaseAll(ctx, claimed, models.StageNew)
		return err
	}
	p.logger.Info("Submitted embeddings batch", zap.String("batch_id", b.ProviderBatchID), zap.Int("news", len(claimed)))
	return nil
}

// NoveltyDecision is the verdict of the novelty filter for one item.
type NoveltyDecision struct {
	Novel     bool
	BestScore float64
	BestMatch string
}

// DecideNovelty compares the closest neighbour against threshold. Matches
// on selfID are ignored so a re-run does not reject an item against itself.
func DecideNovelty(matches []vectorindex.Match, selfID string, threshold float64) NoveltyDecision {
	d := NoveltyDecision{Novel: true}
	for _, m := range matches {
		if m.ID == selfID {
			continue
		}
		if d.BestMatch == "" || m.Score > d.BestScore {
			d.BestScore = m.Score
			d.BestMatch = m.ID
		}
	}
	if d.BestMatch != "" && d.BestScore >= threshold {
		d.Novel = false
	}
	return d
}

// FilterNovelty rejects items too close to something already indexed and
// upserts the survivors in one call. Items of the same run are not compared
// with each other.
func (p *Pipeline) FilterNovelty(ctx context.Context, job *models.Job) error {
	var in embeddingsPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var (
		pending         []vectorindex.Vector
		passed, rejects int
	)
	held := models.StageNew.Processing()

	for _, e := range in.Embeddings {
		var n models.News
		if err := p.db.WithContext(ctx).First(&n, e.NewsID).Error; err != nil {
			p.logger.Warn("Skipping embedding of unknown news", zap.Uint("news_id", e.NewsID), zap.Error(err))
			continue
		}
		if n.CurrentStage != held {
			continue
		}

		if len(e.Vector) == 0 {
			p.fail(ctx, n.ID, held, "embedding_missing", nil)
			continue
		}

		id := strconv.FormatUint(uint64(n.ID), 10)
		matches, err := p.Index.Query(ctx, e.Vector, vectorindex.QueryOptions{
			TopK:      p.cfg.NoveltyTopK,
			Namespace: p.cfg.VectorNamespace,
		})
		if err != nil {
			p.fail(ctx, n.ID, held, "novelty_check_failed", err)
			continue
		}

		d := DecideNovelty(matches, id, p.cfg.NoveltyThreshold)
		meta := map[string]interface{}{"similarity_score": d.BestScore}
		if d.BestMatch != "" {
			meta["similar_to"] = d.BestMatch
		}

		if !d.Novel {
			err = Advance(ctx, p.db, n.ID, held, models.StageRejected, map[string]interface{}{
				"novelty_passed":   false,
				"rejection_reason": "duplicate",
				"meta":             metaJSON(meta),
			})
			if err != nil && !errors.Is(err, ErrStageChanged) {
				return err
			}
			rejects++
			continue
		}

		err = Advance(ctx, p.db, n.ID, held, models.StageNoveltyFiltered, map[string]interface{}{
			"novelty_passed": true,
			"meta":           metaJSON(meta),
		})
		if errors.Is(err, ErrStageChanged) {
			continue
		}
		if err != nil {
			return err
		}
		passed++
		pending = append(pending, vectorindex.Vector{
			ID:        id,
			Values:    e.Vector,
			Namespace: p.cfg.VectorNamespace,
			Metadata:  map[string]interface{}{"title": n.Title, "url": n.URL},
		})
	}

	if len(pending) > 0 {
		if err := p.Index.Upsert(ctx, pending); err != nil {
			p.logger.Error("Failed to upsert news vectors", zap.Int("count", len(pending)), zap.Error(err))
			p.record("ERROR", "vector_index", "Vector upsert failed", err.Error())
		}
	}

	p.logger.Info("Novelty filter finished", zap.Int("passed", passed), zap.Int("rejected", rejects))
	if passed == 0 {
		return nil
	}
	return p.publish(ctx, MsgNoveltyFiltered, nil)
}

func (p *Pipeline) releaseAll(ctx context.Context, ids []uint, stage models.NewsStage) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := Release(ctx, p.db, id, stage); err != nil {
			p.logger.Warn("Failed to release news", zap.Uint("news_id", id), zap.Error(err))
		}
	}
}
