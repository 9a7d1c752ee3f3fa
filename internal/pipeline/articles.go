package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/prompt"
)

// FetchArticles scrapes the article of every novelty_filtered row.
func (p *Pipeline) FetchArticles(ctx context.Context, job *models.Job) error {
	from := models.StageNoveltyFiltered
	held := from.Processing()
	fetched := 0

	_, err := p.pageCursor(ctx, from, func(n *models.News) error {
		ok, err := Claim(ctx, p.db, n.ID, from)
		if err != nil {
			p.logger.Warn("Failed to claim news", zap.Uint("news_id", n.ID), zap.Error(err))
			return nil
		}
		if !ok {
			return nil
		}

		page, err := p.Scraper.Scrape(ctx, n.URL)
		if err != nil {
			p.fail(ctx, n.ID, held, "processing_failed", err)
			return nil
		}

		title := strings.TrimSpace(page.Title)
		if title == "" {
			title = n.Title
		}
		err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var article models.Article
			err := tx.Where("news_id = ?", n.ID).First(&article).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				article = models.Article{NewsID: n.ID, Title: title, Content: page.Text}
				if err := tx.Create(&article).Error; err != nil {
					return fmt.Errorf("failed to store article: %w", err)
				}
			case err != nil:
				return err
			default:
				if err := tx.Model(&article).Updates(map[string]interface{}{"title": title, "content": page.Text}).Error; err != nil {
					return fmt.Errorf("failed to update article: %w", err)
				}
			}
			return Advance(ctx, tx, n.ID, held, models.StageArticleFetched, nil)
		})
		if err != nil {
			p.fail(ctx, n.ID, held, "processing_failed", err)
			return nil
		}
		fetched++
		p.logger.Info("Article fetched", zap.Uint("news_id", n.ID), zap.Int("length", len(page.Text)))
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if fetched == 0 {
		return nil
	}
	return p.publish(ctx, MsgArticlesFetched, nil)
}

// SummarizeArticles stores a summary for every article_fetched row.
func (p *Pipeline) SummarizeArticles(ctx context.Context, job *models.Job) error {
	from := models.StageArticleFetched
	held := from.Processing()
	done := 0

	_, err := p.pageCursor(ctx, from, func(n *models.News) error {
		ok, err := Claim(ctx, p.db, n.ID, from)
		if err != nil {
			p.logger.Warn("Failed to claim news", zap.Uint("news_id", n.ID), zap.Error(err))
			return nil
		}
		if !ok {
			return nil
		}

		var article models.Article
		if err := p.db.WithContext(ctx).Where("news_id = ?", n.ID).First(&article).Error; err != nil {
			p.fail(ctx, n.ID, held, "summary_failed", fmt.Errorf("article missing: %w", err))
			return nil
		}

		summary, err := p.Summarizer.Summarize(ctx, article.Content)
		if err != nil {
			p.fail(ctx, n.ID, held, "summary_failed", err)
			return nil
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			p.fail(ctx, n.ID, held, "summary_failed", errors.New("empty summary"))
			return nil
		}

		err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&article).Update("summary", summary).Error; err != nil {
				return fmt.Errorf("failed to store summary: %w", err)
			}
			return Advance(ctx, tx, n.ID, held, models.StageSummaryFetched, nil)
		})
		if err != nil {
			p.fail(ctx, n.ID, held, "summary_failed", err)
			return nil
		}
		done++
		p.logger.Info("Article summarized", zap.Uint("news_id", n.ID), zap.Int("length", len(summary)))
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if done == 0 {
		return nil
	}
	return p.publish(ctx, MsgSummariesFetched, nil)
}

// GenerateScripts submits a script batch for the summarized articles,
// preferring news created today, at most ScriptsPerRun per run.
func (p *Pipeline) GenerateScripts(ctx context.Context, job *models.Job) error {
	rows, err := p.scriptCandidates(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	var categories, sfx []string
	if err := p.db.WithContext(ctx).Model(&models.MusicCategory{}).Order("name").Pluck("name", &categories).Error; err != nil {
		return fmt.Errorf("failed to list music categories: %w", err)
	}
	if err := p.db.WithContext(ctx).Model(&models.SoundEffect{}).Order("title").Pluck("title", &sfx).Error; err != nil {
		return fmt.Errorf("failed to list sound effects: %w", err)
	}

	from := models.StageSummaryFetched
	var (
		claimed  []uint
		requests []batch.Request
	)
	for _, n := range rows {
		ok, err := Claim(ctx, p.db, n.ID, from)
		if err != nil {
			p.logger.Warn("Failed to claim news", zap.Uint("news_id", n.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if n.Article == nil || n.Article.Summary == nil || *n.Article.Summary == "" {
			p.fail(ctx, n.ID, from.Processing(), "missing_summary", nil)
			continue
		}
		claimed = append(claimed, n.ID)
		requests = append(requests, batch.Request{
			CustomID: strconv.FormatUint(uint64(n.Article.ID), 10),
			Body:     prompt.Script(p.llm.ScriptModel, n.Article.Title, *n.Article.Summary, categories, sfx),
		})
	}
	if len(requests) == 0 {
		return nil
	}

	b, err := p.Batches.Submit(ctx, models.ActionScriptGenerating, prompt.ChatEndpoint, requests)
	if err != nil {
		p.releaseAll(ctx, claimed, from)
		return err
	}
	p.logger.Info("Submitted script batch", zap.String("batch_id", b.ProviderBatchID), zap.Int("articles", len(requests)))
	return nil
}

func (p *Pipeline) scriptCandidates(ctx context.Context) ([]models.News, error) {
	limit := p.cfg.ScriptsPerRun
	if limit <= 0 {
		limit = 2
	}
	today := p.today()

	var fresh []models.News
	if err := p.db.WithContext(ctx).
		Preload("Article").
		Where("current_stage = ? AND created_at >= ?", models.StageSummaryFetched, today).
		Order("id").
		Limit(limit).
		Find(&fresh).Error; err != nil {
		return nil, fmt.Errorf("failed to list summarized news: %w", err)
	}
	if len(fresh) >= limit {
		return fresh, nil
	}

	var older []models.News
	if err := p.db.WithContext(ctx).
		Preload("Article").
		Where("current_stage = ? AND created_at < ?", models.StageSummaryFetched, today).
		Order("id").
		Limit(limit - len(fresh)).
		Find(&older).Error; err != nil {
		return nil, fmt.Errorf("failed to list summarized news: %w", err)
	}
	return append(fresh, older...), nil
}
