package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/service"
)

// ErrStageChanged is returned when a row left the expected stage before the
// update ran, usually because another worker claimed it.
var ErrStageChanged = errors.New("news stage changed concurrently")

// Advance moves one news row from -> to with a conditional update. extra
// columns are written in the same statement. Leaving a processing stage
// drops the claim.
func Advance(ctx context.Context, db *gorm.DB, newsID uint, from, to models.NewsStage, extra map[string]interface{}) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal stage transition %s -> %s for news %d", from, to, newsID)
	}

	updates := map[string]interface{}{"current_stage": to}
	if from.IsProcessing() && !to.IsProcessing() {
		updates["claimed_at"] = nil
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := db.WithContext(ctx).Model(&models.News{}).
		Where("id = ? AND current_stage = ?", newsID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to move news %d to %s: %w", newsID, to, res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrStageChanged
	}
	return nil
}

// Claim marks a row as held by the caller and stamps claimed_at. It reports
// false when another worker got there first.
func Claim(ctx context.Context, db *gorm.DB, newsID uint, stage models.NewsStage) (bool, error) {
	err := Advance(ctx, db, newsID, stage, stage.Processing(), map[string]interface{}{
		"claimed_at": time.Now().UTC(),
	})
	if errors.Is(err, ErrStageChanged) {
		return false, nil
	}
	return err == nil, err
}

// Release hands a claimed row back to its base stage.
func Release(ctx context.Context, db *gorm.DB, newsID uint, stage models.NewsStage) error {
	err := Advance(ctx, db, newsID, stage.Processing(), stage, map[string]interface{}{
		"claimed_at": nil,
	})
	if errors.Is(err, ErrStageChanged) {
		return nil
	}
	return err
}

// reason formats rejection_reason as "<cause>:<message>".
func reason(cause string, err error) string {
	if err == nil {
		return cause
	}
	return cause + ":" + err.Error()
}

func metaJSON(v map[string]interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// fail moves a row to failed and records the cause. Rows that already left
// the stage are left alone. When the job itself was cancelled or timed out
// the row is handed back to its base stage instead, so the retried job
// starts it over.
func (p *Pipeline) fail(ctx context.Context, newsID uint, from models.NewsStage, cause string, err error) {
	if ctx.Err() != nil && from.IsProcessing() {
		p.logger.Warn("Job interrupted, releasing news",
			zap.Uint("news_id", newsID),
			zap.String("stage", string(from.Base())),
			zap.Error(err))
		p.releaseAll(ctx, []uint{newsID}, from.Base())
		return
	}
	ctx = context.WithoutCancel(ctx)
	why := reason(cause, err)
	if aerr := Advance(ctx, p.db, newsID, from, models.StageFailed, map[string]interface{}{
		"rejection_reason": why,
	}); aerr != nil && !errors.Is(aerr, ErrStageChanged) {
		p.logger.Error("Failed to mark news failed", zap.Uint("news_id", newsID), zap.Error(aerr))
	}
	p.logger.Warn("News failed",
		zap.Uint("news_id", newsID),
		zap.String("stage", string(from)),
		zap.String("reason", why))
	p.record("ERROR", cause, fmt.Sprintf("News %d failed at %s", newsID, from.Base()), why, service.WithNews(newsID))
}

// pageCursor walks rows of one stage in id order, one bounded page at a time.
func (p *Pipeline) pageCursor(ctx context.Context, stage models.NewsStage, fn func(news *models.News) error) (int, error) {
	var (
		lastID uint
		seen   int
	)
	for {
		var page []models.News
		err := p.db.WithContext(ctx).
			Where("current_stage = ? AND id > ?", stage, lastID).
			Order("id").
			Limit(p.cfg.PageSize).
			Find(&page).Error
		if err != nil {
			return seen, fmt.Errorf("failed to list %s news: %w", stage, err)
		}
		for i := range page {
			lastID = page[i].ID
			seen++
			if err := fn(&page[i]); err != nil {
				return seen, err
			}
		}
		if len(page) < p.cfg.PageSize {
			return seen, nil
		}
		if ctx.Err() != nil {
			return seen, ctx.Err()
		}
	}
}
