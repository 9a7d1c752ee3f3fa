package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/service"
)

// slotLayout is the minute granularity uploads are matched at.
const slotLayout = "2006-01-02 15:04"

type uploadsDuePayload struct {
	Force bool `json:"force,omitempty"`
}

type uploadPayload struct {
	UploadID uint `json:"upload_id"`
}

// ScheduleUploads books a slot on every platform for an assembled video.
func (p *Pipeline) ScheduleUploads(ctx context.Context, job *models.Job) error {
	var in scriptPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var script models.Script
	if err := p.db.WithContext(ctx).Preload("Article").First(&script, in.ScriptID).Error; err != nil {
		return queue.Permanent(fmt.Errorf("failed to load script %d: %w", in.ScriptID, err))
	}
	if script.Article == nil {
		return queue.Permanent(fmt.Errorf("script %d has no article", script.ID))
	}
	newsID := script.Article.NewsID

	var existing int64
	if err := p.db.WithContext(ctx).Model(&models.ScheduledUpload{}).Where("script_id = ?", script.ID).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to count uploads: %w", err)
	}
	if existing == 0 {
		uploads, err := p.Scheduler.ScheduleScript(ctx, &script)
		if err != nil {
			return err
		}
		for _, u := range uploads {
			p.logger.Info("Upload scheduled",
				zap.Uint("script_id", script.ID),
				zap.Uint("platform_id", u.PlatformID),
				zap.Time("at", u.LocalScheduledAt()))
		}
	}

	err := Advance(ctx, p.db, newsID, models.StageVideoAssembled, models.StageScheduled, nil)
	if errors.Is(err, ErrStageChanged) {
		return nil
	}
	return err
}

// ProcessScheduledUploads dispatches the pending uploads whose slot, in the
// platform's timezone, is the current minute. force takes every pending
// upload regardless of its slot.
func (p *Pipeline) ProcessScheduledUploads(ctx context.Context, job *models.Job) error {
	var in uploadsDuePayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var pending []models.ScheduledUpload
	if err := p.db.WithContext(ctx).Where("status = ?", models.UploadPending).Order("id").Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to list pending uploads: %w", err)
	}

	now := p.now()
	due := 0
	for _, u := range pending {
		if !in.Force && !SlotIsNow(&u, now) {
			continue
		}
		if err := p.publish(ctx, MsgUploadDue, uploadPayload{UploadID: u.ID},
			queue.WithUniqueKey(strconv.FormatUint(uint64(u.ID), 10))); err != nil {
			return err
		}
		due++
	}
	if due > 0 {
		p.logger.Info("Uploads due", zap.Int("count", due), zap.Bool("force", in.Force))
	}
	return nil
}

// SlotIsNow compares the upload slot and now at minute granularity in the
// upload's timezone.
func SlotIsNow(u *models.ScheduledUpload, now time.Time) bool {
	local := u.LocalScheduledAt()
	return local.Format(slotLayout) == now.In(local.Location()).Format(slotLayout)
}

// UploadVideo publishes one scheduled upload. Disabled platforms and
// platforms without an uploader are skipped and the row stays pending.
func (p *Pipeline) UploadVideo(ctx context.Context, job *models.Job) error {
	var in uploadPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var u models.ScheduledUpload
	if err := p.db.WithContext(ctx).Preload("Platform").First(&u, in.UploadID).Error; err != nil {
		return queue.Permanent(fmt.Errorf("failed to load upload %d: %w", in.UploadID, err))
	}
	if u.Status != models.UploadPending {
		return nil
	}
	if !u.Platform.IsEnabled {
		p.logger.Info("Platform disabled, skipping upload", zap.Uint("upload_id", u.ID), zap.String("platform", u.Platform.Slug))
		return nil
	}
	up, ok := p.Uploaders.Get(u.Platform.Slug)
	if !ok {
		p.logger.Warn("No uploader for platform", zap.Uint("upload_id", u.ID), zap.String("platform", u.Platform.Slug))
		return nil
	}

	resp, err := up.Upload(ctx, &u)
	if err != nil {
		msg, _ := json.Marshal(map[string]string{"error": "Error: " + err.Error()})
		if uerr := p.db.WithContext(ctx).Model(&u).Updates(map[string]interface{}{
			"status":          models.UploadFailed,
			"upload_response": datatypes.JSON(msg),
		}).Error; uerr != nil {
			p.logger.Error("Failed to mark upload failed", zap.Uint("upload_id", u.ID), zap.Error(uerr))
		}
		opts := []service.ErrorLogOption{service.WithPlatform(u.Platform.Slug)}
		if u.ScriptID != nil {
			opts = append(opts, service.WithScript(*u.ScriptID))
		}
		p.record("ERROR", "uploader", fmt.Sprintf("Upload %d to %s failed", u.ID, u.Platform.Slug), err.Error(), opts...)
		return queue.Permanent(fmt.Errorf("failed to upload %d to %s: %w", u.ID, u.Platform.Slug, err))
	}

	if err := p.db.WithContext(ctx).Model(&u).Updates(map[string]interface{}{
		"status":          models.UploadUploaded,
		"upload_response": datatypes.JSON(resp),
	}).Error; err != nil {
		return fmt.Errorf("failed to mark upload %d uploaded: %w", u.ID, err)
	}
	p.logger.Info("Video uploaded", zap.Uint("upload_id", u.ID), zap.String("platform", u.Platform.Slug))

	if u.ScriptID == nil {
		return nil
	}
	return p.publishIfDone(ctx, *u.ScriptID)
}

// publishIfDone moves the news to published once no upload of its video on
// an enabled platform is left.
func (p *Pipeline) publishIfDone(ctx context.Context, scriptID uint) error {
	enabled := p.db.WithContext(ctx).Model(&models.Platform{}).Select("id").Where("is_enabled = ?", true)
	var open int64
	if err := p.db.WithContext(ctx).Model(&models.ScheduledUpload{}).
		Where("script_id = ? AND status <> ? AND platform_id IN (?)", scriptID, models.UploadUploaded, enabled).
		Count(&open).Error; err != nil {
		return fmt.Errorf("failed to count open uploads: %w", err)
	}
	if open > 0 {
		return nil
	}

	newsID, err := p.newsForScript(ctx, scriptID)
	if err != nil {
		return err
	}
	err = Advance(ctx, p.db, newsID, models.StageScheduled, models.StagePublished, nil)
	if errors.Is(err, ErrStageChanged) {
		return nil
	}
	if err == nil {
		p.logger.Info("News published", zap.Uint("news_id", newsID), zap.Uint("script_id", scriptID))
	}
	return err
}
