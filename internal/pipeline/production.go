package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/assets"
	"github.com/ifuryst/quickbyte/internal/media"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/service"
	"github.com/ifuryst/quickbyte/internal/throttle"
)

type scriptPayload struct {
	ScriptID uint `json:"script_id"`
}

// ErrNoMusic is returned when no track can back a video.
var ErrNoMusic = errors.New("no background music available")

// GenerateAssets produces the audio and visual of one scene, or only the
// type named in the payload. A throttled voice request is put back on the
// queue without spending an attempt.
func (p *Pipeline) GenerateAssets(ctx context.Context, job *models.Job) error {
	var in scenePayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}
	err := p.Assets.GenerateScene(ctx, in.SceneID, in.Type)
	if errors.Is(err, throttle.ErrTimeout) {
		p.logger.Info("Voice synthesis throttled", zap.Uint("scene_id", in.SceneID), zap.Duration("delay", p.ReleaseDelay))
		return queue.Release(p.ReleaseDelay, err)
	}
	return err
}

// RegenerateAsset queues a fresh generation of one asset type of a scene.
func (p *Pipeline) RegenerateAsset(ctx context.Context, sceneID uint, assetType models.AssetType) error {
	return p.publish(ctx, MsgAssetRegenerate, scenePayload{SceneID: sceneID, Type: assetType})
}

// CheckQueuedAssets polls the long-running providers.
func (p *Pipeline) CheckQueuedAssets(ctx context.Context, job *models.Job) error {
	report, err := p.Assets.ProcessQueued(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("Checked queued assets",
		zap.Int("checked", report.Checked),
		zap.Int("completed", report.Completed),
		zap.Int("pending", report.Pending),
		zap.Int("regenerated", report.Regenerated),
		zap.Int("errors", report.Errors))
	return nil
}

// FindReadyScripts dispatches one composition per script whose assets are
// all completed. A composition already in flight is not duplicated.
func (p *Pipeline) FindReadyScripts(ctx context.Context, job *models.Job) error {
	ids, err := p.Assets.ReadyScripts(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.publish(ctx, MsgAssetsReady, scriptPayload{ScriptID: id},
			queue.WithUniqueKey(strconv.FormatUint(uint64(id), 10))); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		p.logger.Info("Scripts ready for composition", zap.Int("count", len(ids)))
	}
	return nil
}

// ComposeVideo renders the final video of a script and moves its news to
// video_assembled. On failure the news keeps its stage.
func (p *Pipeline) ComposeVideo(ctx context.Context, job *models.Job) error {
	var in scriptPayload
	if err := queue.Decode(job, &in); err != nil {
		return err
	}

	var script models.Script
	err := p.db.WithContext(ctx).
		Preload("Article").
		Preload("Scenes", func(db *gorm.DB) *gorm.DB { return db.Order("scene_order") }).
		Preload("Scenes.Assets", "status = ?", models.AssetCompleted).
		First(&script, in.ScriptID).Error
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to load script %d: %w", in.ScriptID, err))
	}
	if script.Article == nil {
		return queue.Permanent(fmt.Errorf("script %d has no article", script.ID))
	}

	var n models.News
	if err := p.db.WithContext(ctx).First(&n, script.Article.NewsID).Error; err != nil {
		return fmt.Errorf("failed to load news of script %d: %w", script.ID, err)
	}
	if n.CurrentStage != models.StageScriptGenerated {
		p.logger.Info("Script no longer awaiting composition",
			zap.Uint("script_id", script.ID),
			zap.String("stage", string(n.CurrentStage)))
		return nil
	}
	if !assets.IsReady(script.Scenes) {
		p.logger.Info("Script assets not ready", zap.Uint("script_id", script.ID))
		return nil
	}

	inputs, err := p.sceneInputs(ctx, script.Scenes)
	if err != nil {
		return err
	}
	track, err := p.pickTrack(ctx, script.BgMusic)
	if err != nil {
		return err
	}

	temp, err := p.Composer.Render(ctx, inputs, track.Path)
	if err != nil {
		p.record("ERROR", "composer", fmt.Sprintf("Composition of script %d failed", script.ID), err.Error(),
			service.WithScript(script.ID), service.WithNews(n.ID))
		return err
	}

	// The file is moved once the row is won and removed again if the
	// transaction does not commit.
	dest := p.Store.ScriptVideoPath(script.ID)
	moved := false
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&script).Update("video_path", dest).Error; err != nil {
			return fmt.Errorf("failed to save video path: %w", err)
		}
		if err := tx.Model(&models.MusicTrack{}).Where("id = ?", track.ID).
			UpdateColumn("no_of_uses", gorm.Expr("no_of_uses + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to count music use: %w", err)
		}
		if err := Advance(ctx, tx, n.ID, models.StageScriptGenerated, models.StageVideoAssembled, nil); err != nil {
			return err
		}
		if err := p.Store.Move(temp, dest); err != nil {
			return fmt.Errorf("failed to store video of script %d: %w", script.ID, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		p.discardRender(temp, dest, moved)
	}
	if errors.Is(err, ErrStageChanged) {
		p.logger.Info("Video already assembled", zap.Uint("script_id", script.ID))
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("Video assembled", zap.Uint("script_id", script.ID), zap.String("path", dest), zap.String("music", track.Path))
	return p.publish(ctx, MsgVideoAssembled, scriptPayload{ScriptID: script.ID})
}

func (p *Pipeline) discardRender(temp, dest string, moved bool) {
	path := temp
	if moved {
		path = dest
	}
	if err := p.Store.Remove(path); err != nil {
		p.logger.Warn("Failed to remove rendered video", zap.String("path", path), zap.Error(err))
	}
}

// sceneInputs pairs each scene with its completed assets, word alignment and
// the sound effect played at the following junction.
func (p *Pipeline) sceneInputs(ctx context.Context, scenes []models.Scene) ([]media.SceneInput, error) {
	var effects []models.SoundEffect
	if err := p.db.WithContext(ctx).Find(&effects).Error; err != nil {
		return nil, fmt.Errorf("failed to load sound effects: %w", err)
	}
	sfx := make(map[string]string, len(effects))
	for _, e := range effects {
		sfx[e.Title] = e.Path
	}

	inputs := make([]media.SceneInput, 0, len(scenes))
	for i, s := range scenes {
		in := media.SceneInput{Index: i, Transition: s.Transition, SFXPath: sfx[s.SoundEffect]}
		for _, a := range s.Assets {
			if a.LocalPath == nil {
				continue
			}
			switch a.Type {
			case models.AssetAudio:
				in.AudioPath = *a.LocalPath
				in.Words = a.DecodeMetadata().WordAlignment
			case models.AssetVisual:
				in.VideoPath = *a.LocalPath
			}
		}
		if in.AudioPath == "" || in.VideoPath == "" {
			return nil, queue.Permanent(fmt.Errorf("scene %d is missing a stored asset", s.ID))
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// pickTrack returns the least used track of the category, breaking ties at
// random. Any track is used when the category has none.
func (p *Pipeline) pickTrack(ctx context.Context, category string) (*models.MusicTrack, error) {
	db := p.db.WithContext(ctx)

	var tracks []models.MusicTrack
	if category != "" {
		sub := db.Model(&models.MusicCategory{}).Select("id").Where("name = ?", category)
		if err := db.Where("category_id IN (?)", sub).Find(&tracks).Error; err != nil {
			return nil, fmt.Errorf("failed to list music tracks: %w", err)
		}
	}
	if len(tracks) == 0 {
		if err := db.Find(&tracks).Error; err != nil {
			return nil, fmt.Errorf("failed to list music tracks: %w", err)
		}
	}
	if len(tracks) == 0 {
		return nil, queue.Permanent(ErrNoMusic)
	}
	return LeastUsed(tracks), nil
}

// LeastUsed picks one of the tracks with the lowest use count.
func LeastUsed(tracks []models.MusicTrack) *models.MusicTrack {
	if len(tracks) == 0 {
		return nil
	}
	lowest := tracks[0].NoOfUses
	for _, t := range tracks[1:] {
		if t.NoOfUses < lowest {
			lowest = t.NoOfUses
		}
	}
	var least []int
	for i, t := range tracks {
		if t.NoOfUses == lowest {
			least = append(least, i)
		}
	}
	return &tracks[least[rand.Intn(len(least))]]
}
