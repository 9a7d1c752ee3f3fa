package assets

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
)

// RegenerateFunc schedules a fresh generation of one asset type for a scene.
type RegenerateFunc func(ctx context.Context, sceneID uint, assetType models.AssetType) error

// Coordinator fans scene generations out to the providers and tracks the
// resulting Asset rows.
type Coordinator struct {
	db         *gorm.DB
	store      *storage.Local
	generators map[models.AssetType]Generator
	logger     *zap.Logger

	// OnRegenerate is called when a queued provider completes without output.
	OnRegenerate RegenerateFunc
}

func NewCoordinator(db *gorm.DB, store *storage.Local, audio, visual Generator, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:    db,
		store: store,
		generators: map[models.AssetType]Generator{
			models.AssetAudio:  audio,
			models.AssetVisual: visual,
		},
		logger: logger,
	}
}

// GenerateScene runs the audio and visual generations of a scene in parallel.
// When only is set, just that type is generated. Types that already have a
// live asset are skipped, so redelivered jobs do not duplicate work.
func (c *Coordinator) GenerateScene(ctx context.Context, sceneID uint, only models.AssetType) error {
	var scene models.Scene
	if err := c.db.WithContext(ctx).Preload("Assets").First(&scene, sceneID).Error; err != nil {
		return fmt.Errorf("failed to load scene %d: %w", sceneID, err)
	}

	types := []models.AssetType{models.AssetAudio, models.AssetVisual}
	if only != "" {
		if _, ok := c.generators[only]; !ok {
			return fmt.Errorf("unknown generator type: %s", only)
		}
		types = []models.AssetType{only}
	}

	var g errgroup.Group
	for _, t := range types {
		t := t
		if hasLiveAsset(scene.Assets, t) {
			c.logger.Debug("Asset already present, skipping", zap.Uint("scene_id", scene.ID), zap.String("type", string(t)))
			continue
		}
		g.Go(func() error {
			return c.generate(ctx, &scene, t)
		})
	}
	return g.Wait()
}

func hasLiveAsset(assets []models.Asset, t models.AssetType) bool {
	for _, a := range assets {
		if a.Type != t {
			continue
		}
		switch a.Status {
		case models.AssetCompleted, models.AssetQueued, models.AssetProcessing:
			return true
		}
	}
	return false
}

func (c *Coordinator) generate(ctx context.Context, scene *models.Scene, t models.AssetType) error {
	gen := c.generators[t]
	if gen == nil {
		return fmt.Errorf("no generator configured for %s", t)
	}

	req := Request{Text: scene.Visual, Duration: scene.Duration}
	if t == models.AssetAudio {
		req = Request{
			Text:         scene.Voiceover.Text,
			PreviousText: scene.Voiceover.PreviousText,
			NextText:     scene.Voiceover.NextText,
		}
	}

	result, err := gen.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to generate %s for scene %d: %w", t, scene.ID, err)
	}

	asset := models.Asset{
		SceneID:    scene.ID,
		ScriptID:   scene.ScriptID,
		Type:       t,
		Source:     gen.PlatformKey(),
		ExternalID: result.ExternalID,
		Status:     models.AssetCompleted,
	}

	if gen.IsQueued() {
		asset.Status = models.AssetQueued
	} else if result.FilePath != "" {
		ext := "mp4"
		if t == models.AssetAudio {
			ext = "mp3"
		}
		local := c.store.ScriptAssetPath(scene.ScriptID, "generated_voiceover", string(t)+"_", ext)
		if err := c.store.Move(result.FilePath, local); err != nil {
			return fmt.Errorf("failed to move %s asset: %w", t, err)
		}
		asset.LocalPath = &local
	}

	raw, _ := json.Marshal(result)
	meta, _ := json.Marshal(result.Metadata)
	asset.RawResponse = datatypes.JSON(raw)
	asset.Metadata = datatypes.JSON(meta)

	if err := c.db.WithContext(ctx).Create(&asset).Error; err != nil {
		return fmt.Errorf("failed to save %s asset: %w", t, err)
	}

	c.logger.Info("Asset generated",
		zap.Uint("script_id", scene.ScriptID),
		zap.Uint("scene_id", scene.ID),
		zap.String("type", string(t)),
		zap.String("source", asset.Source),
		zap.String("status", string(asset.Status)))
	return nil
}

// QueuedReport counts the outcomes of one ProcessQueued pass.
type QueuedReport struct {
	Checked     int `json:"checked"`
	Completed   int `json:"completed"`
	Pending     int `json:"pending"`
	Regenerated int `json:"regenerated"`
	Errors      int `json:"errors"`
}

// ProcessQueued polls every queued visual asset and stores the finished ones.
func (c *Coordinator) ProcessQueued(ctx context.Context) (QueuedReport, error) {
	var report QueuedReport

	var queued []models.Asset
	err := c.db.WithContext(ctx).
		Where("type = ? AND status = ?", models.AssetVisual, models.AssetQueued).
		Order("id").
		Find(&queued).Error
	if err != nil {
		return report, fmt.Errorf("failed to list queued assets: %w", err)
	}

	for i := range queued {
		asset := &queued[i]
		report.Checked++
		outcome, err := c.checkQueued(ctx, asset)
		if err != nil {
			report.Errors++
			c.logger.Error("Failed to process queued asset", zap.Uint("asset_id", asset.ID), zap.Error(err))
			continue
		}
		switch outcome {
		case outcomeCompleted:
			report.Completed++
		case outcomeRegenerated:
			report.Regenerated++
		default:
			report.Pending++
		}
	}
	return report, nil
}

type queuedOutcome int

const (
	outcomePending queuedOutcome = iota
	outcomeCompleted
	outcomeRegenerated
)

func (c *Coordinator) generatorFor(source string) (Generator, error) {
	for _, g := range c.generators {
		if g != nil && g.PlatformKey() == source {
			return g, nil
		}
	}
	return nil, fmt.Errorf("no generator for source %q", source)
}

func (c *Coordinator) checkQueued(ctx context.Context, asset *models.Asset) (queuedOutcome, error) {
	gen, err := c.generatorFor(asset.Source)
	if err != nil {
		return outcomePending, err
	}

	status, err := gen.CheckJobStatus(ctx, asset.ExternalID)
	if err != nil {
		return outcomePending, fmt.Errorf("failed to check job status: %w", err)
	}
	if !status.Done {
		c.logger.Debug("Asset still processing", zap.Uint("asset_id", asset.ID))
		return outcomePending, nil
	}

	if status.URI == "" {
		c.logger.Warn("Asset completed without payload, regenerating",
			zap.Uint("asset_id", asset.ID), zap.Uint("scene_id", asset.SceneID))
		if err := c.db.WithContext(ctx).Model(asset).Update("status", models.AssetFailed).Error; err != nil {
			return outcomePending, fmt.Errorf("failed to mark asset failed: %w", err)
		}
		if c.OnRegenerate != nil {
			if err := c.OnRegenerate(ctx, asset.SceneID, asset.Type); err != nil {
				return outcomeRegenerated, fmt.Errorf("failed to schedule regeneration: %w", err)
			}
		}
		return outcomeRegenerated, nil
	}

	dl, ok := gen.(Downloader)
	if !ok {
		return outcomePending, fmt.Errorf("generator %s cannot download assets", gen.PlatformKey())
	}
	body, err := dl.Download(ctx, status.URI)
	if err != nil {
		return outcomePending, err
	}
	defer body.Close()

	local := c.store.ScriptVideoPath(asset.ScriptID)
	if err := c.store.Put(local, body); err != nil {
		return outcomePending, fmt.Errorf("failed to store asset: %w", err)
	}

	remote := status.URI
	updates := map[string]interface{}{
		"local_path":  local,
		"remote_path": remote,
		"status":      models.AssetCompleted,
	}
	if len(status.Raw) > 0 {
		updates["raw_response"] = datatypes.JSON(status.Raw)
	}
	if err := c.db.WithContext(ctx).Model(asset).Updates(updates).Error; err != nil {
		_ = c.store.Remove(local)
		return outcomePending, fmt.Errorf("failed to update asset: %w", err)
	}

	c.logger.Info("Queued asset stored", zap.Uint("asset_id", asset.ID), zap.String("path", local))
	return outcomeCompleted, nil
}

// IsReady reports whether every scene has a completed audio and a completed
// visual asset.
func IsReady(scenes []models.Scene) bool {
	if len(scenes) == 0 {
		return false
	}
	for _, s := range scenes {
		var audio, visual bool
		for _, a := range s.Assets {
			if a.Status != models.AssetCompleted {
				continue
			}
			switch a.Type {
			case models.AssetAudio:
				audio = true
			case models.AssetVisual:
				visual = true
			}
		}
		if !audio || !visual {
			return false
		}
	}
	return true
}

// ReadyScripts returns the ids of scripts at script_generated whose assets
// are all completed.
func (c *Coordinator) ReadyScripts(ctx context.Context) ([]uint, error) {
	db := c.db.WithContext(ctx)
	newsIDs := db.Model(&models.News{}).Select("id").Where("current_stage = ?", models.StageScriptGenerated)
	articleIDs := db.Model(&models.Article{}).Select("id").Where("news_id IN (?)", newsIDs)

	var scripts []models.Script
	err := db.Where("article_id IN (?)", articleIDs).
		Preload("Scenes").
		Preload("Scenes.Assets", "status = ?", models.AssetCompleted).
		Order("id").
		Find(&scripts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}

	var ready []uint
	for _, s := range scripts {
		if IsReady(s.Scenes) {
			ready = append(ready, s.ID)
		}
	}
	return ready, nil
}
