package media

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/storage"
)

// Composer renders scenes, chains them and mixes the background music.
type Composer struct {
	scenes *SceneRenderer
	chain  *TransitionChainer
	mixer  *AudioMixer
	store  *storage.Local
	logger *zap.Logger
}

func NewComposer(cfg config.MediaConfig, runner Runner, store *storage.Local, logger *zap.Logger) *Composer {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	probe := NewProbe(runner, cfg.FFprobePath)
	subtitles := NewSubtitleBuilder(cfg.FontName, cfg.SubtitleColor)
	return &Composer{
		scenes: NewSceneRenderer(runner, probe, store, subtitles, ffmpeg, store.Path(cfg.FontsDir), logger),
		chain:  NewTransitionChainer(runner, probe, store, ffmpeg),
		mixer:  NewAudioMixer(runner, probe, store, ffmpeg),
		store:  store,
		logger: logger,
	}
}

// Render composes the scenes, which must be in playback order, over the music
// track and returns the temp path of the final video.
func (c *Composer) Render(ctx context.Context, scenes []SceneInput, musicPath string) (string, error) {
	if len(scenes) == 0 {
		return "", fmt.Errorf("no scenes to compose")
	}

	if err := c.store.EnsureDir("temp"); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	var temps []string
	defer func() {
		for _, p := range temps {
			if err := c.store.Remove(p); err != nil {
				c.logger.Warn("Failed to remove temp file", zap.String("path", p), zap.Error(err))
			}
		}
	}()

	rendered := make([]RenderedScene, 0, len(scenes))
	for i, in := range scenes {
		in.Index = i
		r, extra, err := c.scenes.Render(ctx, in)
		temps = append(temps, extra...)
		if err != nil {
			return "", err
		}
		temps = append(temps, r.Video)
		rendered = append(rendered, *r)
	}

	chained, err := c.chain.Chain(ctx, rendered)
	if err != nil {
		return "", err
	}
	temps = append(temps, chained)

	final, err := c.mixer.Mix(ctx, chained, musicPath)
	if err != nil {
		return "", err
	}

	c.logger.Info("Video composed", zap.Int("scenes", len(scenes)), zap.String("path", final))
	return final, nil
}
