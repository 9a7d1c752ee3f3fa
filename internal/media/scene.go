package media

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
)

// maxLoopFrames bounds the frames the loop filter buffers per iteration.
const maxLoopFrames = 32767

// SceneInput is one ordered scene with its completed media.
type SceneInput struct {
	Index      int
	VideoPath  string
	AudioPath  string
	Words      []models.WordTiming
	Transition string
	SFXPath    string
}

// RenderedScene is a muxed clip ready for chaining.
type RenderedScene struct {
	Video      string
	Transition string
	SFXPath    string
}

// SceneRenderer merges a scene's visual, voiceover and captions into a clip.
type SceneRenderer struct {
	runner    Runner
	probe     *Probe
	store     *storage.Local
	subtitles *SubtitleBuilder
	ffmpeg    string
	fontsDir  string
	logger    *zap.Logger
}

func NewSceneRenderer(runner Runner, probe *Probe, store *storage.Local, subtitles *SubtitleBuilder, ffmpeg, fontsDir string, logger *zap.Logger) *SceneRenderer {
	return &SceneRenderer{runner: runner, probe: probe, store: store, subtitles: subtitles, ffmpeg: ffmpeg, fontsDir: fontsDir, logger: logger}
}

// Render writes the clip and the caption file to temp storage. The caption
// path is returned so the caller can clean it up.
func (r *SceneRenderer) Render(ctx context.Context, in SceneInput) (*RenderedScene, []string, error) {
	offset := SceneOffset(in.Index)
	video := r.store.Path(in.VideoPath)
	audio := r.store.Path(in.AudioPath)

	videoDur, err := r.probe.Duration(ctx, video)
	if err != nil {
		return nil, nil, err
	}
	audioDur, err := r.probe.Duration(ctx, audio)
	if err != nil {
		return nil, nil, err
	}

	assRel := r.store.TempPath("captions_", "ass")
	if err := r.store.PutBytes(assRel, []byte(r.subtitles.Build(in.Words, offset))); err != nil {
		return nil, nil, fmt.Errorf("failed to write captions: %w", err)
	}
	temps := []string{assRel}

	outRel := r.store.TempPath("scene_final_", "mp4")
	graph := SceneFilter(videoDur, audioDur+offset, offset, r.store.Path(assRel), r.fontsDir)
	args := []string{"-y", "-i", video, "-i", audio,
		"-filter_complex", graph,
		"-map", "[vsub]", "-map", "[aout]",
		"-c:v", "libx264", "-c:a", "aac",
		r.store.Path(outRel),
	}
	if _, err := r.runner.Run(ctx, r.ffmpeg, args...); err != nil {
		return nil, temps, fmt.Errorf("failed to render scene %d: %w", in.Index, err)
	}

	r.logger.Debug("Scene rendered",
		zap.Int("index", in.Index),
		zap.Float64("video_duration", videoDur),
		zap.Float64("clip_duration", audioDur+offset))

	transition := in.Transition
	if transition == "" {
		transition = defaultTransition
	}
	return &RenderedScene{Video: outRel, Transition: transition, SFXPath: in.SFXPath}, temps, nil
}

// SceneFilter builds the filter graph for one scene. A visual shorter than
// the clip is played forward then reversed, looped and trimmed.
func SceneFilter(videoDur, clipDur, offset float64, assPath, fontsDir string) string {
	var parts []string
	if clipDur > videoDur && videoDur > 0 {
		loops := int(math.Ceil(clipDur/(2*videoDur))) - 1
		if loops < 0 {
			loops = 0
		}
		parts = append(parts,
			fmt.Sprintf("[0:v]trim=0:%s,setpts=PTS-STARTPTS,split=2[fwd][rev_in]", ff(videoDur)),
			"[rev_in]reverse,setpts=PTS-STARTPTS[rev]",
			fmt.Sprintf("[fwd][rev]concat=n=2:v=1:a=0,loop=loop=%d:size=%d:start=0,trim=0:%s,setpts=PTS-STARTPTS[vout]", loops, maxLoopFrames, ff(clipDur)),
		)
	} else {
		parts = append(parts, fmt.Sprintf("[0:v]trim=0:%s,setpts=PTS-STARTPTS[vout]", ff(clipDur)))
	}

	parts = append(parts,
		fmt.Sprintf("[vout]ass=%s:fontsdir=%s[vsub]", escapeFilterPath(assPath), escapeFilterPath(fontsDir)),
		fmt.Sprintf("[1:a]adelay=%d:all=1[aout]", int(math.Round(offset*1000))),
	)
	return strings.Join(parts, ";")
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.ReplaceAll(p, ":", `\:`)
	p = strings.ReplaceAll(p, "'", `\'`)
	return p
}
