package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/ifuryst/quickbyte/internal/storage"
)

const (
	musicVolume  = 0.08
	musicFadeOut = 1.0
)

// AudioMixer lays ducked background music under the voice track and
// encodes the delivery file.
type AudioMixer struct {
	runner Runner
	probe  *Probe
	store  *storage.Local
	ffmpeg string
}

func NewAudioMixer(runner Runner, probe *Probe, store *storage.Local, ffmpeg string) *AudioMixer {
	return &AudioMixer{runner: runner, probe: probe, store: store, ffmpeg: ffmpeg}
}

// Mix returns the temp path of the final video.
func (m *AudioMixer) Mix(ctx context.Context, videoRel, musicPath string) (string, error) {
	video := m.store.Path(videoRel)
	voiceDur, err := m.probe.Duration(ctx, video)
	if err != nil {
		return "", err
	}

	out := m.store.TempPath("final_vid_", "mp4")
	args := append([]string{"-y", "-i", video, "-i", m.store.Path(musicPath),
		"-filter_complex", MixFilter(voiceDur),
		"-map", "[final_video]", "-map", "[final_audio]",
	}, EncodeArgs()...)
	args = append(args, m.store.Path(out))

	if _, err := m.runner.Run(ctx, m.ffmpeg, args...); err != nil {
		return "", fmt.Errorf("failed to mix background music: %w", err)
	}
	return out, nil
}

// MixFilter trims both tracks to the voice, fades the music tail and ducks
// the music under the voice with a sidechain compressor.
func MixFilter(voiceDur float64) string {
	fadeStart := voiceDur - musicFadeOut
	if fadeStart < 0 {
		fadeStart = 0
	}
	d := ff(voiceDur)
	return strings.Join([]string{
		fmt.Sprintf("[0:v]trim=0:%s,setpts=PTS-STARTPTS[final_video]", d),
		fmt.Sprintf("[1:a]volume=%s,atrim=0:%s,asetpts=PTS-STARTPTS,afade=t=out:st=%s:d=%s[music_prep]", ff(musicVolume), d, ff(fadeStart), ff(musicFadeOut)),
		"[0:a]asplit=2[voice_main][sc]",
		"[music_prep][sc]sidechaincompress=threshold=-30dB:ratio=5:attack=50:release=200:makeup=1.5[music_ducked]",
		"[voice_main][music_ducked]amix=inputs=2:duration=first:dropout_transition=1000:normalize=0[mixed]",
		"[mixed]loudnorm=I=-23:TP=-2.0:LRA=14:linear=true[final_audio]",
	}, ";")
}

// EncodeArgs is the delivery profile: H.264 high@4.1 and stereo AAC.
func EncodeArgs() []string {
	return []string{
		"-c:v", "libx264", "-b:v", "1500k",
		"-profile:v", "high", "-level", "4.1", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k", "-ac", "2", "-ar", "48000",
		"-movflags", "+faststart",
	}
}
