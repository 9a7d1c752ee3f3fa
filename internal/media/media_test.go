package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers ffprobe with per-path durations and records ffmpeg calls.
type fakeRunner struct {
	mu        sync.Mutex
	durations map[string]string
	fallback  string
	failOn    string
	calls     []call
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	if f.failOn != "" && name == f.failOn {
		return nil, errors.New("boom")
	}
	if name == "ffprobe" {
		path := args[len(args)-1]
		for suffix, d := range f.durations {
			if strings.HasSuffix(path, suffix) {
				return []byte(d + "\n"), nil
			}
		}
		return []byte(f.fallback), nil
	}
	return nil, nil
}

func (f *fakeRunner) ffmpegCalls() []call {
	var out []call
	for _, c := range f.calls {
		if c.name == "ffmpeg" {
			out = append(out, c)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestSceneOffset(t *testing.T) {
	assert.Equal(t, 0.0, SceneOffset(0))
	assert.Equal(t, 0.5, SceneOffset(1))
	assert.Equal(t, 0.5, SceneOffset(7))
}

func TestTransitionOffsets(t *testing.T) {
	offsets := TransitionOffsets([]float64{3, 4, 5}, TransitionDuration)
	require.Len(t, offsets, 2)
	assert.InDelta(t, 2.5, offsets[0], 1e-9)
	assert.InDelta(t, 3+4-1.0, offsets[1], 1e-9)

	assert.Nil(t, TransitionOffsets([]float64{3}, TransitionDuration))
	assert.InDelta(t, 11.0, ChainedDuration([]float64{3, 4, 5}, TransitionDuration), 1e-9)
	assert.Equal(t, 0.0, ChainedDuration(nil, TransitionDuration))
}

func TestSceneTimeline(t *testing.T) {
	words := []models.WordTiming{{Word: "hi", StartTime: 0.1, EndTime: 0.4}}
	shifted := SceneTimeline(words, 0.5)
	assert.InDelta(t, 0.6, shifted[0].StartTime, 1e-9)
	assert.InDelta(t, 0.9, shifted[0].EndTime, 1e-9)
	assert.InDelta(t, 0.1, words[0].StartTime, 1e-9)
}

func TestFormatASSTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", FormatASSTime(0))
	assert.Equal(t, "0:00:01.25", FormatASSTime(1.25))
	assert.Equal(t, "0:01:05.50", FormatASSTime(65.5))
	assert.Equal(t, "1:00:00.00", FormatASSTime(3600))
	assert.Equal(t, "0:00:00.00", FormatASSTime(-1))
}

func TestCaptionText(t *testing.T) {
	assert.Equal(t, "hello", CaptionText("hello,"))
	assert.Equal(t, "AI-driven", CaptionText("<b>AI—driven</b>"))
	assert.Equal(t, "", CaptionText("..."))
	assert.Equal(t, "well-known", CaptionText("well--known!"))
}

func TestSubtitleBuild(t *testing.T) {
	b := NewSubtitleBuilder("", "")
	out := b.Build([]models.WordTiming{
		{Word: "Hello,", StartTime: 0, EndTime: 0.5},
		{Word: "!!", StartTime: 0.5, EndTime: 0.6},
		{Word: "world", StartTime: 0.6, EndTime: 1.0},
	}, 0.5)

	assert.Contains(t, out, "PlayResX: 1080\nPlayResY: 1920")
	assert.Contains(t, out, "Style: Base,a Atomic Md,100,&H00FFFFFF,")
	assert.Contains(t, out, "Dialogue: 0,0:00:00.50,0:00:01.00,Base,,0,0,0,,{\\an5")
	assert.Contains(t, out, "}HELLO\n")
	assert.Contains(t, out, "Dialogue: 0,0:00:01.10,0:00:01.50,")
	assert.Equal(t, 2, strings.Count(out, "Dialogue:"))
}

func TestSceneFilterTrimsLongVisual(t *testing.T) {
	fc := SceneFilter(8, 5.5, 0.5, "/data/temp/c.ass", "/data/fonts")
	assert.Contains(t, fc, "[0:v]trim=0:5.5,setpts=PTS-STARTPTS[vout]")
	assert.NotContains(t, fc, "reverse")
	assert.Contains(t, fc, "[vout]ass=/data/temp/c.ass:fontsdir=/data/fonts[vsub]")
	assert.Contains(t, fc, "[1:a]adelay=500:all=1[aout]")
}

func TestSceneFilterBoomerang(t *testing.T) {
	fc := SceneFilter(4, 10, 0, "c.ass", "fonts")
	assert.Contains(t, fc, "[0:v]trim=0:4,setpts=PTS-STARTPTS,split=2[fwd][rev_in]")
	assert.Contains(t, fc, "[rev_in]reverse,setpts=PTS-STARTPTS[rev]")
	assert.Contains(t, fc, "concat=n=2:v=1:a=0,loop=loop=1:size=32767:start=0,trim=0:10,setpts=PTS-STARTPTS[vout]")
	assert.Contains(t, fc, "[1:a]adelay=0:all=1[aout]")

	fc = SceneFilter(4, 7, 0, "c.ass", "fonts")
	assert.Contains(t, fc, "loop=loop=0:")
}

func TestSceneFilterKeepsMilliseconds(t *testing.T) {
	fc := SceneFilter(8, 3.1234, 0.5, "c.ass", "fonts")
	assert.Contains(t, fc, "[0:v]trim=0:3.123,setpts=PTS-STARTPTS[vout]")

	fc = SceneFilter(2.0049, 6.0051, 0, "c.ass", "fonts")
	assert.Contains(t, fc, "[0:v]trim=0:2.005,setpts=PTS-STARTPTS,split=2[fwd][rev_in]")
	assert.Contains(t, fc, "trim=0:6.005,setpts=PTS-STARTPTS[vout]")
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `C\:/fonts/a\'b`, escapeFilterPath(`C:\fonts\a'b`))
}

func TestTransitionFilter(t *testing.T) {
	graph, v, a, sfx := TransitionFilter(
		[]string{"", "wipeleft", ""},
		[]float64{3, 4, 5},
		[]string{"/sfx/whoosh.mp3", ""},
	)
	assert.Equal(t, "[v2]", v)
	assert.Equal(t, "[a_faded]", a)
	assert.Equal(t, []string{"/sfx/whoosh.mp3"}, sfx)

	assert.Contains(t, graph, "[0:v]null[v0]")
	assert.Contains(t, graph, "[v0][1:v]xfade=transition=wipeleft:duration=0.5:offset=2.5[v1]")
	assert.Contains(t, graph, "[v1][2:v]xfade=transition=fade:duration=0.5:offset=6[v2]")
	assert.Contains(t, graph, "[a0][1:a]acrossfade=d=0.5:c1=tri:c2=tri[a_mid1]")
	assert.Contains(t, graph, "[3:a]adelay=2500|2500,volume=0.3[sfx_del1]")
	assert.Contains(t, graph, "[a_mid1][sfx_del1]amix=inputs=2:duration=first:dropout_transition=0[a1]")
	assert.Contains(t, graph, "[a1][2:a]acrossfade=d=0.5:c1=tri:c2=tri[a_mid2]")
	assert.Contains(t, graph, "[a_mid2]loudnorm=I=-23:TP=-2.0:LRA=14[a_normalized]")
	assert.Contains(t, graph, "[a_normalized]afade=out:st=10.95:d=0.05[a_faded]")
}

func TestTransitionFilterSingleClip(t *testing.T) {
	graph, v, _, sfx := TransitionFilter([]string{"fade"}, []float64{4}, nil)
	assert.Equal(t, "[v0]", v)
	assert.Empty(t, sfx)
	assert.Contains(t, graph, "[a0]loudnorm")
}

func TestMixFilter(t *testing.T) {
	fc := MixFilter(20)
	assert.Contains(t, fc, "[0:v]trim=0:20,setpts=PTS-STARTPTS[final_video]")
	assert.Contains(t, fc, "[1:a]volume=0.08,atrim=0:20,asetpts=PTS-STARTPTS,afade=t=out:st=19:d=1[music_prep]")
	assert.Contains(t, fc, "sidechaincompress=threshold=-30dB:ratio=5:attack=50:release=200:makeup=1.5")
	assert.Contains(t, fc, "loudnorm=I=-23:TP=-2.0:LRA=14:linear=true[final_audio]")

	assert.Contains(t, MixFilter(0.4), "afade=t=out:st=0:d=1")
}

func TestProbeDuration(t *testing.T) {
	r := &fakeRunner{fallback: "12.345"}
	d, err := NewProbe(r, "").Duration(context.Background(), "x.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 12.345, d, 1e-9)
	assert.Equal(t, []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", "x.mp4"}, r.calls[0].args)

	_, err = NewProbe(&fakeRunner{fallback: "N/A"}, "").Duration(context.Background(), "x.mp4")
	assert.Error(t, err)
}

func TestComposerRender(t *testing.T) {
	root := t.TempDir()
	store := storage.NewLocal(root)
	r := &fakeRunner{
		durations: map[string]string{"v1.mp4": "4", "a1.mp3": "6", "v2.mp4": "8", "a2.mp3": "3"},
		fallback:  "5",
	}
	c := NewComposer(config.MediaConfig{FontsDir: "fonts"}, r, store, testutil.NewLogger())

	out, err := c.Render(context.Background(), []SceneInput{
		{VideoPath: "scripts/1/v1.mp4", AudioPath: "scripts/1/a1.mp3", Words: []models.WordTiming{{Word: "one", EndTime: 1}}, Transition: "fade", SFXPath: "sfx/whoosh.mp3"},
		{VideoPath: "scripts/1/v2.mp4", AudioPath: "scripts/1/a2.mp3", Transition: "circleopen"},
	}, "music/tech/track.mp3")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "temp/final_vid_"))

	calls := r.ffmpegCalls()
	require.Len(t, calls, 4)

	first := argAfter(calls[0].args, "-filter_complex")
	assert.Contains(t, first, "split=2[fwd][rev_in]")
	assert.Contains(t, first, "adelay=0:all=1")
	second := argAfter(calls[1].args, "-filter_complex")
	assert.Contains(t, second, "[0:v]trim=0:3.5,")
	assert.Contains(t, second, "adelay=500:all=1")

	chain := calls[2].args
	assert.Contains(t, argAfter(chain, "-filter_complex"), "xfade=transition=circleopen:duration=0.5:offset=4.5")
	assert.Contains(t, chain, filepath.Join(root, "sfx", "whoosh.mp3"))
	assert.Contains(t, chain, "-shortest")

	mix := calls[3].args
	assert.Equal(t, filepath.Join(root, "music", "tech", "track.mp3"), mix[4])
	assert.Contains(t, mix, "+faststart")

	entries, err := os.ReadDir(filepath.Join(root, "temp"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".ass"), e.Name())
	}
}

func TestComposerRenderFailure(t *testing.T) {
	store := storage.NewLocal(t.TempDir())
	r := &fakeRunner{fallback: "3", failOn: "ffmpeg"}
	c := NewComposer(config.MediaConfig{}, r, store, testutil.NewLogger())

	_, err := c.Render(context.Background(), []SceneInput{{VideoPath: "v.mp4", AudioPath: "a.mp3"}}, "m.mp3")
	assert.Error(t, err)

	_, err = c.Render(context.Background(), nil, "m.mp3")
	assert.Error(t, err)
}
