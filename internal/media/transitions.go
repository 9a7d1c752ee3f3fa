package media

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ifuryst/quickbyte/internal/storage"
)

const sfxVolume = 0.3

// TransitionChainer joins rendered scenes with cross-fades and junction
// sound effects.
type TransitionChainer struct {
	runner Runner
	probe  *Probe
	store  *storage.Local
	ffmpeg string
}

func NewTransitionChainer(runner Runner, probe *Probe, store *storage.Local, ffmpeg string) *TransitionChainer {
	return &TransitionChainer{runner: runner, probe: probe, store: store, ffmpeg: ffmpeg}
}

// Chain returns the temp path of the joined clip.
func (c *TransitionChainer) Chain(ctx context.Context, scenes []RenderedScene) (string, error) {
	if len(scenes) == 0 {
		return "", fmt.Errorf("no scenes to chain")
	}

	videos := make([]string, len(scenes))
	transitions := make([]string, len(scenes))
	for i, s := range scenes {
		videos[i] = c.store.Path(s.Video)
		transitions[i] = s.Transition
	}
	durations, err := c.probe.Durations(ctx, videos)
	if err != nil {
		return "", err
	}

	// The sound effect of scene i plays at the junction into scene i+1.
	sfx := make([]string, 0, len(scenes)-1)
	for i := 0; i < len(scenes)-1; i++ {
		path := scenes[i].SFXPath
		if path != "" {
			path = c.store.Path(path)
		}
		sfx = append(sfx, path)
	}

	graph, vOut, aOut, sfxInputs := TransitionFilter(transitions, durations, sfx)

	args := []string{"-y"}
	for _, v := range videos {
		args = append(args, "-i", v)
	}
	for _, s := range sfxInputs {
		args = append(args, "-i", s)
	}
	out := c.store.TempPath("transitions_", "mp4")
	args = append(args,
		"-filter_complex", graph,
		"-map", vOut, "-map", aOut,
		"-c:v", "libx264", "-c:a", "aac", "-shortest",
		c.store.Path(out),
	)
	if _, err := c.runner.Run(ctx, c.ffmpeg, args...); err != nil {
		return "", fmt.Errorf("failed to chain transitions: %w", err)
	}
	return out, nil
}

// TransitionFilter builds the chaining graph. Video inputs are 0..n-1; the
// non-empty sfx paths follow in order and are returned as sfxInputs.
func TransitionFilter(transitions []string, durations []float64, sfx []string) (graph, videoLabel, audioLabel string, sfxInputs []string) {
	n := len(durations)
	offsets := TransitionOffsets(durations, TransitionDuration)

	parts := []string{"[0:v]null[v0]"}
	prev := "[v0]"
	for i := 1; i < n; i++ {
		t := defaultTransition
		if i < len(transitions) && transitions[i] != "" {
			t = transitions[i]
		}
		out := fmt.Sprintf("[v%d]", i)
		parts = append(parts, fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s",
			prev, i, t, ff(TransitionDuration), ff(offsets[i-1]), out))
		prev = out
	}
	videoLabel = prev

	parts = append(parts, "[0:a]anull[a0]")
	prevA := "[a0]"
	nextInput := n
	for i := 1; i < n; i++ {
		mid := fmt.Sprintf("[a_mid%d]", i)
		parts = append(parts, fmt.Sprintf("%s[%d:a]acrossfade=d=%s:c1=tri:c2=tri%s", prevA, i, ff(TransitionDuration), mid))
		prevA = mid

		if i-1 < len(sfx) && sfx[i-1] != "" {
			delay := int(math.Round(offsets[i-1] * 1000))
			delayed := fmt.Sprintf("[sfx_del%d]", i)
			mixed := fmt.Sprintf("[a%d]", i)
			parts = append(parts,
				fmt.Sprintf("[%d:a]adelay=%d|%d,volume=%s%s", nextInput, delay, delay, ff(sfxVolume), delayed),
				fmt.Sprintf("%s%samix=inputs=2:duration=first:dropout_transition=0%s", mid, delayed, mixed),
			)
			sfxInputs = append(sfxInputs, sfx[i-1])
			nextInput++
			prevA = mixed
		}
	}

	total := ChainedDuration(durations, TransitionDuration)
	fadeStart := total - 0.05
	if fadeStart < 0 {
		fadeStart = 0
	}
	parts = append(parts,
		prevA+"loudnorm=I=-23:TP=-2.0:LRA=14[a_normalized]",
		fmt.Sprintf("[a_normalized]afade=out:st=%s:d=0.05[a_faded]", ff(fadeStart)),
	)
	return strings.Join(parts, ";"), videoLabel, "[a_faded]", sfxInputs
}
