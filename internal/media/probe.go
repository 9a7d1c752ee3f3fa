package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Probe reads media metadata with ffprobe.
type Probe struct {
	runner  Runner
	ffprobe string
}

func NewProbe(runner Runner, ffprobe string) *Probe {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Probe{runner: runner, ffprobe: ffprobe}
}

// Duration returns the container duration of path in seconds.
func (p *Probe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Run(ctx, p.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unknown duration for %s: %w", path, err)
	}
	return d, nil
}

func (p *Probe) Durations(ctx context.Context, paths []string) ([]float64, error) {
	out := make([]float64, len(paths))
	for i, path := range paths {
		d, err := p.Duration(ctx, path)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
