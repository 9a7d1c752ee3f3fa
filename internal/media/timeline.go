package media

import (
	"math"
	"strconv"

	"github.com/ifuryst/quickbyte/internal/models"
)

const (
	// TransitionDuration is the overlap between consecutive scene clips.
	TransitionDuration = 0.5
	defaultTransition  = "fade"
)

// SceneOffset is the lead-in applied to a scene so its speech starts after
// the cross-fade from the previous clip.
func SceneOffset(index int) float64 {
	if index == 0 {
		return 0
	}
	return TransitionDuration
}

// SceneTimeline shifts word timings by offset seconds.
func SceneTimeline(words []models.WordTiming, offset float64) []models.WordTiming {
	out := make([]models.WordTiming, len(words))
	for i, w := range words {
		out[i] = models.WordTiming{Word: w.Word, StartTime: w.StartTime + offset, EndTime: w.EndTime + offset}
	}
	return out
}

// TransitionOffsets returns the start of each junction: offset i (0 based,
// between clip i and i+1) is the sum of the first i+1 durations minus
// (i+1) overlaps.
func TransitionOffsets(durations []float64, overlap float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, 0, len(durations)-1)
	elapsed := durations[0]
	for i := 1; i < len(durations); i++ {
		offsets = append(offsets, elapsed-overlap)
		elapsed += durations[i] - overlap
	}
	return offsets
}

// ChainedDuration is the length of the clips chained with the given overlap.
func ChainedDuration(durations []float64, overlap float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	total := 0.0
	for _, d := range durations {
		total += d
	}
	return total - float64(len(durations)-1)*overlap
}

// ff formats seconds for filter arguments.
func ff(f float64) string {
	return strconv.FormatFloat(math.Round(f*1000)/1000, 'f', -1, 64)
}
