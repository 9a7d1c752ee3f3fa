package prompt

import (
	"fmt"
	"strings"
)

var visualPrefixes = map[string]string{
	"runwayml":  "CINEMATIC SHOT: %s | motion_speed=0.8, motion_consistency=high, 30fps",
	"vertex ai": "CINEMATIC ULTRA-DETAIL: %s | kinematic_behavior=realistic, physics_accuracy=high, motion_precision=0.9, 8K, RED camera, Academy ratio, 30fps",
}

// FormatVisual adapts a scene's visual description to the provider that
// renders it.
func FormatVisual(visual, provider string) string {
	key := strings.ToLower(provider)

	if strings.Contains(key, "pixabay") {
		words := strings.Fields(visual)
		if len(words) > 5 {
			words = words[:5]
		}
		return fmt.Sprintf("Stock footage: %s | 4K, cinematic", strings.Join(words, ", "))
	}

	if prefix, ok := visualPrefixes[key]; ok {
		return fmt.Sprintf(prefix, visual)
	}
	return visual
}
