// Package prompt builds the LLM request bodies and formats generated text for
// the voice and video providers.
package prompt

import (
	"regexp"
	"strings"
	"unicode"
)

const baseWordsPerMinute = 150

type ssmlTerm struct {
	pattern     *regexp.Regexp
	replacement string
}

var ssmlTerms = func() []ssmlTerm {
	terms := []struct{ term, replacement string }{
		{"ERM", `<say-as interpret-as="characters">ERM</say-as>`},
		{"LRA", `<say-as interpret-as="characters">LRA</say-as>`},
		{"PWM", `<say-as interpret-as="characters">PWM</say-as>`},
		{"DC", `<say-as interpret-as="characters">DC</say-as>`},
		{"AC", `<say-as interpret-as="characters">AC</say-as>`},
		{"Hz", "Hertz"},
		{"kHz", "kilohertz"},
	}
	out := make([]ssmlTerm, 0, len(terms))
	for _, t := range terms {
		out = append(out, ssmlTerm{
			pattern:     regexp.MustCompile(`\b` + regexp.QuoteMeta(t.term) + `\b`),
			replacement: t.replacement,
		})
	}
	return out
}()

var (
	breakTagPattern = regexp.MustCompile(`<break time="[\d.]+m?s"\s*/>`)
	anyTagPattern   = regexp.MustCompile(`<[^>]+>`)
	shortPausePunct = regexp.MustCompile(`[.!?;]`)
)

// ApplySSML replaces technical terms with their spoken form and returns the
// text with its estimated speaking time in seconds.
func ApplySSML(text string) (string, float64) {
	for _, t := range ssmlTerms {
		text = t.pattern.ReplaceAllString(text, t.replacement)
	}
	return text, EstimateDuration(CleanVoiceover(text), 1.0)
}

// CleanVoiceover drops break tags, leaving the rest of the markup intact.
func CleanVoiceover(text string) string {
	return strings.TrimSpace(breakTagPattern.ReplaceAllString(text, ""))
}

// EstimateDuration estimates narration time at 150 wpm scaled by speed, plus
// 0.3s per sentence stop and 0.5s per colon.
func EstimateDuration(text string, speed float64) float64 {
	plain := anyTagPattern.ReplaceAllString(text, " ")
	words := countWords(plain)

	wpm := baseWordsPerMinute * speed
	if wpm < 1 {
		wpm = 1
	}
	read := float64(words) / wpm * 60

	shortBreaks := len(shortPausePunct.FindAllStringIndex(plain, -1))
	longBreaks := strings.Count(plain, ":")
	return read + float64(shortBreaks)*0.3 + float64(longBreaks)*0.5
}

func countWords(text string) int {
	count := 0
	for _, field := range strings.Fields(text) {
		if strings.IndexFunc(field, unicode.IsLetter) >= 0 {
			count++
		}
	}
	return count
}
