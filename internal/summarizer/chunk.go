package summarizer

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const abbrMarker = "<ABBR>"

var (
	abbreviations = []string{"Mr", "Mrs", "Dr", "Ms", "Prof", "Sr", "Jr", "e.g", "i.e"}
	abbrPatterns  = compileAbbreviations(abbreviations)
	sentenceEndRe = regexp.MustCompile(`[.?!]\s+`)
)

func compileAbbreviations(list []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(list))
	for _, a := range list {
		out = append(out, regexp.MustCompile(`\b`+regexp.QuoteMeta(a)+`\.`))
	}
	return out
}

// ApproxTokens estimates the token count from the rune length.
func ApproxTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

// ChunkText splits text on sentence boundaries into pieces of at most
// maxChars runes. Sentences longer than maxChars are hard-split.
func ChunkText(text string, maxChars int) []string {
	for i, re := range abbrPatterns {
		text = re.ReplaceAllLiteralString(text, abbreviations[i]+abbrMarker)
	}

	var chunks []string
	current := ""
	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(strings.ReplaceAll(sentence, abbrMarker, "."))
		if sentence == "" {
			continue
		}

		if utf8.RuneCountInString(current)+utf8.RuneCountInString(sentence)+1 <= maxChars {
			if current != "" {
				current += " "
			}
			current += sentence
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}
		if utf8.RuneCountInString(sentence) > maxChars {
			chunks = append(chunks, hardSplit(sentence, maxChars)...)
			current = ""
		} else {
			current = sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		// keep the punctuation, drop the whitespace
		out = append(out, text[start:loc[0]+1])
		start = loc[1]
	}
	return append(out, text[start:])
}

func hardSplit(s string, maxChars int) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
