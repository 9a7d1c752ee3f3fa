package media

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ifuryst/quickbyte/internal/models"
)

const highlightColor = "&H00FFFF&"

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	captionBadRe = regexp.MustCompile(`[^\p{L}\p{N}\- ]+`)
	captionRunRe = regexp.MustCompile(`[ \-]{2,}`)
	dashReplacer = strings.NewReplacer("—", "-", "–", "-", "−", "-", "‐", "-", "‑", "-")
)

// SubtitleBuilder renders word level ASS captions for a 1080x1920 frame.
type SubtitleBuilder struct {
	FontName string
	Color    string
}

func NewSubtitleBuilder(fontName, color string) *SubtitleBuilder {
	if fontName == "" {
		fontName = "a Atomic Md"
	}
	if color == "" {
		color = "&H00FFFFFF"
	}
	return &SubtitleBuilder{FontName: fontName, Color: color}
}

// Build returns the ASS document with one dialogue event per word, shifted
// by offset seconds.
func (b *SubtitleBuilder) Build(words []models.WordTiming, offset float64) string {
	var sb strings.Builder
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	sb.WriteString("PlayResX: 1080\nPlayResY: 1920\nTimer: 100.0000\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name,Fontname,Fontsize,PrimaryColour,OutlineColour,BackColour,Bold,Italic,")
	sb.WriteString("BorderStyle,Outline,Shadow,Alignment,MarginL,MarginR,MarginV,Encoding\n")
	fmt.Fprintf(&sb, "Style: Base,%s,100,%s,&H00000000&,&H00000000&,1,0,1,4,0,5,0,0,0,1\n\n", b.FontName, b.Color)

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer,Start,End,Style,Name,MarginL,MarginR,MarginV,Effect,Text\n")

	tags := b.overrideTags()
	for _, w := range SceneTimeline(words, offset) {
		text := strings.ToUpper(CaptionText(w.Word))
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Base,,0,0,0,,%s%s\n", FormatASSTime(w.StartTime), FormatASSTime(w.EndTime), tags, text)
	}
	return sb.String()
}

// scale-in from 80% with a colour sweep to the highlight colour
func (b *SubtitleBuilder) overrideTags() string {
	return `{\an5\bord5\shad0\alpha&H00&\t(1000,2000,\c` + b.Color + `,\c` + highlightColor + `)\fscx80\fscy80\t(\fscx100\fscy100)}`
}

// FormatASSTime renders seconds as H:MM:SS.CC.
func FormatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int64(math.Floor(seconds*100 + 1e-6))
	h := cs / 360000
	m := (cs / 6000) % 60
	s := (cs / 100) % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

// CaptionText strips markup and punctuation from a caption word.
func CaptionText(word string) string {
	clean := tagRe.ReplaceAllString(word, "")
	clean = dashReplacer.Replace(clean)
	clean = captionBadRe.ReplaceAllString(clean, "")
	clean = captionRunRe.ReplaceAllString(clean, "-")
	return strings.Trim(clean, " -")
}
