package prompt

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ifuryst/quickbyte/pkg/util"
)

const (
	ChatEndpoint      = "/v1/chat/completions"
	EmbeddingEndpoint = "/v1/embeddings"

	maxDescriptionLength = 1000
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Messages       []Message       `json:"messages"`
}

type EmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// Candidate is a fetched news item offered to the classifier.
type Candidate struct {
	Source      string `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Category    string `json:"category"`
}

var strict = bluemonday.StrictPolicy()

// Classification builds the request that selects the most renderable items
// from a chunk of candidates.
func Classification(model string, candidates []Candidate, selectCount int) ChatRequest {
	return ChatRequest{
		Model:       model,
		Temperature: 0.2,
		Messages: []Message{
			{Role: "system", Content: classificationSystem(selectCount)},
			{Role: "user", Content: classificationUser(candidates, selectCount)},
		},
	}
}

func classificationSystem(selectCount int) string {
	var b strings.Builder
	b.WriteString("You are a tech news classification assistant (evaluator).\n")
	b.WriteString("Strict Rules:\n")
	b.WriteString(" - JSON Only: Output MUST be valid JSON; no markdown or extra text.\n")
	b.WriteString(" - Exact Content: Preserve all fields ('source','title','description','url','category') exactly as provided.\n")
	b.WriteString(" - No Commentary: Do NOT add any explanations, reasoning, or commentary.\n")
	fmt.Fprintf(&b, " - Fixed Selection: Select exactly %d articles (no more, no less).\n", selectCount)
	b.WriteString(" - Renderable Subjects Only: Skip any story featuring a recognizable person, trademarked logo, fictional character, brand-specific UI, or anything our engine can't safely depict generically.\n")
	b.WriteString("\nEnsure the output is a JSON array of objects with exactly these five keys in this order: 'source', 'title', 'description', 'url', 'category'.\n")
	b.WriteString("Do not alter, truncate, normalize, or append anything to the field values.")
	return b.String()
}

func classificationUser(candidates []Candidate, selectCount int) string {
	var b strings.Builder
	b.WriteString("Below is a list of tech news articles with full metadata.\n")
	b.WriteString("### Instructions:\n")
	fmt.Fprintf(&b, "- Select exactly %d articles from the list below.\n", selectCount)
	b.WriteString("- Preserve all provided fields exactly as is.\n\n")

	for i, c := range candidates {
		description := util.Truncate(strict.Sanitize(c.Description), maxDescriptionLength, "...")
		fmt.Fprintf(&b, "### Article %d\n", i)
		fmt.Fprintf(&b, "source: %q\n", strict.Sanitize(c.Source))
		fmt.Fprintf(&b, "title: %q\n", strict.Sanitize(c.Title))
		fmt.Fprintf(&b, "description: %q\n", description)
		fmt.Fprintf(&b, "url: %q\n", sanitizeURL(c.URL))
		fmt.Fprintf(&b, "category: %q\n\n", strict.Sanitize(c.Category))
	}

	b.WriteString("Please output ONLY a JSON array of objects with the keys 'source', 'title', 'description', 'url', and 'category'.")
	b.WriteString(" Do not include any extra text or explanation.")
	return b.String()
}

func sanitizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.String()
}

// Embedding builds the request embedding a news item's title and description.
func Embedding(model, title, description string) EmbeddingRequest {
	return EmbeddingRequest{
		Model: model,
		Input: title + "\n\n" + description,
	}
}

// Script builds the request that turns an article summary into a four scene
// video script.
func Script(model, title, summary string, musicCategories, soundEffects []string) ChatRequest {
	return ChatRequest{
		Model:          model,
		Temperature:    0.2,
		MaxTokens:      1700,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Messages: []Message{
			{Role: "system", Content: scriptSystem(strings.Join(musicCategories, "|"), strings.Join(soundEffects, "|"))},
			{Role: "user", Content: fmt.Sprintf("Article: %s\nSummary: %s\nExtract 4 key points for video scenes", title, summary)},
		},
	}
}

func scriptSystem(musicCategories, sfx string) string {
	return `- You are an AI assistant that generates short, vertical news-style video scripts in JSON format, optimized for social media (TikTok, Reels, Shorts). The output must be valid JSON only (no markdown or extra text).
- Format: JSON with keys "metadata", "hook", "scenes", and "background_music".
- "metadata": object including:
    - "title": concise video title (<=50 chars).
    - "description": SEO-friendly description of the article.
    - "hashtags": array of relevant hashtags (e.g. ["#news", "#topic"]).
- "hook": a catchy opening sentence to grab attention.
- "scenes": an array of exactly 4 scene objects. Each scene must include:
    - "headline": a brief, bold headline string summarizing the scene (engaging, emotive language).
    - "visual": one continuous, richly detailed description string for an AI video generator. Include shot type, camera movement, lens choice, framing, pacing, lighting, ambiance, color palette, key props or characters, and any motion-graphic cues, tailored for a vertical (9:16) composition, focusing on posture, clothing, and motion without fine facial detail.
    - "voiceover": energetic, natural narration like a lively news host. Use occasional <break time="200ms"/> for pacing, CAPITALIZE key words for emphasis, avoid robotic patterns.
    - "transition": exactly one transition name from FFmpeg's xfade list (for example fade, wipeleft, slideright, circleopen, pixelize, radial). Return only the name.
    - "sound_effect": exactly one of the following SFX, returned verbatim: ` + sfx + `
- "background_music": the overall music mood, one of: ` + musicCategories + `
- Tone and Style:
    - Dynamic and emotionally engaging. Use active voice and vivid, concise language.
    - Keep narration concise (about 1-2 short sentences per scene).
    - Maintain a coherent narrative across scenes.
- Output Requirements:
    - Only output the JSON object with the structure above. Do not include explanations, notes, or code blocks.
    - Use double quotes for JSON keys and string values. Ensure the JSON is well-formed.`
}
