// Package summarizer condenses article text, recursively chunking inputs
// that exceed the backend's token window.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
)

const (
	charsPerToken = 4
	maxRecursion  = 3
	// A pass that shrinks the text by less than this ratio stops recursing.
	shrinkRatio = 0.8
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Backend summarizes a single chunk that fits the token window.
type Backend interface {
	Name() string
	SummarizeChunk(ctx context.Context, text string) (string, error)
}

// Chunked applies the recursive map-reduce over a Backend.
type Chunked struct {
	backend   Backend
	maxTokens int
	logger    *zap.Logger
}

func NewChunked(backend Backend, maxTokens int, logger *zap.Logger) *Chunked {
	return &Chunked{backend: backend, maxTokens: maxTokens, logger: logger}
}

// New builds the configured backend wrapped in the chunking strategy.
func New(ctx context.Context, cfg config.SummarizerConfig, logger *zap.Logger) (*Chunked, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case "huggingface":
		if cfg.HuggingFace.APIKey == "" {
			return nil, fmt.Errorf("huggingface api key is required")
		}
		backend = NewHuggingFace(cfg.HuggingFace, cfg.MaxTokens, logger)
	case "ollama":
		backend, err = NewOllama(cfg.Ollama)
	case "gemini":
		backend, err = NewGemini(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unknown summarizer driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewChunked(backend, cfg.MaxTokens, logger), nil
}

func (c *Chunked) Summarize(ctx context.Context, text string) (string, error) {
	return c.summarize(ctx, text, 0)
}

func (c *Chunked) summarize(ctx context.Context, text string, depth int) (string, error) {
	if depth > maxRecursion {
		return strings.TrimSpace(text), nil
	}

	tokens := ApproxTokens(text)
	if tokens <= c.maxTokens {
		return c.backend.SummarizeChunk(ctx, text)
	}

	chunks := ChunkText(text, c.maxTokens*charsPerToken)
	c.logger.Debug("Summarizing in chunks",
		zap.String("backend", c.backend.Name()),
		zap.Int("depth", depth),
		zap.Int("tokens", tokens),
		zap.Int("chunks", len(chunks)))

	summaries := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s, err := c.summarize(ctx, chunk, depth+1)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, s)
	}

	combined := strings.Join(summaries, "\n\n")
	if float64(ApproxTokens(combined)) >= float64(tokens)*shrinkRatio {
		return combined, nil
	}
	return c.summarize(ctx, combined, depth+1)
}
