package summarizer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/ifuryst/quickbyte/internal/config"
)

const summaryPrompt = `Summarize the following news article in one concise paragraph of plain prose. Keep names, numbers and dates exact. Do not add commentary.

Article:
%s`

type Ollama struct {
	client *api.Client
	model  string
}

func NewOllama(cfg config.OllamaConfig) (*Ollama, error) {
	var client *api.Client
	if cfg.BaseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %w", err)
		}
		client = api.NewClient(u, nil)
	}
	return &Ollama{client: client, model: cfg.Model}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) SummarizeChunk(ctx context.Context, text string) (string, error) {
	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(summaryPrompt, text),
		Stream: new(bool),
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama summarization failed: %w", err)
	}

	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", fmt.Errorf("empty or invalid summary received")
	}
	return summary, nil
}
