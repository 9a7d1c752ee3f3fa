package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
)

const hfMaxRetries = 3

// HuggingFace calls the hosted inference API of a summarization model.
type HuggingFace struct {
	cfg        config.HuggingFaceConfig
	maxTokens  int
	httpClient *http.Client
	backoff    time.Duration
	logger     *zap.Logger
}

func NewHuggingFace(cfg config.HuggingFaceConfig, maxTokens int, logger *zap.Logger) *HuggingFace {
	return &HuggingFace{
		cfg:        cfg,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		backoff:    time.Second,
		logger:     logger,
	}
}

func (h *HuggingFace) Name() string { return "huggingface" }

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxLength    int  `json:"max_length"`
	MinLength    int  `json:"min_length"`
	DoSample     bool `json:"do_sample"`
	MaxNewTokens int  `json:"max_new_tokens"`
}

func (h *HuggingFace) SummarizeChunk(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(hfRequest{
		Inputs: text,
		Parameters: hfParameters{
			MaxLength:    h.cfg.MaxLength,
			MinLength:    h.cfg.MinLength,
			MaxNewTokens: h.maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := strings.TrimRight(h.cfg.BaseURL, "/") + "/models/" + h.cfg.Model

	var (
		status int
		body   []byte
	)
	for attempt := 0; attempt < hfMaxRetries; attempt++ {
		if attempt > 0 {
			wait := h.backoff * time.Duration(1<<(attempt-1))
			h.logger.Warn("Hugging Face rate limited, backing off", zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		status, body, err = h.post(ctx, endpoint, payload)
		if err != nil {
			return "", err
		}
		if status != http.StatusTooManyRequests {
			break
		}
	}

	if status < 200 || status >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return "", fmt.Errorf("hugging face API error: %s", msg)
	}

	var result []struct {
		SummaryText string `json:"summary_text"`
	}
	if err := json.Unmarshal(body, &result); err != nil || len(result) == 0 || result[0].SummaryText == "" {
		return "", fmt.Errorf("empty or invalid summary received")
	}
	return result[0].SummaryText, nil
}

func (h *HuggingFace) post(ctx context.Context, endpoint string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to call hugging face: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
