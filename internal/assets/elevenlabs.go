package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
)

const elevenLabsMaxAttempts = 5

// Limiter bounds concurrent provider calls.
type Limiter interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// ElevenLabs synthesizes voiceovers with word level timestamps.
type ElevenLabs struct {
	cfg        config.ElevenLabsConfig
	store      *storage.Local
	limiter    Limiter
	httpClient *http.Client
	retryWait  time.Duration
	logger     *zap.Logger
}

func NewElevenLabs(cfg config.ElevenLabsConfig, store *storage.Local, limiter Limiter, logger *zap.Logger) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if cfg.DefaultVoiceID == "" {
		return nil, fmt.Errorf("elevenlabs default voice id is required")
	}
	return &ElevenLabs{
		cfg:        cfg,
		store:      store,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		retryWait:  time.Second,
		logger:     logger,
	}, nil
}

func (e *ElevenLabs) PlatformKey() string { return "elevenlabs" }

func (e *ElevenLabs) IsQueued() bool { return false }

func (e *ElevenLabs) CheckJobStatus(ctx context.Context, externalID string) (*JobStatus, error) {
	return &JobStatus{Done: true}, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
}

type ttsRequest struct {
	Text            string        `json:"text"`
	ModelID         string        `json:"model_id"`
	VoiceSettings   voiceSettings `json:"voice_settings"`
	PreviousText    string        `json:"previous_text"`
	NextText        string        `json:"next_text"`
	TimestampFormat string        `json:"timestamp_format"`
}

// Alignment is the per character timing returned with the audio.
type Alignment struct {
	Characters []string  `json:"characters"`
	Starts     []float64 `json:"character_start_times_seconds"`
	Ends       []float64 `json:"character_end_times_seconds"`
}

type ttsResponse struct {
	AudioBase64 string    `json:"audio_base64"`
	Alignment   Alignment `json:"alignment"`
}

func (e *ElevenLabs) Generate(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(ttsRequest{
		Text:    req.Text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			UseSpeakerBoost: e.cfg.SpeakerBoost,
			SimilarityBoost: e.cfg.SimilarityBoost,
			Style:           e.cfg.Style,
			Speed:           1.0,
		},
		PreviousText:    req.PreviousText,
		NextText:        req.NextText,
		TimestampFormat: "word",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}

	var body []byte
	call := func(ctx context.Context) error {
		body, err = e.post(ctx, payload)
		return err
	}
	if e.limiter != nil {
		err = e.limiter.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	var resp ttsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tts response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil || len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned no audio")
	}

	path := e.store.TempPath("audio_", "mp3")
	if err := e.store.PutBytes(path, audio); err != nil {
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}

	return &Result{
		ExternalID: "elevenLabs",
		FilePath:   path,
		Metadata:   models.AssetMetadata{WordAlignment: WordAlignment(resp.Alignment)},
	}, nil
}

func (e *ElevenLabs) post(ctx context.Context, payload []byte) ([]byte, error) {
	endpoint := strings.TrimRight(e.cfg.Endpoint, "/") + "/" + e.cfg.DefaultVoiceID + "/with-timestamps"

	var lastErr error
	for attempt := 1; attempt <= elevenLabsMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryWait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("xi-api-key", e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("failed to call elevenlabs: %w", err)
			e.logger.Warn("ElevenLabs request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read elevenlabs response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("elevenlabs API error [%d]: %s", resp.StatusCode, string(body))
			e.logger.Warn("ElevenLabs rate limited, retrying", zap.Int("attempt", attempt))
			continue
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("elevenlabs API error [%d]: %s", resp.StatusCode, string(body))
		}
		return body, nil
	}
	return nil, lastErr
}

// WordAlignment merges character timings into word timings. Spaces separate
// words; a word spans from its first character start to its last character end.
func WordAlignment(a Alignment) []models.WordTiming {
	var (
		words   []models.WordTiming
		current strings.Builder
		start   float64
		open    bool
	)
	n := len(a.Characters)
	if len(a.Starts) < n {
		n = len(a.Starts)
	}
	if len(a.Ends) < n {
		n = len(a.Ends)
	}

	for i := 0; i < n; i++ {
		ch := a.Characters[i]
		if strings.TrimSpace(ch) == "" {
			if open {
				words = append(words, models.WordTiming{Word: current.String(), StartTime: start, EndTime: a.Ends[i-1]})
				current.Reset()
				open = false
			}
			continue
		}
		if !open {
			start = a.Starts[i]
			open = true
		}
		current.WriteString(ch)
	}
	if open {
		words = append(words, models.WordTiming{Word: current.String(), StartTime: start, EndTime: a.Ends[n-1]})
	}
	return words
}
