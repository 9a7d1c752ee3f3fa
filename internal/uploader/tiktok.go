package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
)

const (
	SlugTikTok = "tiktok"

	tiktokAPIBase        = "https://open.tiktokapis.com"
	minChunkSize         = 5 * 1024 * 1024
	maxChunkSize         = 64 * 1024 * 1024
	maxChunks            = 1000
	singleChunkThreshold = 10 * 1024 * 1024
)

// TikTok posts videos through the Content Posting API file upload flow.
type TikTok struct {
	cfg        config.TikTokConfig
	store      *storage.Local
	apiBase    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewTikTok(cfg config.TikTokConfig, store *storage.Local, logger *zap.Logger) *TikTok {
	return &TikTok{
		cfg:        cfg,
		store:      store,
		apiBase:    tiktokAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

func (t *TikTok) Slug() string { return SlugTikTok }

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *TikTok) Upload(ctx context.Context, upload *models.ScheduledUpload) (json.RawMessage, error) {
	if t.cfg.AccessToken == "" {
		return nil, fmt.Errorf("missing tiktok access token")
	}

	f, err := os.Open(t.store.Path(upload.FilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat video: %w", err)
	}
	size := info.Size()
	chunkSize, total := ChunkParameters(size, t.cfg.ChunkSize)

	initBody := map[string]any{
		"post_info": map[string]any{
			"title":         Caption(upload),
			"privacy_level": "SELF_ONLY",
			"is_aigc":       true,
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        size,
			"chunk_size":        chunkSize,
			"total_chunk_count": total,
		},
	}
	raw, err := t.postJSON(ctx, "/v2/post/publish/video/init/", initBody)
	if err != nil {
		return nil, fmt.Errorf("tiktok init failed: %w", err)
	}
	var init tiktokInitResponse
	if err := json.Unmarshal(raw, &init); err != nil {
		return nil, fmt.Errorf("failed to decode tiktok init response: %w", err)
	}
	if init.Data.UploadURL == "" {
		return nil, fmt.Errorf("tiktok init failed: %s", string(raw))
	}
	if init.Data.PublishID == "" {
		return nil, fmt.Errorf("missing publish_id for finalization")
	}

	buf := make([]byte, chunkSize)
	var start int64
	for start < size {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("failed to read video: %w", err)
		}
		if n == 0 {
			break
		}
		if err := t.putChunk(ctx, init.Data.UploadURL, buf[:n], start, size); err != nil {
			return nil, err
		}
		start += int64(n)
		t.logger.Debug("TikTok upload progress", zap.Int64("uploaded", start), zap.Int64("size", size))
	}

	status, err := t.postJSON(ctx, "/v2/post/publish/status/fetch/", map[string]string{"publish_id": init.Data.PublishID})
	if err != nil {
		return nil, fmt.Errorf("tiktok status fetch failed: %w", err)
	}
	return status, nil
}

// ChunkParameters returns the chunk size and count for a file. Small files go
// in one chunk; larger ones use the configured size clamped to the API range.
func ChunkParameters(size, configured int64) (int64, int64) {
	if size <= singleChunkThreshold {
		return size, 1
	}
	chunk := clamp(configured, minChunkSize, maxChunkSize)
	total := ceilDiv(size, chunk)
	if total > maxChunks {
		chunk = clamp(ceilDiv(size, maxChunks), minChunkSize, maxChunkSize)
		total = ceilDiv(size, chunk)
	}
	return chunk, total
}

func (t *TikTok) putChunk(ctx context.Context, uploadURL string, data []byte, start, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create chunk request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+int64(len(data))-1, size))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload chunk: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tiktok chunk upload returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (t *TikTok) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
