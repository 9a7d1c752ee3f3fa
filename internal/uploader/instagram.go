package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
)

const (
	SlugInstagram = "instagram_reels"

	graphAPIBase     = "https://graph.facebook.com/v23.0"
	igPollInterval   = 5 * time.Second
	igMaxPollAttempt = 20
)

// Instagram publishes Reels through the Graph API container flow. The video
// must be reachable at PublicBaseURL for the Graph API to fetch it.
type Instagram struct {
	cfg          config.InstagramConfig
	apiBase      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewInstagram(cfg config.InstagramConfig, logger *zap.Logger) (*Instagram, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("instagram user_id is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("instagram public_base_url is required")
	}
	return &Instagram{
		cfg:          cfg,
		apiBase:      graphAPIBase,
		pollInterval: igPollInterval,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		logger:       logger,
	}, nil
}

func (i *Instagram) Slug() string { return SlugInstagram }

func (i *Instagram) Upload(ctx context.Context, upload *models.ScheduledUpload) (json.RawMessage, error) {
	videoURL := strings.TrimRight(i.cfg.PublicBaseURL, "/") + "/" + strings.TrimLeft(upload.FilePath, "/")

	var container struct {
		ID string `json:"id"`
	}
	if err := i.post(ctx, "/"+i.cfg.UserID+"/media", map[string]any{
		"media_type":   "REELS",
		"video_url":    videoURL,
		"caption":      Caption(upload),
		"access_token": i.cfg.AccessToken,
	}, &container); err != nil {
		return nil, fmt.Errorf("failed to create instagram video container: %w", err)
	}
	if container.ID == "" {
		return nil, fmt.Errorf("failed to create instagram video container: empty id")
	}

	status, err := i.waitForContainer(ctx, container.ID)
	if err != nil {
		return nil, err
	}
	if status != "FINISHED" {
		return nil, fmt.Errorf("video processing failed (status: %s). Details: %s", status, i.errorDetails(ctx, container.ID))
	}

	var published json.RawMessage
	if err := i.post(ctx, "/"+i.cfg.UserID+"/media_publish", map[string]any{
		"creation_id":  container.ID,
		"access_token": i.cfg.AccessToken,
	}, &published); err != nil {
		return nil, fmt.Errorf("failed to publish instagram media: %w", err)
	}
	return published, nil
}

func (i *Instagram) waitForContainer(ctx context.Context, id string) (string, error) {
	status := ""
	for attempt := 0; attempt < igMaxPollAttempt; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(i.pollInterval):
		}

		var body struct {
			StatusCode string `json:"status_code"`
		}
		if err := i.get(ctx, "/"+id, "status_code", &body); err != nil {
			return "", fmt.Errorf("failed to check instagram container status: %w", err)
		}
		if body.StatusCode == "" {
			return "", fmt.Errorf("failed to check instagram container status: empty status")
		}
		status = body.StatusCode
		i.logger.Info("Instagram container status", zap.String("container", id), zap.String("status", status))
		if status == "FINISHED" || status == "ERROR" {
			break
		}
	}
	return status, nil
}

func (i *Instagram) errorDetails(ctx context.Context, id string) string {
	var body struct {
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
		ErrorMessage string `json:"error_message"`
		FailureCode  string `json:"failure_code"`
	}
	if err := i.get(ctx, "/"+id, "status_code,status,id", &body); err != nil {
		return err.Error()
	}
	if body.Error != nil {
		return fmt.Sprintf("OAuthException (code %d): %s", body.Error.Code, body.Error.Message)
	}
	return fmt.Sprintf("Code: %s, Message: %s", body.FailureCode, body.ErrorMessage)
}

func (i *Instagram) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return i.do(req, out)
}

func (i *Instagram) get(ctx context.Context, path, fields string, out any) error {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("access_token", i.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return i.do(req, out)
}

func (i *Instagram) do(req *http.Request, out any) error {
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph API returned %d: %s", resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}
