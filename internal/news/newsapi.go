package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ifuryst/quickbyte/internal/config"
)

type NewsAPI struct {
	cfg        config.NewsSourceConfig
	httpClient *http.Client
}

func NewNewsAPI(cfg config.NewsSourceConfig) *NewsAPI {
	return &NewsAPI{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (n *NewsAPI) Name() string { return n.cfg.Name }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"articles"`
}

func (n *NewsAPI) Fetch(ctx context.Context) ([]Item, error) {
	q := url.Values{}
	q.Set("category", n.cfg.Category)
	q.Set("language", "en")
	q.Set("apiKey", n.cfg.APIKey)
	q.Set("pageSize", strconv.Itoa(n.cfg.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call news API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read news API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode news API response: %w", err)
	}

	items := make([]Item, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		source := a.Source.Name
		if source == "" {
			source = "Unknown Source"
		}
		items = append(items, Item{
			Source:      clean(source),
			Title:       clean(a.Title),
			Description: clean(a.Description),
			URL:         a.URL,
			Category:    n.cfg.Category,
		})
	}
	return items, nil
}
