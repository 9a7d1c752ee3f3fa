package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ifuryst/quickbyte/internal/config"
)

// ScrapeDo fetches pages through the scrape.do proxy API.
type ScrapeDo struct {
	cfg        config.ScrapeDoConfig
	httpClient *http.Client
}

func NewScrapeDo(cfg config.ScrapeDoConfig, timeout time.Duration) *ScrapeDo {
	return &ScrapeDo{cfg: cfg, httpClient: &http.Client{Timeout: defaultTimeout(timeout)}}
}

func (s *ScrapeDo) Scrape(ctx context.Context, pageURL string) (*Article, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("token", s.cfg.APIKey)

	html, err := get(ctx, s.httpClient, s.cfg.BaseURL+"?"+q.Encode(), pageURL)
	if err != nil {
		return nil, err
	}
	return Extract(pageURL, html)
}

// Direct fetches pages without a proxy.
type Direct struct {
	httpClient *http.Client
}

func NewDirect(timeout time.Duration) *Direct {
	return &Direct{httpClient: &http.Client{Timeout: defaultTimeout(timeout)}}
}

func (d *Direct) Scrape(ctx context.Context, pageURL string) (*Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: pageURL, Message: "invalid URL", Cause: err}
	}

	html, err := get(ctx, d.httpClient, pageURL, pageURL)
	if err != nil {
		return nil, err
	}
	return Extract(pageURL, html)
}

func get(ctx context.Context, client *http.Client, requestURL, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", &Error{URL: pageURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{URL: pageURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{URL: pageURL, Message: "failed to read response body", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{URL: pageURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	return string(body), nil
}
