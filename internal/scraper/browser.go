package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// RenderFunc returns the rendered HTML of a page.
type RenderFunc func(ctx context.Context, url string) (string, error)

// BrowserFallback retries short extractions in a headless browser.
type BrowserFallback struct {
	next   Scraper
	render RenderFunc
	logger *zap.Logger
}

func NewWithBrowserFallback(next Scraper, timeout time.Duration, logger *zap.Logger) *BrowserFallback {
	return &BrowserFallback{
		next:   next,
		render: func(ctx context.Context, url string) (string, error) { return RenderWithBrowser(ctx, url, timeout) },
		logger: logger,
	}
}

func (b *BrowserFallback) Scrape(ctx context.Context, pageURL string) (*Article, error) {
	article, err := b.next.Scrape(ctx, pageURL)
	if err == nil && len(strings.TrimSpace(article.Text)) >= MinContentLength {
		return article, nil
	}

	b.logger.Info("Falling back to headless browser", zap.String("url", pageURL), zap.Error(err))
	html, rerr := b.render(ctx, pageURL)
	if rerr != nil {
		if err != nil {
			return nil, err
		}
		b.logger.Warn("Browser rendering failed, keeping short extraction", zap.String("url", pageURL), zap.Error(rerr))
		return article, nil
	}

	rendered, xerr := Extract(pageURL, html)
	if xerr != nil {
		return nil, xerr
	}
	if article != nil && len(rendered.Text) < len(article.Text) {
		return article, nil
	}
	return rendered, nil
}

// RenderWithBrowser loads the page in headless Chrome and returns its HTML.
func RenderWithBrowser(ctx context.Context, pageURL string, timeout time.Duration) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(userAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, defaultTimeout(timeout))
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", &Error{URL: pageURL, Message: "browser rendering failed", Cause: err}
	}
	if html == "" {
		return "", fmt.Errorf("browser returned an empty document for %s", pageURL)
	}
	return html, nil
}
