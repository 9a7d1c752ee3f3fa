// Package scraper downloads news articles and extracts their readable text.
package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
)

// MinContentLength is the extracted text length below which a page is
// treated as client-side rendered.
const MinContentLength = 500

const userAgent = "Mozilla/5.0 (compatible; QuickByte/1.0)"

type Article struct {
	Title string
	Text  string
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (*Article, error)
}

// Error is returned for any failure while scraping a URL.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scrape error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("scrape error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds the configured scraper, wrapped with the headless browser
// fallback when enabled.
func New(cfg config.ScraperConfig, logger *zap.Logger) (Scraper, error) {
	timeout := config.MustDuration(cfg.Timeout)

	var s Scraper
	switch cfg.Driver {
	case "scrapedo":
		if cfg.ScrapeDo.APIKey == "" {
			return nil, fmt.Errorf("scrapedo api key is required")
		}
		s = NewScrapeDo(cfg.ScrapeDo, timeout)
	case "direct":
		s = NewDirect(timeout)
	default:
		return nil, fmt.Errorf("unknown scraper driver %q", cfg.Driver)
	}

	if cfg.BrowserFallback {
		s = NewWithBrowserFallback(s, timeout, logger)
	}
	return s, nil
}

var (
	contentSelectors = []string{"main", "article", ".content", "#content", ".main-content", ".article-body"}
	noiseSelector    = "nav, footer, header, aside, script, style, noscript, iframe, form, .ad, .ads, .advertisement, .sidebar, .cookie-banner, .newsletter, .popup"

	symbolsRe    = regexp.MustCompile(`[\p{So}\p{C}]+`)
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}\s.,\-:;()'"]+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Extract parses an HTML document into an article.
func Extract(pageURL, html string) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &Error{URL: pageURL, Message: "failed to parse HTML", Cause: err}
	}

	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find(noiseSelector).Remove()

	var main *goquery.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			main = sel.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	var parts []string
	main.Find("h1, h2, h3, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	text := strings.Join(parts, " ")
	if strings.TrimSpace(text) == "" {
		text = main.Text()
	}

	return &Article{Title: CleanText(title), Text: CleanText(text)}, nil
}

// CleanText drops symbols and control characters, keeps basic punctuation
// and collapses whitespace.
func CleanText(text string) string {
	text = spaceRe.ReplaceAllString(text, " ")
	text = symbolsRe.ReplaceAllString(text, "")
	text = disallowedRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
