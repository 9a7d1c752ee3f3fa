// Package news fetches headline candidates from the configured sources.
package news

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
)

// Item is one headline candidate before classification.
type Item struct {
	Source      string `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Category    string `json:"category"`
}

type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Item, error)
}

// Factory builds a source from its configuration.
type Factory func(cfg config.NewsSourceConfig) (Source, error)

var factories = map[string]Factory{
	"newsapi": func(cfg config.NewsSourceConfig) (Source, error) { return NewNewsAPI(cfg), nil },
	"rss":     func(cfg config.NewsSourceConfig) (Source, error) { return NewRSS(cfg), nil },
	"reddit":  func(cfg config.NewsSourceConfig) (Source, error) { return NewReddit(cfg) },
}

var sanitizer = bluemonday.StrictPolicy()

func clean(s string) string {
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

// Fetcher collects items from every enabled source.
type Fetcher struct {
	sources []Source
	logger  *zap.Logger
}

// NewFetcher builds the enabled sources in configuration order.
func NewFetcher(cfg config.NewsConfig, logger *zap.Logger) (*Fetcher, error) {
	f := &Fetcher{logger: logger}
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		factory, ok := factories[sc.Driver]
		if !ok {
			return nil, fmt.Errorf("unknown news driver %q for source %s", sc.Driver, sc.Name)
		}
		src, err := factory(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create news source %s: %w", sc.Name, err)
		}
		f.sources = append(f.sources, src)
	}
	return f, nil
}

// NewFetcherWithSources is used when sources are built by the caller.
func NewFetcherWithSources(logger *zap.Logger, sources ...Source) *Fetcher {
	return &Fetcher{sources: sources, logger: logger}
}

// Sources returns the names of the active sources.
func (f *Fetcher) Sources() []string {
	names := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		names = append(names, s.Name())
	}
	return names
}

// FetchAll merges the items of every source. A failing source is logged and
// skipped; the call fails only when every source failed.
func (f *Fetcher) FetchAll(ctx context.Context) ([]Item, error) {
	var (
		items    []Item
		failures int
		lastErr  error
	)
	seen := map[string]bool{}

	for _, src := range f.sources {
		fetched, err := src.Fetch(ctx)
		if err != nil {
			failures++
			lastErr = err
			f.logger.Error("Failed to fetch news", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, item := range fetched {
			if item.Title == "" || item.URL == "" || seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			items = append(items, item)
		}
		f.logger.Info("Fetched news", zap.String("source", src.Name()), zap.Int("count", len(fetched)))
	}

	if failures > 0 && failures == len(f.sources) {
		return nil, fmt.Errorf("all news sources failed: %w", lastErr)
	}
	return items, nil
}
