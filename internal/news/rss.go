package news

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/ifuryst/quickbyte/internal/config"
)

type RSS struct {
	cfg    config.NewsSourceConfig
	parser *gofeed.Parser
}

func NewRSS(cfg config.NewsSourceConfig) *RSS {
	parser := gofeed.NewParser()
	parser.UserAgent = "QuickByte/1.0"
	return &RSS{cfg: cfg, parser: parser}
}

func (r *RSS) Name() string { return r.cfg.Name }

func (r *RSS) Fetch(ctx context.Context) ([]Item, error) {
	var items []Item
	for _, feedURL := range r.cfg.Feeds {
		feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
		}
		items = append(items, r.itemsFrom(feed)...)
	}
	return items, nil
}

func (r *RSS) itemsFrom(feed *gofeed.Feed) []Item {
	limit := r.cfg.Limit
	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		description := it.Description
		if description == "" {
			description = it.Content
		}
		items = append(items, Item{
			Source:      clean(feed.Title),
			Title:       clean(it.Title),
			Description: clean(description),
			URL:         it.Link,
			Category:    r.cfg.Category,
		})
	}
	return items
}
