package news

import (
	"context"
	"fmt"
	"strings"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/ifuryst/quickbyte/internal/config"
)

// Reddit reads hot posts of a subreddit without authentication.
type Reddit struct {
	cfg    config.NewsSourceConfig
	client *reddit.Client
}

func NewReddit(cfg config.NewsSourceConfig) (*Reddit, error) {
	if cfg.Subreddit == "" {
		return nil, fmt.Errorf("subreddit is required")
	}
	opts := []reddit.Opt{}
	if cfg.BaseURL != "" {
		opts = append(opts, reddit.WithBaseURL(cfg.BaseURL))
	}
	client, err := reddit.NewReadonlyClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create reddit client: %w", err)
	}
	return &Reddit{cfg: cfg, client: client}, nil
}

func (r *Reddit) Name() string { return r.cfg.Name }

func (r *Reddit) Fetch(ctx context.Context) ([]Item, error) {
	posts, _, err := r.client.Subreddit.HotPosts(ctx, r.cfg.Subreddit, &reddit.ListOptions{Limit: r.cfg.Limit})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch r/%s: %w", r.cfg.Subreddit, err)
	}
	return postsToItems(posts, r.cfg.Subreddit, r.cfg.Category), nil
}

func postsToItems(posts []*reddit.Post, subreddit, category string) []Item {
	items := make([]Item, 0, len(posts))
	for _, p := range posts {
		if p == nil {
			continue
		}
		link := p.URL
		// Self posts link back to reddit; the permalink is more stable.
		if link == "" || strings.Contains(link, "reddit.com/r/") {
			link = "https://www.reddit.com" + p.Permalink
		}
		items = append(items, Item{
			Source:      "r/" + subreddit,
			Title:       clean(p.Title),
			Description: clean(p.Body),
			URL:         link,
			Category:    category,
		})
	}
	return items
}
