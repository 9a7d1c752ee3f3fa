// Package uploader publishes scheduled videos to the social platforms.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/pkg/util"
)

// Uploader publishes one scheduled upload and returns the provider response.
type Uploader interface {
	Slug() string
	Upload(ctx context.Context, upload *models.ScheduledUpload) (json.RawMessage, error)
}

// Manager resolves uploaders by platform slug.
type Manager struct {
	uploaders map[string]Uploader
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{uploaders: make(map[string]Uploader), logger: logger}
}

// NewManagerFromConfig registers every platform that has credentials.
func NewManagerFromConfig(ctx context.Context, cfg config.UploadConfig, store *storage.Local, logger *zap.Logger) (*Manager, error) {
	m := NewManager(logger)

	if cfg.YouTube.RefreshToken != "" {
		yt, err := NewYouTube(ctx, cfg.YouTube, store)
		if err != nil {
			return nil, err
		}
		if err := m.Register(yt); err != nil {
			return nil, err
		}
	}
	if cfg.TikTok.AccessToken != "" {
		if err := m.Register(NewTikTok(cfg.TikTok, store, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Instagram.AccessToken != "" {
		ig, err := NewInstagram(cfg.Instagram, logger)
		if err != nil {
			return nil, err
		}
		if err := m.Register(ig); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Register(u Uploader) error {
	slug := u.Slug()
	if _, exists := m.uploaders[slug]; exists {
		return fmt.Errorf("uploader for platform %s already registered", slug)
	}
	m.uploaders[slug] = u
	m.logger.Info("Uploader registered", zap.String("platform", slug))
	return nil
}

// Get returns the uploader for slug.
func (m *Manager) Get(slug string) (Uploader, bool) {
	u, ok := m.uploaders[slug]
	return u, ok
}

// Slugs lists registered platforms in name order.
func (m *Manager) Slugs() []string {
	slugs := make([]string, 0, len(m.uploaders))
	for slug := range m.uploaders {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Caption joins title, description and tags the way short-video platforms
// show them under the clip.
func Caption(u *models.ScheduledUpload) string {
	return util.JoinNonEmpty("\n\n", u.Title, u.Description, strings.Join(u.Tags, " "))
}
