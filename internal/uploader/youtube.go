package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/pkg/util"
)

const (
	SlugYouTube = "youtube"

	youtubeChunkSize = 1024 * 1024
)

// YouTube uploads shorts through the Data API v3 resumable upload.
type YouTube struct {
	cfg   config.YouTubeConfig
	svc   *youtube.Service
	store *storage.Local
}

func NewYouTube(ctx context.Context, cfg config.YouTubeConfig, store *storage.Local) (*YouTube, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("youtube client_id, client_secret and refresh_token are required")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &YouTube{cfg: cfg, svc: svc, store: store}, nil
}

func (y *YouTube) Slug() string { return SlugYouTube }

func (y *YouTube) Upload(ctx context.Context, upload *models.ScheduledUpload) (json.RawMessage, error) {
	f, err := os.Open(y.store.Path(upload.FilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	call := y.svc.Videos.Insert([]string{"snippet", "status"}, VideoResource(upload, y.cfg))
	call.Media(f, googleapi.ContentType("video/mp4"), googleapi.ChunkSize(youtubeChunkSize))

	video, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload: %w", err)
	}
	raw, err := video.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode youtube response: %w", err)
	}
	return raw, nil
}

// VideoResource builds the snippet and status for an upload.
func VideoResource(upload *models.ScheduledUpload, cfg config.YouTubeConfig) *youtube.Video {
	description := util.JoinNonEmpty("\n\n", upload.Description, cfg.DescriptionFooter, strings.Join(upload.Tags, " "))

	categoryID := cfg.CategoryID
	if categoryID == "" {
		categoryID = "28"
	}
	privacy := cfg.PrivacyStatus
	if privacy == "" {
		privacy = "public"
	}

	return &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       upload.Title,
			Description: description,
			CategoryId:  categoryID,
			Tags:        util.CleanHashtags(upload.Tags),
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
}
