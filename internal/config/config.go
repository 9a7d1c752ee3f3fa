package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/joho/godotenv"

	"github.com/ifuryst/quickbyte/pkg/logger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logger      logger.Config     `yaml:"logger"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Queue       QueueConfig       `yaml:"queue"`
	Storage     StorageConfig     `yaml:"storage"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	News        NewsConfig        `yaml:"news"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	ElevenLabs  ElevenLabsConfig  `yaml:"elevenlabs"`
	Veo         VeoConfig         `yaml:"veo"`
	Media       MediaConfig       `yaml:"media"`
	Upload      UploadConfig      `yaml:"upload"`
	Auth        AuthConfig        `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode" validate:"oneof=debug release test"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type" validate:"oneof=postgres sqlite"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// SchedulerConfig holds the cron expressions of the periodic triggers.
type SchedulerConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	Timezone                string `yaml:"timezone"`
	FetchNews               string `yaml:"fetch_news"`
	PollBatches             string `yaml:"poll_batches"`
	CheckQueuedAssets       string `yaml:"check_queued_assets"`
	FindReadyScripts        string `yaml:"find_ready_scripts"`
	ProcessScheduledUploads string `yaml:"process_scheduled_uploads"`
	SnapshotStats           string `yaml:"snapshot_stats"`
	ReclaimStale            string `yaml:"reclaim_stale"`
}

type QueueConfig struct {
	Workers      int    `yaml:"workers" validate:"min=1"`
	PollInterval string `yaml:"poll_interval"`
	MaxAttempts  int    `yaml:"max_attempts" validate:"min=1"`
	RetryBackoff string `yaml:"retry_backoff"`
}

type StorageConfig struct {
	Root string `yaml:"root"`
}

type PipelineConfig struct {
	PageSize          int     `yaml:"page_size" validate:"min=1,max=50"`
	NoveltyThreshold  float64 `yaml:"novelty_threshold" validate:"gt=0,lte=1"`
	NoveltyTopK       int     `yaml:"novelty_top_k" validate:"min=1"`
	ClassifyChunkSize int     `yaml:"classify_chunk_size" validate:"min=1"`
	ClassifySelect    int     `yaml:"classify_select" validate:"min=1"`
	ScriptsPerRun     int     `yaml:"scripts_per_run" validate:"min=1"`
	ScheduleMode      string  `yaml:"schedule_mode" validate:"oneof=weekly daily"`
	VectorNamespace   string  `yaml:"vector_namespace"`
	// ClaimLease is how long a job may hold a news row before it is handed
	// back to its stage.
	ClaimLease string `yaml:"claim_lease"`
}

type OpenAIConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	CompletionWindow string `yaml:"completion_window"`
	EmbeddingModel   string `yaml:"embedding_model"`
	ClassifyModel    string `yaml:"classify_model"`
	ScriptModel      string `yaml:"script_model"`
}

type VectorIndexConfig struct {
	Driver   string         `yaml:"driver" validate:"oneof=pinecone local"`
	Pinecone PineconeConfig `yaml:"pinecone"`
}

type PineconeConfig struct {
	APIKey    string `yaml:"api_key"`
	IndexHost string `yaml:"index_host"`
}

type NewsConfig struct {
	Sources []NewsSourceConfig `yaml:"sources" validate:"dive"`
}

type NewsSourceConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	Driver    string   `yaml:"driver" validate:"oneof=newsapi rss reddit"`
	Enabled   bool     `yaml:"enabled"`
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Category  string   `yaml:"category"`
	Limit     int      `yaml:"limit"`
	Feeds     []string `yaml:"feeds"`
	Subreddit string   `yaml:"subreddit"`
}

type ScraperConfig struct {
	Driver          string         `yaml:"driver" validate:"oneof=scrapedo direct"`
	Timeout         string         `yaml:"timeout"`
	BrowserFallback bool           `yaml:"browser_fallback"`
	ScrapeDo        ScrapeDoConfig `yaml:"scrapedo"`
}

type ScrapeDoConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type SummarizerConfig struct {
	Driver      string            `yaml:"driver" validate:"oneof=huggingface ollama gemini"`
	MaxTokens   int               `yaml:"max_tokens" validate:"min=16"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Gemini      GeminiConfig      `yaml:"gemini"`
}

type HuggingFaceConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxLength int    `yaml:"max_length"`
	MinLength int    `yaml:"min_length"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type ElevenLabsConfig struct {
	APIKey          string  `yaml:"api_key"`
	Endpoint        string  `yaml:"endpoint"`
	DefaultVoiceID  string  `yaml:"default_voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	Style           float64 `yaml:"style"`
	SpeakerBoost    bool    `yaml:"speaker_boost"`
	ThrottleSlots   int     `yaml:"throttle_slots" validate:"min=1"`
	ThrottleRefresh string  `yaml:"throttle_refresh"`
	ThrottleWait    string  `yaml:"throttle_wait"`
	ReleaseDelay    string  `yaml:"release_delay"`
}

type VeoConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
	Location        string `yaml:"location"`
	Bucket          string `yaml:"bucket"`
	Model           string `yaml:"model"`
}

type MediaConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	FFprobePath   string `yaml:"ffprobe_path"`
	FontsDir      string `yaml:"fonts_dir"`
	FontName      string `yaml:"font_name"`
	SubtitleColor string `yaml:"subtitle_color"`
	SfxDir        string `yaml:"sfx_dir"`
}

type UploadConfig struct {
	YouTube   YouTubeConfig   `yaml:"youtube"`
	TikTok    TikTokConfig    `yaml:"tiktok"`
	Instagram InstagramConfig `yaml:"instagram"`
}

type YouTubeConfig struct {
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	RefreshToken      string `yaml:"refresh_token"`
	CategoryID        string `yaml:"category_id"`
	PrivacyStatus     string `yaml:"privacy_status"`
	DescriptionFooter string `yaml:"description_footer"`
}

type TikTokConfig struct {
	AccessToken string `yaml:"access_token"`
	ChunkSize   int64  `yaml:"chunk_size"`
}

type InstagramConfig struct {
	AccessToken   string `yaml:"access_token"`
	UserID        string `yaml:"user_id"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
}

// LoadConfig reads the YAML file (expanding ${ENV} references), fills defaults
// and validates the result. A .env file next to the process is loaded first
// when present.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}

	s := &cfg.Scheduler
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.FetchNews == "" {
		s.FetchNews = "@daily"
	}
	if s.PollBatches == "" {
		s.PollBatches = "*/5 * * * *"
	}
	if s.CheckQueuedAssets == "" {
		s.CheckQueuedAssets = "*/5 * * * *"
	}
	if s.FindReadyScripts == "" {
		s.FindReadyScripts = "*/5 * * * *"
	}
	if s.ProcessScheduledUploads == "" {
		s.ProcessScheduledUploads = "* * * * *"
	}
	if s.SnapshotStats == "" {
		s.SnapshotStats = "@hourly"
	}
	if s.ReclaimStale == "" {
		s.ReclaimStale = "*/15 * * * *"
	}

	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.PollInterval == "" {
		cfg.Queue.PollInterval = "1s"
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 4
	}
	if cfg.Queue.RetryBackoff == "" {
		cfg.Queue.RetryBackoff = "30s"
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "storage"
	}

	p := &cfg.Pipeline
	if p.PageSize == 0 {
		p.PageSize = 10
	}
	if p.NoveltyThreshold == 0 {
		p.NoveltyThreshold = 0.85
	}
	if p.NoveltyTopK == 0 {
		p.NoveltyTopK = 5
	}
	if p.ClassifyChunkSize == 0 {
		p.ClassifyChunkSize = 30
	}
	if p.ClassifySelect == 0 {
		p.ClassifySelect = 2
	}
	if p.ScriptsPerRun == 0 {
		p.ScriptsPerRun = 2
	}
	if p.ScheduleMode == "" {
		p.ScheduleMode = "weekly"
	}
	if p.VectorNamespace == "" {
		p.VectorNamespace = "news"
	}
	if p.ClaimLease == "" {
		p.ClaimLease = "2h"
	}

	o := &cfg.OpenAI
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com"
	}
	if o.CompletionWindow == "" {
		o.CompletionWindow = "24h"
	}
	if o.EmbeddingModel == "" {
		o.EmbeddingModel = "text-embedding-ada-002"
	}
	if o.ClassifyModel == "" {
		o.ClassifyModel = "gpt-4o-mini"
	}
	if o.ScriptModel == "" {
		o.ScriptModel = "gpt-4-turbo"
	}

	if cfg.VectorIndex.Driver == "" {
		cfg.VectorIndex.Driver = "pinecone"
	}

	for i := range cfg.News.Sources {
		src := &cfg.News.Sources[i]
		if src.Limit == 0 {
			src.Limit = 25
		}
		if src.Category == "" {
			src.Category = "technology"
		}
		if src.Driver == "newsapi" && src.BaseURL == "" {
			src.BaseURL = "https://newsapi.org/v2/top-headlines"
		}
	}

	if cfg.Scraper.Driver == "" {
		cfg.Scraper.Driver = "scrapedo"
	}
	if cfg.Scraper.Timeout == "" {
		cfg.Scraper.Timeout = "60s"
	}
	if cfg.Scraper.ScrapeDo.BaseURL == "" {
		cfg.Scraper.ScrapeDo.BaseURL = "https://api.scrape.do/"
	}

	sm := &cfg.Summarizer
	if sm.Driver == "" {
		sm.Driver = "huggingface"
	}
	if sm.MaxTokens == 0 {
		sm.MaxTokens = 1024
	}
	if sm.HuggingFace.BaseURL == "" {
		sm.HuggingFace.BaseURL = "https://api-inference.huggingface.co/"
	}
	if sm.HuggingFace.Model == "" {
		sm.HuggingFace.Model = "facebook/bart-large-cnn"
	}
	if sm.HuggingFace.MaxLength == 0 {
		sm.HuggingFace.MaxLength = 200
	}
	if sm.HuggingFace.MinLength == 0 {
		sm.HuggingFace.MinLength = 150
	}
	if sm.Ollama.Model == "" {
		sm.Ollama.Model = "llama3.2"
	}
	if sm.Gemini.Model == "" {
		sm.Gemini.Model = "gemini-1.5-flash"
	}

	e := &cfg.ElevenLabs
	if e.Endpoint == "" {
		e.Endpoint = "https://api.elevenlabs.io/v1/text-to-speech"
	}
	if e.ModelID == "" {
		e.ModelID = "eleven_multilingual_v2"
	}
	if e.ThrottleSlots == 0 {
		e.ThrottleSlots = 3
	}
	if e.ThrottleRefresh == "" {
		e.ThrottleRefresh = "1s"
	}
	if e.ThrottleWait == "" {
		e.ThrottleWait = "30s"
	}
	if e.ReleaseDelay == "" {
		e.ReleaseDelay = "10s"
	}

	if cfg.Veo.Model == "" {
		cfg.Veo.Model = "veo-2.0-generate-001"
	}

	m := &cfg.Media
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	if m.FFprobePath == "" {
		m.FFprobePath = "ffprobe"
	}
	if m.FontsDir == "" {
		m.FontsDir = "resources/fonts"
	}
	if m.FontName == "" {
		m.FontName = "a Atomic Md"
	}
	if m.SubtitleColor == "" {
		m.SubtitleColor = "&H00FFFFFF"
	}
	if m.SfxDir == "" {
		m.SfxDir = "sfx"
	}

	if cfg.Upload.YouTube.CategoryID == "" {
		cfg.Upload.YouTube.CategoryID = "28"
	}
	if cfg.Upload.YouTube.PrivacyStatus == "" {
		cfg.Upload.YouTube.PrivacyStatus = "public"
	}
	if cfg.Upload.TikTok.ChunkSize == 0 {
		cfg.Upload.TikTok.ChunkSize = 10 * 1024 * 1024
	}
}

// Validate checks struct constraints and that every duration string parses.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":         cfg.Queue.PollInterval,
		"queue.retry_backoff":         cfg.Queue.RetryBackoff,
		"scraper.timeout":             cfg.Scraper.Timeout,
		"elevenlabs.throttle_refresh": cfg.ElevenLabs.ThrottleRefresh,
		"elevenlabs.throttle_wait":    cfg.ElevenLabs.ThrottleWait,
		"elevenlabs.release_delay":    cfg.ElevenLabs.ReleaseDelay,
		"pipeline.claim_lease":        cfg.Pipeline.ClaimLease,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
	}

	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid config: scheduler.timezone: %w", err)
	}
	return nil
}

// MustDuration parses a duration already checked by Validate.
func MustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q", value))
	}
	return d
}
