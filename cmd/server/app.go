package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/assets"
	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/media"
	"github.com/ifuryst/quickbyte/internal/news"
	"github.com/ifuryst/quickbyte/internal/openai"
	"github.com/ifuryst/quickbyte/internal/pipeline"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/scheduling"
	"github.com/ifuryst/quickbyte/internal/scraper"
	"github.com/ifuryst/quickbyte/internal/service"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/internal/summarizer"
	"github.com/ifuryst/quickbyte/internal/throttle"
	"github.com/ifuryst/quickbyte/internal/uploader"
	"github.com/ifuryst/quickbyte/internal/vectorindex"
	"github.com/ifuryst/quickbyte/pkg/logger"
)

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	queue    *queue.Queue
	pipeline *pipeline.Pipeline
	monitor  *service.MonitoringService
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, appLogger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := bootstrap()
	if err != nil {
		return nil, err
	}

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}

	q := queue.New(db, queue.Options{
		Workers:      cfg.Queue.Workers,
		PollInterval: config.MustDuration(cfg.Queue.PollInterval),
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBackoff: config.MustDuration(cfg.Queue.RetryBackoff),
	}, log)

	store := storage.NewLocal(cfg.Storage.Root)
	monitor := service.NewMonitoringService(db, log)

	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	batches := batch.NewOrchestrator(db, batch.NewOpenAIProvider(llm, cfg.OpenAI.CompletionWindow, log), log)

	fetcher, err := news.NewFetcher(cfg.News, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create news fetcher: %w", err)
	}
	index, err := vectorindex.New(cfg.VectorIndex, db, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	scrape, err := scraper.New(cfg.Scraper, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scraper: %w", err)
	}
	summary, err := summarizer.New(ctx, cfg.Summarizer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	}

	voiceSlots := throttle.New(db, "elevenlabs", throttle.Options{
		Slots:   cfg.ElevenLabs.ThrottleSlots,
		Refresh: config.MustDuration(cfg.ElevenLabs.ThrottleRefresh),
		Wait:    config.MustDuration(cfg.ElevenLabs.ThrottleWait),
	}, log)
	voice, err := assets.NewElevenLabs(cfg.ElevenLabs, store, voiceSlots, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice generator: %w", err)
	}
	video, err := assets.NewVeo(ctx, cfg.Veo)
	if err != nil {
		return nil, fmt.Errorf("failed to create video generator: %w", err)
	}
	coordinator := assets.NewCoordinator(db, store, voice, video, log)

	uploaders, err := uploader.NewManagerFromConfig(ctx, cfg.Upload, store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploaders: %w", err)
	}
	log.Info("Uploaders configured", zap.Strings("platforms", uploaders.Slugs()))

	p := pipeline.New(pipeline.Deps{
		DB:         db,
		Queue:      q,
		Batches:    batches,
		Fetcher:    fetcher,
		Index:      index,
		Scraper:    scrape,
		Summarizer: summary,
		Assets:     coordinator,
		Composer:   media.NewComposer(cfg.Media, media.ExecRunner{}, store, log),
		Store:      store,
		Scheduler:  scheduling.NewScheduler(db, cfg.Pipeline.ScheduleMode, log),
		Uploaders:  uploaders,
		Monitor:    monitor,
	}, cfg.Pipeline, cfg.OpenAI, log)
	p.ReleaseDelay = config.MustDuration(cfg.ElevenLabs.ReleaseDelay)
	p.ClaimLease = config.MustDuration(cfg.Pipeline.ClaimLease)
	p.Register()
	coordinator.OnRegenerate = p.RegenerateAsset

	return &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		queue:    q,
		pipeline: p,
		monitor:  monitor,
	}, nil
}

// newScheduler registers the clock triggers and the stats snapshot.
func (a *app) newScheduler() (*service.Scheduler, error) {
	s, err := service.NewScheduler(&a.cfg.Scheduler, a.logger)
	if err != nil {
		return nil, err
	}
	for job, spec := range service.Triggers(&a.cfg.Scheduler) {
		if err := s.AddTrigger(job, spec, a.pipeline); err != nil {
			return nil, err
		}
	}
	stats := service.NewStatsUpdater(a.monitor, a.logger, 0)
	if err := s.Add("snapshot-stats", a.cfg.Scheduler.SnapshotStats, stats.Run); err != nil {
		return nil, err
	}
	return s, nil
}
