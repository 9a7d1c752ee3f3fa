// Package pipeline moves news items through the stage machine: every stage
// is a queue job that selects rows at one stage, claims them, does its work
// and publishes a completion message naming the next job.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/assets"
	"github.com/ifuryst/quickbyte/internal/batch"
	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/media"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/news"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/scraper"
	"github.com/ifuryst/quickbyte/internal/service"
	"github.com/ifuryst/quickbyte/internal/storage"
	"github.com/ifuryst/quickbyte/internal/uploader"
	"github.com/ifuryst/quickbyte/internal/vectorindex"
)

// Job timeouts by kind of work.
const (
	orchestrationTimeout = 600 * time.Second
	ioTimeout            = 1800 * time.Second
	composeTimeout       = 3600 * time.Second
)

type NewsFetcher interface {
	FetchAll(ctx context.Context) ([]news.Item, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type AssetCoordinator interface {
	GenerateScene(ctx context.Context, sceneID uint, only models.AssetType) error
	ProcessQueued(ctx context.Context) (assets.QueuedReport, error)
	ReadyScripts(ctx context.Context) ([]uint, error)
}

type Composer interface {
	Render(ctx context.Context, scenes []media.SceneInput, musicPath string) (string, error)
}

type UploadScheduler interface {
	ScheduleScript(ctx context.Context, script *models.Script) ([]models.ScheduledUpload, error)
}

type UploaderRegistry interface {
	Get(slug string) (uploader.Uploader, bool)
}

// ErrorRecorder persists failures for the dashboard.
type ErrorRecorder interface {
	RecordError(level, source, title, message string, options ...service.ErrorLogOption) error
}

// Deps are the collaborators of the stage jobs.
type Deps struct {
	DB         *gorm.DB
	Queue      *queue.Queue
	Batches    *batch.Orchestrator
	Fetcher    NewsFetcher
	Index      vectorindex.Index
	Scraper    scraper.Scraper
	Summarizer Summarizer
	Assets     AssetCoordinator
	Composer   Composer
	Store      *storage.Local
	Scheduler  UploadScheduler
	Uploaders  UploaderRegistry
	Monitor    ErrorRecorder
}

type Pipeline struct {
	Deps
	db     *gorm.DB
	cfg    config.PipelineConfig
	llm    config.OpenAIConfig
	logger *zap.Logger

	// ReleaseDelay is how long a throttled asset job waits before it is run
	// again.
	ReleaseDelay time.Duration
	// ClaimLease is how long a stage job may hold a news row.
	ClaimLease time.Duration

	now func() time.Time
}

func New(deps Deps, cfg config.PipelineConfig, llm config.OpenAIConfig, logger *zap.Logger) *Pipeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Pipeline{
		Deps:         deps,
		db:           deps.DB,
		cfg:          cfg,
		llm:          llm,
		logger:       logger,
		ReleaseDelay: 10 * time.Second,
		ClaimLease:   2 * time.Hour,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register binds every stage job to the queue and the batch processors to
// the orchestrator.
func (p *Pipeline) Register() {
	unique := func(job string) queue.DispatchOption { return queue.WithUniqueKey(job) }
	failure := queue.OnFailure(p.recordJobFailure)

	jobs := []struct {
		name    string
		handler queue.Handler
		opts    []queue.DispatchOption
	}{
		{JobFetchNews, p.FetchNews, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobFetchNews)}},
		{JobClassifyNews, p.ClassifyNews, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobPollBatches, p.PollBatches, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobPollBatches)}},
		{JobProcessBatch, p.ProcessBatch, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobEmbedNews, p.EmbedNews, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobFilterNovelty, p.FilterNovelty, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobFetchArticles, p.FetchArticles, []queue.DispatchOption{queue.WithTimeout(ioTimeout), unique(JobFetchArticles)}},
		{JobSummarizeArticles, p.SummarizeArticles, []queue.DispatchOption{queue.WithTimeout(ioTimeout), unique(JobSummarizeArticles)}},
		{JobGenerateScripts, p.GenerateScripts, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobGenerateScripts)}},
		{JobGenerateAssets, p.GenerateAssets, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobCheckQueuedAssets, p.CheckQueuedAssets, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobCheckQueuedAssets)}},
		{JobFindReadyScripts, p.FindReadyScripts, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobFindReadyScripts)}},
		{JobComposeVideo, p.ComposeVideo, []queue.DispatchOption{queue.WithTimeout(composeTimeout)}},
		{JobScheduleUploads, p.ScheduleUploads, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout)}},
		{JobProcessScheduledUploads, p.ProcessScheduledUploads, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobProcessScheduledUploads)}},
		{JobUploadVideo, p.UploadVideo, []queue.DispatchOption{queue.WithTimeout(ioTimeout)}},
		{JobReclaimStale, p.ReclaimStale, []queue.DispatchOption{queue.WithTimeout(orchestrationTimeout), unique(JobReclaimStale)}},
	}
	for _, j := range jobs {
		p.Queue.Register(j.name, j.handler, queue.WithDefaults(j.opts...), failure)
	}

	if p.Batches != nil {
		p.registerProcessors()
	}
}

// Trigger dispatches a clock-driven or manual job.
func (p *Pipeline) Trigger(ctx context.Context, job string, payload interface{}) (bool, error) {
	return p.Queue.Dispatch(ctx, job, payload)
}

// publish dispatches the job routed to m.
func (p *Pipeline) publish(ctx context.Context, m Message, payload interface{}, opts ...queue.DispatchOption) error {
	job, ok := JobFor(m)
	if !ok {
		return fmt.Errorf("no route for message %s", m)
	}
	created, err := p.Queue.Dispatch(ctx, job, payload, opts...)
	if err != nil {
		return err
	}
	if created {
		p.logger.Debug("Message published", zap.String("message", string(m)), zap.String("job", job))
	}
	return nil
}

func (p *Pipeline) record(level, source, title, message string, options ...service.ErrorLogOption) {
	if p.Monitor == nil {
		return
	}
	if err := p.Monitor.RecordError(level, source, title, message, options...); err != nil {
		p.logger.Warn("Failed to record error", zap.String("source", source), zap.Error(err))
	}
}

func (p *Pipeline) recordJobFailure(ctx context.Context, job *models.Job, err error) {
	p.record("ERROR", "queue", "Job "+job.Name+" failed", err.Error(),
		service.WithJob(job.ID),
		service.WithContext(map[string]interface{}{"attempts": job.Attempts, "payload": string(job.Payload)}))
}

// today returns local midnight of the pipeline clock.
func (p *Pipeline) today() time.Time {
	now := p.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
