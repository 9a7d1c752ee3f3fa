package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/config"
)

// Task is a function run on a cron schedule.
type Task func(ctx context.Context) error

// Dispatcher puts a named job on the queue.
type Dispatcher interface {
	Trigger(ctx context.Context, job string, payload interface{}) (bool, error)
}

// Scheduler fires the periodic triggers of the pipeline. It only enqueues
// work; the queue workers do the rest.
type Scheduler struct {
	config  *config.SchedulerConfig
	logger  *zap.Logger
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timeout time.Duration
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	return &Scheduler{
		config:  cfg,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(loc)),
		entries: make(map[string]cron.EntryID),
		timeout: 5 * time.Minute,
	}, nil
}

// Add schedules task under name. An empty spec leaves the task off.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if spec == "" {
		s.logger.Info("Trigger disabled", zap.String("name", name))
		return nil
	}

	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := task(ctx); err != nil {
			s.logger.Error("Scheduled task failed", zap.String("name", name), zap.Error(err))
			return
		}
		s.logger.Debug("Scheduled task completed", zap.String("name", name), zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.entries[name] = id
	s.logger.Info("Trigger added", zap.String("name", name), zap.String("schedule", spec))
	return nil
}

// AddTrigger schedules the dispatch of job. A dispatch deduplicated against
// a pending job of the same name is not an error.
func (s *Scheduler) AddTrigger(job, spec string, d Dispatcher) error {
	return s.Add(job, spec, func(ctx context.Context) error {
		queued, err := d.Trigger(ctx, job, nil)
		if err != nil {
			return err
		}
		if !queued {
			s.logger.Debug("Trigger skipped, job already queued", zap.String("job", job))
		}
		return nil
	})
}

// Triggers maps the configured cron expressions to the clock driven jobs.
func Triggers(cfg *config.SchedulerConfig) map[string]string {
	return map[string]string{
		"fetch-news":                cfg.FetchNews,
		"poll-batches":              cfg.PollBatches,
		"check-queued-assets":       cfg.CheckQueuedAssets,
		"find-ready-scripts":        cfg.FindReadyScripts,
		"process-scheduled-uploads": cfg.ProcessScheduledUploads,
		"reclaim-stale":             cfg.ReclaimStale,
	}
}

// Start runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	s.logger.Info("Starting scheduler", zap.Int("triggers", len(s.entries)))
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler shutdown completed")
}

// TriggerInfo describes one scheduled trigger.
type TriggerInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

func (s *Scheduler) List() []TriggerInfo {
	infos := make([]TriggerInfo, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		infos = append(infos, TriggerInfo{Name: name, NextRun: e.Next, LastRun: e.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
