// Package queue is a durable job queue stored in the pipeline database.
// Any number of worker processes may consume it; a job is claimed with a
// conditional update so only one worker runs it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

// Handler runs one job. A *ReleaseError puts the job back without using an
// attempt, any other error is retried with backoff until attempts run out.
type Handler func(ctx context.Context, job *models.Job) error

// ErrUnknownJob is returned when dispatching a name nothing is registered for.
var ErrUnknownJob = errors.New("unknown job")

var errWorkerLost = errors.New("worker lost")

// FailureHook is called once a job has failed permanently.
type FailureHook func(ctx context.Context, job *models.Job, err error)

// ReleaseError asks the queue to retry the job after Delay without counting
// the attempt.
type ReleaseError struct {
	Delay time.Duration
	Cause error
}

func (e *ReleaseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("released for %s", e.Delay)
	}
	return fmt.Sprintf("released for %s: %v", e.Delay, e.Cause)
}

func (e *ReleaseError) Unwrap() error { return e.Cause }

// Release wraps cause in a ReleaseError.
func Release(delay time.Duration, cause error) error {
	return &ReleaseError{Delay: delay, Cause: cause}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Options configures a Queue.
type Options struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

type registration struct {
	handler   Handler
	defaults  dispatchOptions
	onFailure FailureHook
}

type Queue struct {
	db       *gorm.DB
	logger   *zap.Logger
	opts     Options
	workerID string

	mu       sync.RWMutex
	handlers map[string]*registration

	now func() time.Time
}

func New(db *gorm.DB, opts Options, logger *zap.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	host, _ := os.Hostname()
	return &Queue{
		db:       db,
		logger:   logger,
		opts:     opts,
		workerID: fmt.Sprintf("%s-%d", host, os.Getpid()),
		handlers: make(map[string]*registration),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterOption customizes a handler registration.
type RegisterOption func(*registration)

// WithDefaults sets dispatch options applied to every job of this name.
func WithDefaults(opts ...DispatchOption) RegisterOption {
	return func(r *registration) {
		for _, opt := range opts {
			opt(&r.defaults)
		}
	}
}

// OnFailure sets the hook run when a job of this name fails permanently.
func OnFailure(hook FailureHook) RegisterOption {
	return func(r *registration) {
		r.onFailure = hook
	}
}

// Register binds a handler to a job name.
func (q *Queue) Register(name string, handler Handler, opts ...RegisterOption) {
	reg := &registration{
		handler: handler,
		defaults: dispatchOptions{
			maxAttempts: q.opts.MaxAttempts,
			timeout:     10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(reg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = reg
}

// Names returns the registered job names.
func (q *Queue) Names() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	return names
}

func (q *Queue) registration(name string) (*registration, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	reg, ok := q.handlers[name]
	return reg, ok
}

type dispatchOptions struct {
	uniqueKey   string
	delay       time.Duration
	maxAttempts int
	timeout     time.Duration
}

type DispatchOption func(*dispatchOptions)

// WithUniqueKey drops the dispatch while a job with the same key is pending
// or running.
func WithUniqueKey(key string) DispatchOption {
	return func(o *dispatchOptions) { o.uniqueKey = key }
}

func WithDelay(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.delay = d }
}

func WithMaxAttempts(n int) DispatchOption {
	return func(o *dispatchOptions) { o.maxAttempts = n }
}

func WithTimeout(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.timeout = d }
}

// Dispatch enqueues a job. It returns false when a unique job with the same
// key is already in flight.
func (q *Queue) Dispatch(ctx context.Context, name string, payload interface{}, opts ...DispatchOption) (bool, error) {
	reg, ok := q.registration(name)
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownJob, name)
	}

	o := reg.defaults
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode payload of %s: %w", name, err)
	}

	job := &models.Job{
		Name:           name,
		Payload:        datatypes.JSON(raw),
		Status:         models.JobPending,
		MaxAttempts:    o.maxAttempts,
		TimeoutSeconds: int(o.timeout / time.Second),
		AvailableAt:    q.now().Add(o.delay),
	}

	created := true
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if o.uniqueKey != "" {
			key := name + ":" + o.uniqueKey
			var count int64
			if err := tx.Model(&models.Job{}).
				Where("unique_key = ? AND status IN ?", key, []models.JobStatus{models.JobPending, models.JobRunning}).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				created = false
				return nil
			}
			job.UniqueKey = &key
		}
		return tx.Create(job).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to dispatch %s: %w", name, err)
	}

	if created {
		q.logger.Debug("Job dispatched", zap.String("job", name), zap.Uint("id", job.ID))
	} else {
		q.logger.Debug("Job already in flight", zap.String("job", name), zap.String("unique_key", o.uniqueKey))
	}
	return created, nil
}

// Decode unmarshals the job payload into v.
func Decode(job *models.Job, v interface{}) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return Permanent(fmt.Errorf("invalid payload for %s: %w", job.Name, err))
	}
	return nil
}

// claim reserves the oldest available job. It returns nil when none is ready.
func (q *Queue) claim(ctx context.Context) (*models.Job, error) {
	names := q.Names()
	if len(names) == 0 {
		return nil, nil
	}

	for i := 0; i < 5; i++ {
		now := q.now()
		var job models.Job
		err := q.db.WithContext(ctx).
			Where("status = ? AND available_at <= ? AND name IN ?", models.JobPending, now, names).
			Order("available_at, id").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]interface{}{
				"status":      models.JobRunning,
				"reserved_at": now,
				"attempts":    gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobRunning
			job.ReservedAt = &now
			job.Attempts++
			return &job, nil
		}
		// Another worker won the row, look again.
	}
	return nil, nil
}

// RunNext claims and runs one job. It reports whether a job was run.
func (q *Queue) RunNext(ctx context.Context) (bool, error) {
	job, err := q.claim(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	q.execute(ctx, job)
	return true, nil
}

// Drain runs jobs until none is available.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		ran, err := q.RunNext(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (q *Queue) execute(ctx context.Context, job *models.Job) {
	reg, ok := q.registration(job.Name)
	if !ok {
		q.finish(ctx, job, nil, Permanent(fmt.Errorf("no handler for %s", job.Name)))
		return
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := q.safeRun(runCtx, reg.handler, job)
	q.logger.Debug("Job finished",
		zap.String("job", job.Name),
		zap.Uint("id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))

	q.finish(ctx, job, reg, err)
}

func (q *Queue) safeRun(ctx context.Context, handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) finish(ctx context.Context, job *models.Job, reg *registration, runErr error) {
	now := q.now()
	updates := map[string]interface{}{}

	var release *ReleaseError
	var permanent *permanentError
	switch {
	case runErr == nil:
		updates["status"] = models.JobCompleted
		updates["finished_at"] = now
		updates["last_error"] = ""
	case errors.As(runErr, &release):
		updates["status"] = models.JobPending
		updates["available_at"] = now.Add(release.Delay)
		updates["attempts"] = gorm.Expr("attempts - 1")
		updates["reserved_at"] = nil
		updates["last_error"] = runErr.Error()
		job.Attempts--
	case errors.As(runErr, &permanent) || job.Attempts >= job.MaxAttempts:
		updates["status"] = models.JobFailed
		updates["finished_at"] = now
		updates["last_error"] = runErr.Error()
		job.Status = models.JobFailed
	default:
		updates["status"] = models.JobPending
		updates["available_at"] = now.Add(q.opts.RetryBackoff * time.Duration(job.Attempts))
		updates["reserved_at"] = nil
		updates["last_error"] = runErr.Error()
	}

	// Bookkeeping must land even when the worker context is done.
	dbCtx := context.WithoutCancel(ctx)
	if err := q.db.WithContext(dbCtx).Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		q.logger.Error("Failed to record job result", zap.String("job", job.Name), zap.Uint("id", job.ID), zap.Error(err))
	}

	if job.Status == models.JobFailed {
		q.logger.Error("Job failed permanently",
			zap.String("job", job.Name),
			zap.Uint("id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(runErr))
		if reg != nil && reg.onFailure != nil {
			reg.onFailure(dbCtx, job, runErr)
		}
	} else if runErr != nil && release == nil {
		q.logger.Warn("Job will be retried",
			zap.String("job", job.Name),
			zap.Uint("id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Error(runErr))
	}
}

// ReapExpired returns running jobs whose timeout has long passed to pending,
// so a crashed worker does not hold them forever. Jobs that used their last
// attempt are failed instead.
func (q *Queue) ReapExpired(ctx context.Context) (int64, error) {
	var running []models.Job
	if err := q.db.WithContext(ctx).Where("status = ?", models.JobRunning).Find(&running).Error; err != nil {
		return 0, err
	}

	now := q.now()
	var reaped int64
	for i := range running {
		job := &running[i]
		if job.ReservedAt == nil {
			continue
		}
		grace := time.Duration(job.TimeoutSeconds)*time.Second + time.Minute
		if now.Sub(*job.ReservedAt) < grace {
			continue
		}

		exhausted := job.Attempts >= job.MaxAttempts
		updates := map[string]interface{}{
			"status":       models.JobPending,
			"available_at": now,
			"reserved_at":  nil,
			"last_error":   errWorkerLost.Error(),
		}
		if exhausted {
			updates = map[string]interface{}{
				"status":      models.JobFailed,
				"finished_at": now,
				"last_error":  errWorkerLost.Error(),
			}
		}
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobRunning).
			Updates(updates)
		if res.Error != nil {
			return reaped, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		reaped++

		if !exhausted {
			continue
		}
		job.Status = models.JobFailed
		q.logger.Error("Job failed permanently",
			zap.String("job", job.Name),
			zap.Uint("id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(errWorkerLost))
		if reg, ok := q.registration(job.Name); ok && reg.onFailure != nil {
			reg.onFailure(context.WithoutCancel(ctx), job, errWorkerLost)
		}
	}
	if reaped > 0 {
		q.logger.Warn("Reaped expired jobs", zap.Int64("count", reaped))
	}
	return reaped, nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("Starting queue workers",
		zap.Int("workers", q.opts.Workers),
		zap.String("worker_id", q.workerID),
		zap.Strings("jobs", q.Names()))

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < q.opts.Workers; i++ {
		g.Go(func() error {
			return q.work(gctx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := q.ReapExpired(gctx); err != nil {
					q.logger.Error("Failed to reap expired jobs", zap.Error(err))
				}
			}
		}
	})

	err := g.Wait()
	q.logger.Info("Queue workers stopped")
	return err
}

func (q *Queue) work(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ran, err := q.RunNext(ctx)
		if err != nil && ctx.Err() == nil {
			q.logger.Error("Queue worker error", zap.Error(err))
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts(ctx context.Context) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	if err := q.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
