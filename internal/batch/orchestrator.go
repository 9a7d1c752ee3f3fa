// Package batch submits LLM work as provider batches, tracks them until they
// finish and routes the results to a processor per action.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

var (
	ErrNotCompleted  = errors.New("batch is not completed")
	ErrUnknownAction = errors.New("unknown batch action")
)

// BatchFailedError carries one message per erroring request of a batch.
type BatchFailedError struct {
	BatchID string
	Lines   []string
}

func (e *BatchFailedError) Error() string {
	return strings.Join(e.Lines, "; ")
}

// Processor consumes the output lines of a completed batch.
type Processor interface {
	Process(ctx context.Context, batch *models.OpenaiBatch, results []Result) error
}

// BatchHook is notified about a batch reaching a terminal status.
type BatchHook func(ctx context.Context, batch *models.OpenaiBatch)

type Orchestrator struct {
	db       *gorm.DB
	provider Provider
	logger   *zap.Logger

	mu          sync.RWMutex
	processors  map[models.BatchAction]Processor
	onCompleted BatchHook
	onAborted   BatchHook

	now func() time.Time
}

func NewOrchestrator(db *gorm.DB, provider Provider, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		provider:   provider,
		logger:     logger,
		processors: make(map[models.BatchAction]Processor),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) RegisterProcessor(action models.BatchAction, p Processor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processors[action] = p
}

// OnCompleted sets the hook run when a polled batch completes.
func (o *Orchestrator) OnCompleted(hook BatchHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCompleted = hook
}

// OnAborted sets the hook run when a polled batch fails, is cancelled or
// expires.
func (o *Orchestrator) OnAborted(hook BatchHook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onAborted = hook
}

// Submit creates a provider batch and records it.
func (o *Orchestrator) Submit(ctx context.Context, action models.BatchAction, endpoint string, requests []Request) (*models.OpenaiBatch, error) {
	if len(requests) == 0 {
		return nil, errors.New("no requests to submit")
	}

	status, err := o.provider.CreateBatch(ctx, requests, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s batch: %w", action, err)
	}

	ids := make(models.StringArray, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.CustomID)
	}

	record := &models.OpenaiBatch{
		ProviderBatchID: status.ID,
		Action:          action,
		Endpoint:        endpoint,
		InputFileID:     status.InputFileID,
		Status:          status.Status,
		CustomIDs:       ids,
		TotalItems:      len(requests),
	}
	if err := o.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to save batch %s: %w", status.ID, err)
	}

	o.logger.Info("Created batch",
		zap.String("batch_id", status.ID),
		zap.String("action", string(action)),
		zap.Int("items", len(requests)))
	return record, nil
}

// Poll refreshes every running batch. Errors on individual batches are
// logged and left for the next poll.
func (o *Orchestrator) Poll(ctx context.Context) (int, error) {
	var batches []models.OpenaiBatch
	if err := o.db.WithContext(ctx).
		Where("status IN ?", []string{models.BatchValidating, models.BatchInProgress, models.BatchFinalizing}).
		Order("id").
		Find(&batches).Error; err != nil {
		return 0, fmt.Errorf("failed to list running batches: %w", err)
	}

	completed := 0
	for i := range batches {
		b := &batches[i]
		done, err := o.pollOne(ctx, b)
		if err != nil {
			o.logger.Error("Failed to poll batch", zap.String("batch_id", b.ProviderBatchID), zap.Error(err))
			continue
		}
		if done {
			completed++
		}
	}
	return completed, nil
}

func (o *Orchestrator) pollOne(ctx context.Context, b *models.OpenaiBatch) (bool, error) {
	status, err := o.provider.GetStatus(ctx, b.ProviderBatchID)
	if err != nil {
		return false, err
	}

	now := o.now()
	b.Status = strings.ToLower(status.Status)
	b.ProcessedItems = status.Completed
	b.ErrorItems = status.Failed

	if b.Status == models.BatchInProgress && b.StartedAt == nil {
		started := now
		if status.InProgressAt != nil {
			started = *status.InProgressAt
		}
		b.StartedAt = &started
	}

	if b.Status == models.BatchCompleted {
		if status.OutputFileID != "" {
			b.OutputFileID = &status.OutputFileID
		}
		if status.ErrorFileID != "" {
			b.ErrorFileID = &status.ErrorFileID
		}
	}

	if models.IsTerminalBatchStatus(b.Status) && b.CompletedAt == nil {
		finished := now
		if status.CompletedAt != nil && b.Status == models.BatchCompleted {
			finished = *status.CompletedAt
		}
		b.CompletedAt = &finished
	}

	if err := o.db.WithContext(ctx).Save(b).Error; err != nil {
		return false, fmt.Errorf("failed to update batch: %w", err)
	}

	o.logger.Info("Polled batch",
		zap.String("batch_id", b.ProviderBatchID),
		zap.String("status", b.Status),
		zap.Int("processed", b.ProcessedItems),
		zap.Int("errors", b.ErrorItems))

	o.mu.RLock()
	onCompleted, onAborted := o.onCompleted, o.onAborted
	o.mu.RUnlock()

	switch {
	case b.Status == models.BatchCompleted:
		if onCompleted != nil {
			onCompleted(ctx, b)
		}
		return true, nil
	case models.IsTerminalBatchStatus(b.Status):
		if onAborted != nil {
			onAborted(ctx, b)
		}
	}
	return false, nil
}

// CollectResults downloads the output of a completed batch. Any error line
// turns into a *BatchFailedError.
func (o *Orchestrator) CollectResults(ctx context.Context, b *models.OpenaiBatch) ([]Result, error) {
	if b.Status != models.BatchCompleted {
		return nil, fmt.Errorf("%w: batch %s has status %s", ErrNotCompleted, b.ProviderBatchID, b.Status)
	}

	results, err := o.provider.DownloadResults(ctx, b.ProviderBatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to download results of %s: %w", b.ProviderBatchID, err)
	}

	if len(results.Errors) > 0 {
		lines := make([]string, 0, len(results.Errors))
		for _, r := range results.Errors {
			id := r.CustomID
			if id == "" {
				id = "(unknown)"
			}
			lines = append(lines, fmt.Sprintf("News %s: %s", id, r.ErrorMessage()))
		}
		return nil, &BatchFailedError{BatchID: b.ProviderBatchID, Lines: lines}
	}
	return results.Output, nil
}

// Process collects the results of the batch and hands them to the processor
// registered for its action. A batch is processed once.
func (o *Orchestrator) Process(ctx context.Context, batchID uint) error {
	var b models.OpenaiBatch
	if err := o.db.WithContext(ctx).First(&b, batchID).Error; err != nil {
		return fmt.Errorf("failed to load batch %d: %w", batchID, err)
	}
	if b.ProcessedAt != nil {
		o.logger.Info("Batch already processed", zap.String("batch_id", b.ProviderBatchID))
		return nil
	}

	o.mu.RLock()
	processor, ok := o.processors[b.Action]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, b.Action)
	}

	results, err := o.CollectResults(ctx, &b)
	if err != nil {
		return err
	}

	if err := processor.Process(ctx, &b, results); err != nil {
		return fmt.Errorf("failed to process %s batch %s: %w", b.Action, b.ProviderBatchID, err)
	}

	now := o.now()
	if err := o.db.WithContext(ctx).Model(&b).Update("processed_at", now).Error; err != nil {
		return fmt.Errorf("failed to mark batch processed: %w", err)
	}
	o.logger.Info("Processed batch",
		zap.String("batch_id", b.ProviderBatchID),
		zap.String("action", string(b.Action)),
		zap.Int("results", len(results)))
	return nil
}
