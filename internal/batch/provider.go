package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/openai"
)

// Status is the provider's view of a batch.
type Status struct {
	ID           string
	Status       string
	InputFileID  string
	Total        int
	Completed    int
	Failed       int
	OutputFileID string
	ErrorFileID  string
	InProgressAt *time.Time
	CompletedAt  *time.Time
}

// Results are the decoded output and error files of a completed batch.
type Results struct {
	Output []Result
	Errors []Result
}

type Provider interface {
	CreateBatch(ctx context.Context, requests []Request, endpoint string) (*Status, error)
	GetStatus(ctx context.Context, batchID string) (*Status, error)
	DownloadResults(ctx context.Context, batchID string) (*Results, error)
}

// OpenAIProvider runs batches against the OpenAI batches API.
type OpenAIProvider struct {
	client           *openai.Client
	completionWindow string
	logger           *zap.Logger
}

func NewOpenAIProvider(client *openai.Client, completionWindow string, logger *zap.Logger) *OpenAIProvider {
	if completionWindow == "" {
		completionWindow = "24h"
	}
	return &OpenAIProvider{client: client, completionWindow: completionWindow, logger: logger}
}

func (p *OpenAIProvider) CreateBatch(ctx context.Context, requests []Request, endpoint string) (*Status, error) {
	content, err := BuildJSONL(requests, endpoint)
	if err != nil {
		return nil, err
	}

	file, err := p.client.UploadFile(ctx, fmt.Sprintf("batch_%d.jsonl", time.Now().UnixNano()), content, "batch")
	if err != nil {
		return nil, err
	}

	b, err := p.client.CreateBatch(ctx, file.ID, endpoint, p.completionWindow)
	if err != nil {
		return nil, err
	}

	status := toStatus(b)
	if status.InputFileID == "" {
		status.InputFileID = file.ID
	}
	if status.Total == 0 {
		status.Total = len(requests)
	}
	return status, nil
}

func (p *OpenAIProvider) GetStatus(ctx context.Context, batchID string) (*Status, error) {
	b, err := p.client.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return toStatus(b), nil
}

func (p *OpenAIProvider) DownloadResults(ctx context.Context, batchID string) (*Results, error) {
	b, err := p.client.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != "completed" {
		return nil, fmt.Errorf("%w: batch %s has status %s", ErrNotCompleted, batchID, b.Status)
	}

	results := &Results{}
	if b.OutputFileID != "" {
		data, err := p.client.FileContent(ctx, b.OutputFileID)
		if err != nil {
			return nil, fmt.Errorf("failed to download output file: %w", err)
		}
		results.Output = ParseJSONL(data, p.logger)
	}
	if b.ErrorFileID != "" {
		data, err := p.client.FileContent(ctx, b.ErrorFileID)
		if err != nil {
			return nil, fmt.Errorf("failed to download error file: %w", err)
		}
		results.Errors = ParseJSONL(data, p.logger)
	}
	return results, nil
}

func toStatus(b *openai.Batch) *Status {
	s := &Status{
		ID:           b.ID,
		Status:       b.Status,
		InputFileID:  b.InputFileID,
		Total:        b.RequestCounts.Total,
		Completed:    b.RequestCounts.Completed,
		Failed:       b.RequestCounts.Failed,
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
	}
	if b.InProgressAt > 0 {
		t := time.Unix(b.InProgressAt, 0).UTC()
		s.InProgressAt = &t
	}
	if b.CompletedAt > 0 {
		t := time.Unix(b.CompletedAt, 0).UTC()
		s.CompletedAt = &t
	}
	return s
}
