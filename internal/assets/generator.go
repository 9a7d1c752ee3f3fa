// Package assets produces the voiceover and visual media of script scenes.
package assets

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ifuryst/quickbyte/internal/models"
)

// Request describes one asset to generate.
type Request struct {
	Text         string
	PreviousText string
	NextText     string
	// Duration is the target clip length in seconds, used by visual providers.
	Duration float64
}

// Result of a generation call. Sync providers fill FilePath with a storage
// relative temp file; queued providers only return ExternalID.
type Result struct {
	ExternalID string               `json:"external_id"`
	FilePath   string               `json:"file_path,omitempty"`
	Metadata   models.AssetMetadata `json:"metadata"`
}

// JobStatus is the state of a queued generation.
type JobStatus struct {
	Done bool
	// URI of the produced asset. Empty on a done job means the provider
	// completed without output.
	URI string
	Raw json.RawMessage
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	CheckJobStatus(ctx context.Context, externalID string) (*JobStatus, error)
	IsQueued() bool
	PlatformKey() string
}

// Downloader is implemented by queued generators whose output lives remotely.
type Downloader interface {
	Download(ctx context.Context, uri string) (io.ReadCloser, error)
}
