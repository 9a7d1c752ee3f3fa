package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ifuryst/quickbyte/internal/config"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	veoMaxDuration     = 8
	veoAspectRatio     = "9:16"
)

// Veo generates clips with Vertex AI long running predictions. Results land
// in a GCS bucket and are downloaded once the operation is done.
type Veo struct {
	cfg        config.VeoConfig
	httpClient *http.Client
	apiBase    string
	gcsBase    string
}

func NewVeo(ctx context.Context, cfg config.VeoConfig) (*Veo, error) {
	for key, value := range map[string]string{
		"project_id": cfg.ProjectID,
		"location":   cfg.Location,
		"bucket":     cfg.Bucket,
		"model":      cfg.Model,
	} {
		if value == "" {
			return nil, fmt.Errorf("missing veo configuration for: %s", key)
		}
	}

	var ts oauth2.TokenSource
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read google credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse google credentials: %w", err)
		}
		ts = creds.TokenSource
	} else {
		var err error
		ts, err = google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default google credentials: %w", err)
		}
	}

	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 90 * time.Second
	return newVeo(cfg, client, fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", cfg.Location), "https://storage.googleapis.com"), nil
}

func newVeo(cfg config.VeoConfig, client *http.Client, apiBase, gcsBase string) *Veo {
	return &Veo{cfg: cfg, httpClient: client, apiBase: strings.TrimRight(apiBase, "/"), gcsBase: strings.TrimRight(gcsBase, "/")}
}

func (v *Veo) PlatformKey() string { return "veo" }

func (v *Veo) IsQueued() bool { return true }

func (v *Veo) modelURL() string {
	return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s",
		v.apiBase, v.cfg.ProjectID, v.cfg.Location, v.cfg.Model)
}

type veoPayload struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio"`
	StorageURI      string `json:"storageUri"`
	SampleCount     int    `json:"sampleCount"`
	DurationSeconds int    `json:"durationSeconds"`
	EnhancePrompt   bool   `json:"enhancePrompt"`
}

// clipSeconds clamps the requested duration to what the model accepts.
func clipSeconds(d float64) int {
	if d <= 0 {
		return veoMaxDuration
	}
	s := int(math.Ceil(d))
	if s > veoMaxDuration {
		s = veoMaxDuration
	}
	return s
}

func (v *Veo) Generate(ctx context.Context, req Request) (*Result, error) {
	var op struct {
		Name string `json:"name"`
	}
	err := v.postJSON(ctx, v.modelURL()+":predictLongRunning", veoPayload{
		Instances: []veoInstance{{Prompt: req.Text}},
		Parameters: veoParameters{
			AspectRatio:     veoAspectRatio,
			StorageURI:      fmt.Sprintf("gs://%s/veo_generated_videos/", v.cfg.Bucket),
			SampleCount:     1,
			DurationSeconds: clipSeconds(req.Duration),
			EnhancePrompt:   true,
		},
	}, &op, nil)
	if err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, fmt.Errorf("missing operation name in vertex ai response")
	}
	return &Result{ExternalID: op.Name}, nil
}

func (v *Veo) CheckJobStatus(ctx context.Context, externalID string) (*JobStatus, error) {
	var (
		raw json.RawMessage
		op  struct {
			Done     bool `json:"done"`
			Response struct {
				Videos []struct {
					GcsURI   string `json:"gcsUri"`
					MimeType string `json:"mimeType"`
				} `json:"videos"`
			} `json:"response"`
		}
	)
	err := v.postJSON(ctx, v.modelURL()+":fetchPredictOperation", map[string]string{"operationName": externalID}, &op, &raw)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{Done: op.Done, Raw: raw}
	if op.Done && len(op.Response.Videos) > 0 {
		status.URI = op.Response.Videos[0].GcsURI
	}
	return status, nil
}

// Download streams a gs:// object through the GCS JSON API.
func (v *Veo) Download(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := splitGCSURI(uri)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", v.gcsBase, url.PathEscape(bucket), url.PathEscape(object))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download GCS object %s: status %d: %s", object, resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func splitGCSURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %s", uri)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid gs:// uri: %s", uri)
	}
	return bucket, object, nil
}

func (v *Veo) postJSON(ctx context.Context, endpoint string, in, out interface{}, raw *json.RawMessage) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call vertex ai: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read vertex ai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vertex ai error [%d]: %s", resp.StatusCode, string(body))
	}
	if raw != nil {
		*raw = body
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode vertex ai response: %w", err)
	}
	return nil
}
