package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Pinecone talks to a single Pinecone index over its data plane API.
type Pinecone struct {
	apiKey     string
	host       string
	httpClient *http.Client
}

func NewPinecone(apiKey, indexHost string) *Pinecone {
	host := strings.TrimRight(indexHost, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return &Pinecone{
		apiKey:     apiKey,
		host:       host,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

func (p *Pinecone) Upsert(ctx context.Context, vectors []Vector) error {
	byNamespace := map[string][]Vector{}
	var order []string
	for _, v := range vectors {
		if _, ok := byNamespace[v.Namespace]; !ok {
			order = append(order, v.Namespace)
		}
		byNamespace[v.Namespace] = append(byNamespace[v.Namespace], v)
	}

	for _, ns := range order {
		if err := p.post(ctx, "/vectors/upsert", upsertRequest{Vectors: byNamespace[ns], Namespace: ns}, nil); err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}
	}
	return nil
}

func (p *Pinecone) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	var resp queryResponse
	err := p.post(ctx, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       opts.Namespace,
		IncludeMetadata: opts.IncludeMetadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	return resp.Matches, nil
}

func (p *Pinecone) post(ctx context.Context, path string, payload, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pinecone API error: %d - %s", resp.StatusCode, string(body))
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}
