// Package vectorindex stores news embeddings and answers nearest-neighbour
// queries for the novelty filter.
package vectorindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/config"
)

type Vector struct {
	ID        string                 `json:"id"`
	Values    []float32              `json:"values"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Namespace string                 `json:"-"`
}

type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type QueryOptions struct {
	TopK            int
	Namespace       string
	IncludeMetadata bool
}

type Index interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)
}

// New builds the index selected by cfg.Driver.
func New(cfg config.VectorIndexConfig, db *gorm.DB, logger *zap.Logger) (Index, error) {
	switch cfg.Driver {
	case "pinecone":
		if cfg.Pinecone.IndexHost == "" {
			return nil, fmt.Errorf("vector_index.pinecone.index_host is required")
		}
		return NewPinecone(cfg.Pinecone.APIKey, cfg.Pinecone.IndexHost), nil
	case "local":
		return NewLocal(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown vector index driver %q", cfg.Driver)
	}
}
