package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	embedding "github.com/matthewjhunter/go-embedding"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/quickbyte/internal/models"
)

// Local keeps vectors in the pipeline database and scores queries by brute
// force cosine similarity. Suitable for development and small corpora.
type Local struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewLocal(db *gorm.DB, logger *zap.Logger) *Local {
	return &Local{db: db, logger: logger}
}

func (l *Local) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	rows := make([]models.VectorPoint, 0, len(vectors))
	for _, v := range vectors {
		var meta datatypes.JSON
		if len(v.Metadata) > 0 {
			raw, err := json.Marshal(v.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of %s: %w", v.ID, err)
			}
			meta = datatypes.JSON(raw)
		}
		rows = append(rows, models.VectorPoint{
			ID:        v.ID,
			Namespace: v.Namespace,
			Vector:    embedding.EncodeFloat32s(v.Values),
			Metadata:  meta,
		})
	}

	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "metadata"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (l *Local) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	var points []models.VectorPoint
	if err := l.db.WithContext(ctx).Where("namespace = ?", opts.Namespace).Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		m := Match{
			ID:    p.ID,
			Score: embedding.CosineSimilarity(vector, embedding.DecodeFloat32s(p.Vector)),
		}
		if opts.IncludeMetadata && len(p.Metadata) > 0 {
			_ = json.Unmarshal(p.Metadata, &m.Metadata)
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
