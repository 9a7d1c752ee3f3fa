package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/prompt"
)

const transitionPad = 0.5

type chatBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingBody struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func chatContent(r Result) (string, error) {
	if r.Response == nil || len(r.Response.Body) == 0 {
		return "", errors.New("empty response")
	}
	var body chatBody
	if err := json.Unmarshal(r.Response.Body, &body); err != nil {
		return "", fmt.Errorf("invalid chat body: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return stripFences(body.Choices[0].Message.Content), nil
}

// stripFences removes a markdown code fence the model sometimes adds.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// ClassifiedItem is one news item selected by the classifier.
type ClassifiedItem struct {
	Source      string `json:"source"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	URL         string `json:"url" validate:"required,url"`
	Category    string `json:"category"`
}

// ClassificationProcessor stores the selected items as new News rows.
type ClassificationProcessor struct {
	db       *gorm.DB
	validate *validator.Validate
	logger   *zap.Logger

	// OnCreated receives the ids of the rows created from one batch.
	OnCreated func(ctx context.Context, newsIDs []uint) error
}

func NewClassificationProcessor(db *gorm.DB, logger *zap.Logger) *ClassificationProcessor {
	return &ClassificationProcessor{db: db, validate: validator.New(), logger: logger}
}

func decodeClassified(content string) ([]ClassifiedItem, error) {
	var items []ClassifiedItem
	if err := json.Unmarshal([]byte(content), &items); err == nil {
		return items, nil
	}
	// json_object responses wrap the array in an object.
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, fmt.Errorf("invalid classifier output: %w", err)
	}
	for _, raw := range wrapped {
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
	}
	return nil, errors.New("classifier output holds no article array")
}

func (p *ClassificationProcessor) Process(ctx context.Context, b *models.OpenaiBatch, results []Result) error {
	var created []uint
	for _, r := range results {
		content, err := chatContent(r)
		if err != nil {
			p.logger.Warn("Skipping classifier result", zap.String("custom_id", r.CustomID), zap.Error(err))
			continue
		}
		items, err := decodeClassified(content)
		if err != nil {
			p.logger.Warn("Skipping classifier result", zap.String("custom_id", r.CustomID), zap.Error(err))
			continue
		}

		for _, item := range items {
			if err := p.validate.Struct(item); err != nil {
				p.logger.Warn("Dropping invalid classified item", zap.String("url", item.URL), zap.Error(err))
				continue
			}

			var existing int64
			if err := p.db.WithContext(ctx).Model(&models.News{}).Where("url = ?", item.URL).Count(&existing).Error; err != nil {
				return fmt.Errorf("failed to check existing news: %w", err)
			}
			if existing > 0 {
				continue
			}

			news := &models.News{
				Title:        item.Title,
				Description:  item.Description,
				URL:          item.URL,
				Source:       item.Source,
				Category:     item.Category,
				CurrentStage: models.StageNew,
			}
			if err := p.db.WithContext(ctx).Create(news).Error; err != nil {
				return fmt.Errorf("failed to create news: %w", err)
			}
			created = append(created, news.ID)
		}
	}

	p.logger.Info("Stored classified news", zap.String("batch_id", b.ProviderBatchID), zap.Int("count", len(created)))
	if len(created) == 0 || p.OnCreated == nil {
		return nil
	}
	return p.OnCreated(ctx, created)
}

// Embedding is the vector of one news item.
type Embedding struct {
	NewsID uint
	Vector []float32
}

// EmbeddingProcessor extracts vectors and hands them on.
type EmbeddingProcessor struct {
	logger *zap.Logger

	OnEmbedded func(ctx context.Context, embeddings []Embedding) error
}

func NewEmbeddingProcessor(logger *zap.Logger) *EmbeddingProcessor {
	return &EmbeddingProcessor{logger: logger}
}

func (p *EmbeddingProcessor) Process(ctx context.Context, b *models.OpenaiBatch, results []Result) error {
	embeddings := make([]Embedding, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseUint(r.CustomID, 10, 64)
		if err != nil {
			p.logger.Warn("Skipping embedding with invalid custom_id", zap.String("custom_id", r.CustomID))
			continue
		}
		var vector []float32
		if r.Response != nil && len(r.Response.Body) > 0 {
			var body embeddingBody
			if err := json.Unmarshal(r.Response.Body, &body); err == nil && len(body.Data) > 0 {
				vector = body.Data[0].Embedding
			}
		}
		embeddings = append(embeddings, Embedding{NewsID: uint(id), Vector: vector})
	}

	if p.OnEmbedded == nil {
		return nil
	}
	return p.OnEmbedded(ctx, embeddings)
}

const scriptSchema = `{
  "type": "object",
  "required": ["metadata", "hook", "scenes", "background_music"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["title"],
      "properties": {
        "title": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "hashtags": {"type": "array", "items": {"type": "string"}}
      }
    },
    "hook": {"type": "string"},
    "background_music": {"type": "string"},
    "scenes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["headline", "visual", "voiceover"],
        "properties": {
          "headline": {"type": "string"},
          "visual": {"type": "string", "minLength": 1},
          "voiceover": {"type": "string", "minLength": 1},
          "transition": {"type": "string"},
          "sound_effect": {"type": "string"}
        }
      }
    }
  }
}`

var scriptSchemaLoader = gojsonschema.NewStringLoader(scriptSchema)

// GeneratedScript is the JSON document the script model returns.
type GeneratedScript struct {
	Metadata        models.ScriptMetadata `json:"metadata"`
	Hook            string                `json:"hook"`
	BackgroundMusic string                `json:"background_music"`
	Scenes          []GeneratedScene      `json:"scenes"`
}

type GeneratedScene struct {
	Headline    string `json:"headline"`
	Visual      string `json:"visual"`
	Voiceover   string `json:"voiceover"`
	Transition  string `json:"transition"`
	SoundEffect string `json:"sound_effect"`
}

// DecodeScript validates and decodes a generated script document.
func DecodeScript(content string) (*GeneratedScript, error) {
	result, err := gojsonschema.Validate(scriptSchemaLoader, gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, fmt.Errorf("invalid script JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("script does not match schema: %s", strings.Join(msgs, "; "))
	}

	var script GeneratedScript
	if err := json.Unmarshal([]byte(content), &script); err != nil {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}
	return &script, nil
}

// BuildScenes turns generated scenes into ordered Scene rows. Voiceover text
// gets SSML terms and its neighbours for continuity; duration is the
// estimated narration time plus the transition pad.
func BuildScenes(generated []GeneratedScene) []models.Scene {
	scenes := make([]models.Scene, 0, len(generated))
	for i, g := range generated {
		text, speech := prompt.ApplySSML(g.Voiceover)

		var prev, next string
		if i > 0 {
			prev = prompt.CleanVoiceover(generated[i-1].Voiceover)
		}
		if i+1 < len(generated) {
			next = prompt.CleanVoiceover(generated[i+1].Voiceover)
		}

		transition := g.Transition
		if transition == "" {
			transition = "fade"
		}

		scenes = append(scenes, models.Scene{
			Order:    i + 1,
			Headline: g.Headline,
			Visual:   g.Visual,
			Voiceover: models.Voiceover{
				Text:         text,
				PreviousText: prev,
				NextText:     next,
			},
			Transition:  transition,
			SoundEffect: g.SoundEffect,
			Duration:    speech + transitionPad,
		})
	}
	return scenes
}

// ScriptProcessor stores generated scripts with their scenes.
type ScriptProcessor struct {
	db     *gorm.DB
	logger *zap.Logger

	// OnStored receives the ids of the scripts stored from one batch.
	OnStored func(ctx context.Context, scriptIDs []uint) error
	// OnInvalid is told about an article whose script could not be used.
	OnInvalid func(ctx context.Context, articleID uint, err error)
}

func NewScriptProcessor(db *gorm.DB, logger *zap.Logger) *ScriptProcessor {
	return &ScriptProcessor{db: db, logger: logger}
}

func (p *ScriptProcessor) Process(ctx context.Context, b *models.OpenaiBatch, results []Result) error {
	var stored []uint
	for _, r := range results {
		articleID, err := strconv.ParseUint(r.CustomID, 10, 64)
		if err != nil {
			p.logger.Warn("Skipping script with invalid custom_id", zap.String("custom_id", r.CustomID))
			continue
		}

		scriptID, err := p.store(ctx, uint(articleID), r)
		if err != nil {
			p.logger.Warn("Generated script rejected", zap.Uint64("article_id", articleID), zap.Error(err))
			if p.OnInvalid != nil {
				p.OnInvalid(ctx, uint(articleID), err)
			}
			continue
		}
		stored = append(stored, scriptID)
	}

	if len(stored) == 0 || p.OnStored == nil {
		return nil
	}
	return p.OnStored(ctx, stored)
}

func (p *ScriptProcessor) store(ctx context.Context, articleID uint, r Result) (uint, error) {
	content, err := chatContent(r)
	if err != nil {
		return 0, err
	}
	generated, err := DecodeScript(content)
	if err != nil {
		return 0, err
	}

	metadata, err := json.Marshal(generated.Metadata)
	if err != nil {
		return 0, err
	}

	var scriptID uint
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Script
		err := tx.Where("article_id = ?", articleID).First(&existing).Error
		if err == nil {
			scriptID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		script := &models.Script{
			ArticleID: articleID,
			Title:     generated.Metadata.Title,
			Hook:      generated.Hook,
			Payload:   datatypes.JSON(content),
			BgMusic:   generated.BackgroundMusic,
			Metadata:  datatypes.JSON(metadata),
			Scenes:    BuildScenes(generated.Scenes),
		}
		if err := tx.Create(script).Error; err != nil {
			return fmt.Errorf("failed to store script: %w", err)
		}
		scriptID = script.ID
		return nil
	})
	return scriptID, err
}
