package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

// CreateNews inserts a news row at the given stage.
func CreateNews(t testing.TB, db *gorm.DB, stage models.NewsStage) *models.News {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.News{}).Count(&count).Error)
	n := &models.News{
		Title:        fmt.Sprintf("Headline %d", count+1),
		Description:  "Description",
		URL:          fmt.Sprintf("https://example.com/news/%d", count+1),
		Source:       "Example",
		Category:     "technology",
		CurrentStage: stage,
	}
	require.NoError(t, db.Create(n).Error)
	return n
}

// CreateScript inserts news, article and a script with the given number of
// scenes. Scenes get durations of 3s, 4s, ...
func CreateScript(t testing.TB, db *gorm.DB, stage models.NewsStage, scenes int) (*models.News, *models.Script) {
	t.Helper()

	n := CreateNews(t, db, stage)
	summary := "Summary of " + n.Title
	article := &models.Article{NewsID: n.ID, Title: n.Title, Content: "Body", Summary: &summary}
	require.NoError(t, db.Create(article).Error)

	script := &models.Script{
		ArticleID: article.ID,
		Title:     n.Title,
		Hook:      "Hook",
		BgMusic:   "Tech",
		Metadata:  []byte(`{"title":"` + n.Title + `","description":"What happened","hashtags":["#tech","#news"]}`),
	}
	for i := 1; i <= scenes; i++ {
		script.Scenes = append(script.Scenes, models.Scene{
			Order:       i,
			Headline:    fmt.Sprintf("Scene %d", i),
			Visual:      fmt.Sprintf("Visual %d", i),
			Voiceover:   models.Voiceover{Text: fmt.Sprintf("Voice line %d.", i)},
			Transition:  "fade",
			SoundEffect: "Whoosh",
			Duration:    float64(2 + i),
		})
	}
	require.NoError(t, db.Create(script).Error)
	return n, script
}

// AddAsset attaches an asset of the given type and status to a scene.
func AddAsset(t testing.TB, db *gorm.DB, scene models.Scene, assetType models.AssetType, status models.AssetStatus) *models.Asset {
	t.Helper()

	path := fmt.Sprintf("scripts/%d/generated_voiceover/%s_%d", scene.ScriptID, assetType, scene.ID)
	a := &models.Asset{
		SceneID:   scene.ID,
		ScriptID:  scene.ScriptID,
		Type:      assetType,
		Source:    "fake",
		Status:    status,
		LocalPath: &path,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}
