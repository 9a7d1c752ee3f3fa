package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

func TestSeedPlatformsIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)

	created, err := SeedPlatforms(t.Context(), db)
	require.NoError(t, err)
	assert.Equal(t, 6, created)

	require.NoError(t, db.Model(&models.Platform{}).Where("slug = ?", "youtube").Update("best_times", models.StringArray{"08:00-09:00"}).Error)

	created, err = SeedPlatforms(t.Context(), db)
	require.NoError(t, err)
	assert.Zero(t, created)

	var platforms []models.Platform
	require.NoError(t, db.Order("id").Find(&platforms).Error)
	require.Len(t, platforms, 6)

	enabled := map[string]bool{}
	for _, p := range platforms {
		enabled[p.Slug] = p.IsEnabled
	}
	assert.True(t, enabled["youtube"])
	assert.False(t, enabled["tiktok"])
	assert.False(t, enabled["linkedin_video"])
	assert.Equal(t, models.StringArray{"08:00-09:00"}, platforms[0].BestTimes)
}
