package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

func intPtr(v int) *int { return &v }

// DefaultPlatforms are the upload targets known out of the box. Only YouTube
// starts enabled.
func DefaultPlatforms() []models.Platform {
	return []models.Platform{
		{
			Name: "YouTube", Slug: "youtube", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"monday", "tuesday", "wednesday", "thursday"},
			BestTimes:                 models.StringArray{"12:00-15:00", "19:00-22:00"},
			IsEnabled:                 true,
		},
		{
			Name: "TikTok", Slug: "tiktok", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"tuesday", "thursday", "saturday"},
			BestTimes:                 models.StringArray{"10:00-13:00", "19:00-21:00"},
		},
		{
			Name: "Instagram Reels", Slug: "instagram_reels", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"monday", "tuesday", "wednesday", "thursday", "friday"},
			BestTimes:                 models.StringArray{"11:00-13:00", "18:00-20:00"},
		},
		{
			Name: "Facebook Reels", Slug: "facebook_reels", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"tuesday", "thursday"},
			BestTimes:                 models.StringArray{"12:00-15:00"},
		},
		{
			Name: "X (Twitter Video)", Slug: "twitter_video", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"wednesday", "friday"},
			BestTimes:                 models.StringArray{"09:00-11:00"},
		},
		{
			Name: "LinkedIn Video", Slug: "linkedin_video", Timezone: "UTC",
			RecommendedUploadsPerWeek: intPtr(4),
			BestDays:                  models.StringArray{"tuesday", "wednesday", "thursday"},
			BestTimes:                 models.StringArray{"08:00-10:00", "16:00-18:00"},
		},
	}
}

// SeedPlatforms inserts the default platforms that are missing. Existing rows
// are left untouched so operator edits survive a re-seed.
func SeedPlatforms(ctx context.Context, db *gorm.DB) (int, error) {
	created := 0
	for _, p := range DefaultPlatforms() {
		var count int64
		if err := db.WithContext(ctx).Unscoped().Model(&models.Platform{}).Where("slug = ?", p.Slug).Count(&count).Error; err != nil {
			return created, fmt.Errorf("failed to look up platform %s: %w", p.Slug, err)
		}
		if count > 0 {
			continue
		}
		if err := db.WithContext(ctx).Create(&p).Error; err != nil {
			return created, fmt.Errorf("failed to create platform %s: %w", p.Slug, err)
		}
		created++
	}
	return created, nil
}
