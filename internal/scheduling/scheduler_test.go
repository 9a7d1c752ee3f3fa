package scheduling

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

// Wednesday 2026-10-14 10:00 UTC.
var wednesday = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func createPlatform(t *testing.T, db *gorm.DB, slug, tz string, quota *int) *models.Platform {
	t.Helper()
	p := &models.Platform{
		Name:                      slug,
		Slug:                      slug,
		Timezone:                  tz,
		RecommendedUploadsPerWeek: quota,
		BestDays:                  models.StringArray{"monday", "thursday"},
		BestTimes:                 models.StringArray{"12:00-15:00", "19:00-22:00"},
		IsEnabled:                 true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func addUpload(t *testing.T, db *gorm.DB, p *models.Platform, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.ScheduledUpload{
		Title:       "existing",
		FilePath:    "scripts/1/generated_videos/x.mp4",
		PlatformID:  p.ID,
		ScheduledAt: at.UTC(),
		Timezone:    "UTC",
		Status:      models.UploadPending,
	}).Error)
}

func newScheduler(db *gorm.DB, mode string) *Scheduler {
	return NewScheduler(db, mode, testutil.NewLogger()).WithClock(func() time.Time { return wednesday })
}

func TestWeeklyPicksFirstFutureCandidate(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", intPtr(4))

	at, err := newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), at)
}

func TestWeeklyQuotaRollsOver(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", intPtr(4))
	for _, d := range []int{12, 13, 14, 18} {
		addUpload(t, db, p, time.Date(2026, 10, d, 8, 0, 0, 0, time.UTC))
	}

	at, err := newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), at)
}

func TestWeeklySkipsTakenDay(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", intPtr(4))
	addUpload(t, db, p, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))

	at, err := newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), at)
}

func TestWeeklyNeverDoublesUpADay(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", intPtr(4))
	p.AllowSameDayUploads = true
	taken := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	addUpload(t, db, p, taken)

	s := newScheduler(db, ModeWeekly)
	at, err := s.NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.NotEqual(t, taken, at)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), at)

	addUpload(t, db, p, at)
	at, err = s.NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 22, 12, 0, 0, 0, time.UTC), at)
}

func TestWeeklyUsesPlatformTimezone(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "America/New_York", intPtr(4))
	// 03:00 UTC Thursday is still Wednesday evening in New York.
	addUpload(t, db, p, time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC))

	at, err := newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", at.Location().String())
	assert.Equal(t, time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC), at.UTC())
}

func TestWeeklyNoCandidates(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", intPtr(4))
	p.BestTimes = nil

	_, err := newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	assert.ErrorIs(t, err, ErrNoSlot)

	p.BestTimes = models.StringArray{"12:00-15:00"}
	p.RecommendedUploadsPerWeek = intPtr(0)
	_, err = newScheduler(db, ModeWeekly).NextSlot(context.Background(), p)
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestDailySlots(t *testing.T) {
	db := testutil.NewDB(t)
	p := createPlatform(t, db, "youtube", "UTC", nil)
	s := newScheduler(db, ModeDaily)

	at, err := s.NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), at)

	addUpload(t, db, p, at)
	at, err = s.NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), at)

	late := s.WithClock(func() time.Time { return time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC) })
	at, err = late.NextSlot(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC), at)
}

func TestScheduleScript(t *testing.T) {
	db := testutil.NewDB(t)
	createPlatform(t, db, "youtube", "UTC", intPtr(4))
	createPlatform(t, db, "tiktok", "Europe/Berlin", nil)
	_, script := testutil.CreateScript(t, db, models.StageVideoAssembled, 2)

	s := newScheduler(db, ModeWeekly)
	_, err := s.ScheduleScript(context.Background(), script)
	assert.Error(t, err)

	video := "scripts/1/generated_videos/final.mp4"
	script.VideoPath = &video
	uploads, err := s.ScheduleScript(context.Background(), script)
	require.NoError(t, err)
	require.Len(t, uploads, 2)

	assert.Equal(t, "Hook", uploads[0].Title)
	assert.Equal(t, "What happened", uploads[0].Description)
	assert.Equal(t, models.StringArray{"#tech", "#news"}, uploads[0].Tags)
	assert.Equal(t, video, uploads[0].FilePath)
	assert.Equal(t, "UTC", uploads[0].Timezone)
	assert.Equal(t, "Europe/Berlin", uploads[1].Timezone)
	assert.Equal(t, models.UploadPending, uploads[1].Status)

	var stored []models.ScheduledUpload
	require.NoError(t, db.Order("id").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.Equal(t, *script.VideoPath, stored[1].FilePath)
	assert.True(t, stored[0].ScheduledAt.Equal(uploads[0].ScheduledAt))
}

func TestWeeklyLimit(t *testing.T) {
	assert.Equal(t, 7, WeeklyLimit(&models.Platform{Slug: "tiktok"}))
	assert.Equal(t, 4, WeeklyLimit(&models.Platform{Slug: "youtube"}))
	assert.Equal(t, 2, WeeklyLimit(&models.Platform{Slug: "tiktok", RecommendedUploadsPerWeek: intPtr(2)}))
}

func TestCandidates(t *testing.T) {
	c, err := Candidates([]string{"Thursday", "monday"}, []string{"19:00-22:00", "08:30-10:00"})
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{3, 19, 0}, {3, 8, 30}, {0, 19, 0}, {0, 8, 30}}, c)

	_, err = Candidates([]string{"someday"}, []string{"10:00-11:00"})
	assert.Error(t, err)
	_, err = Candidates([]string{"monday"}, []string{"late"})
	assert.Error(t, err)
}

func TestStartOfWeek(t *testing.T) {
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), startOfWeek(wednesday))
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), startOfWeek(sunday))
}
