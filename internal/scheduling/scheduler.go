// Package scheduling picks upload slots for finished videos on every platform.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quickbyte/internal/models"
)

const (
	ModeDaily  = "daily"
	ModeWeekly = "weekly"

	// maxWeekOffset bounds the slot search for degenerate platform settings.
	maxWeekOffset = 52
)

// ErrNoSlot is returned when no free slot exists within the search horizon.
var ErrNoSlot = errors.New("no free upload slot")

var weekdays = map[string]int{
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
	"friday": 4, "saturday": 5, "sunday": 6,
}

type Scheduler struct {
	db     *gorm.DB
	mode   string
	now    func() time.Time
	logger *zap.Logger
}

func NewScheduler(db *gorm.DB, mode string, logger *zap.Logger) *Scheduler {
	if mode == "" {
		mode = ModeWeekly
	}
	return &Scheduler{db: db, mode: mode, now: time.Now, logger: logger}
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// ScheduleScript creates one pending upload per platform for the script's
// rendered video.
func (s *Scheduler) ScheduleScript(ctx context.Context, script *models.Script) ([]models.ScheduledUpload, error) {
	if script.VideoPath == nil || *script.VideoPath == "" {
		return nil, fmt.Errorf("script %d has no video", script.ID)
	}

	var platforms []models.Platform
	if err := s.db.WithContext(ctx).Order("id").Find(&platforms).Error; err != nil {
		return nil, fmt.Errorf("failed to load platforms: %w", err)
	}

	meta := script.DecodeMetadata()
	uploads := make([]models.ScheduledUpload, 0, len(platforms))
	for i := range platforms {
		p := &platforms[i]
		at, err := s.NextSlot(ctx, p)
		if err != nil {
			return uploads, fmt.Errorf("failed to find slot for %s: %w", p.Slug, err)
		}

		scriptID := script.ID
		upload := models.ScheduledUpload{
			ScriptID:    &scriptID,
			Title:       script.Hook,
			Description: meta.Description,
			FilePath:    *script.VideoPath,
			PlatformID:  p.ID,
			ScheduledAt: at.UTC(),
			Timezone:    p.Location().String(),
			Tags:        models.StringArray(meta.Hashtags),
			Status:      models.UploadPending,
		}
		if err := s.db.WithContext(ctx).Create(&upload).Error; err != nil {
			return uploads, fmt.Errorf("failed to create scheduled upload: %w", err)
		}
		uploads = append(uploads, upload)

		s.logger.Info("Upload scheduled",
			zap.Uint("script_id", script.ID),
			zap.String("platform", p.Slug),
			zap.Time("scheduled_at", at))
	}
	return uploads, nil
}

// NextSlot returns the next free slot for p in its timezone.
func (s *Scheduler) NextSlot(ctx context.Context, p *models.Platform) (time.Time, error) {
	if s.mode == ModeDaily {
		return s.nextDailySlot(ctx, p)
	}
	return s.nextWeeklySlot(ctx, p)
}

func (s *Scheduler) nextDailySlot(ctx context.Context, p *models.Platform) (time.Time, error) {
	loc := p.Location()
	now := s.now().In(loc)

	hour, minute := 0, 0
	if len(p.BestTimes) > 0 {
		var err error
		if hour, minute, err = ParseStartTime(p.BestTimes[0]); err != nil {
			return time.Time{}, err
		}
	}

	day := startOfDay(now)
	for i := 0; i < maxWeekOffset*7; i++ {
		candidate := time.Date(day.Year(), day.Month(), day.Day()+i, hour, minute, 0, 0, loc)
		if !candidate.After(now) {
			continue
		}
		taken, err := s.dayTaken(ctx, p.ID, candidate)
		if err != nil {
			return time.Time{}, err
		}
		if !taken {
			return candidate, nil
		}
	}
	return time.Time{}, ErrNoSlot
}

func (s *Scheduler) nextWeeklySlot(ctx context.Context, p *models.Platform) (time.Time, error) {
	loc := p.Location()
	now := s.now().In(loc)
	limit := WeeklyLimit(p)

	candidates, err := Candidates(p.BestDays, p.BestTimes)
	if err != nil {
		return time.Time{}, err
	}

	base := startOfWeek(now)
	for offset := 0; offset < maxWeekOffset; offset++ {
		weekStart := base.AddDate(0, 0, 7*offset)
		count, err := s.countBetween(ctx, p.ID, weekStart, weekStart.AddDate(0, 0, 7))
		if err != nil {
			return time.Time{}, err
		}
		if count >= int64(limit) {
			continue
		}

		for _, c := range candidates {
			at := time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day()+c.Day, c.Hour, c.Minute, 0, 0, loc)
			if !at.After(now) {
				continue
			}
			// A calendar day carries at most one upload per platform,
			// whatever allow_same_day_uploads says.
			taken, err := s.dayTaken(ctx, p.ID, at)
			if err != nil {
				return time.Time{}, err
			}
			if taken {
				continue
			}
			return at, nil
		}
	}
	return time.Time{}, ErrNoSlot
}

func (s *Scheduler) dayTaken(ctx context.Context, platformID uint, at time.Time) (bool, error) {
	start := startOfDay(at)
	count, err := s.countBetween(ctx, platformID, start, start.AddDate(0, 0, 1))
	return count > 0, err
}

// countBetween counts uploads for the platform in [from, to).
func (s *Scheduler) countBetween(ctx context.Context, platformID uint, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledUpload{}).
		Where("platform_id = ? AND scheduled_at >= ? AND scheduled_at < ?", platformID, from.UTC(), to.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled uploads: %w", err)
	}
	return count, nil
}

// WeeklyLimit is the platform quota, falling back to 7 for TikTok and 4
// elsewhere.
func WeeklyLimit(p *models.Platform) int {
	if p.RecommendedUploadsPerWeek != nil {
		return *p.RecommendedUploadsPerWeek
	}
	if p.Slug == "tiktok" {
		return 7
	}
	return 4
}

// Candidate is a slot within a week, Day 0 being Monday.
type Candidate struct {
	Day    int
	Hour   int
	Minute int
}

// Candidates expands best days × best time ranges in configuration order.
func Candidates(days, times []string) ([]Candidate, error) {
	out := make([]Candidate, 0, len(days)*len(times))
	for _, d := range days {
		idx, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		for _, r := range times {
			h, m, err := ParseStartTime(r)
			if err != nil {
				return nil, err
			}
			out = append(out, Candidate{Day: idx, Hour: h, Minute: m})
		}
	}
	return out, nil
}

// ParseStartTime reads the start of an "HH:MM-HH:MM" range.
func ParseStartTime(r string) (int, int, error) {
	start, _, _ := strings.Cut(r, "-")
	hs, ms, ok := strings.Cut(strings.TrimSpace(start), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time range %q", r)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", r)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", r)
	}
	return h, m, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns Monday 00:00 of t's week.
func startOfWeek(t time.Time) time.Time {
	back := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-back, 0, 0, 0, 0, t.Location())
}
