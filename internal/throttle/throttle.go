// Package throttle limits access to a rate limited API across every worker
// process by leasing rows of a shared slot table.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/quickbyte/internal/models"
)

// ErrTimeout is returned when no slot frees up within the wait window.
var ErrTimeout = errors.New("throttle: timed out waiting for a slot")

type Options struct {
	// Slots is the number of concurrent holders allowed.
	Slots int
	// Refresh is both the poll interval and the cool-down applied to a slot
	// after release.
	Refresh time.Duration
	// Wait bounds how long Acquire blocks.
	Wait time.Duration
	// Hold caps how long a crashed holder can keep a slot.
	Hold time.Duration
}

type Throttle struct {
	db     *gorm.DB
	key    string
	opts   Options
	holder string
	logger *zap.Logger

	now func() time.Time
}

func New(db *gorm.DB, key string, opts Options, logger *zap.Logger) *Throttle {
	if opts.Slots <= 0 {
		opts.Slots = 1
	}
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}
	if opts.Hold <= 0 {
		opts.Hold = 5 * time.Minute
	}
	host, _ := os.Hostname()
	return &Throttle{
		db:     db,
		key:    key,
		opts:   opts,
		holder: fmt.Sprintf("%s-%d", host, os.Getpid()),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Lease is a held slot.
type Lease struct {
	t          *Throttle
	slot       int
	acquiredAt time.Time
}

func (t *Throttle) ensureSlots(ctx context.Context) error {
	rows := make([]models.ThrottleSlot, t.opts.Slots)
	for i := range rows {
		rows[i] = models.ThrottleSlot{Key: t.key, Slot: i}
	}
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (t *Throttle) tryAcquire(ctx context.Context) (*Lease, error) {
	now := t.now()
	expires := now.Add(t.opts.Hold)
	for slot := 0; slot < t.opts.Slots; slot++ {
		res := t.db.WithContext(ctx).Model(&models.ThrottleSlot{}).
			Where("lock_key = ? AND slot = ? AND (expires_at IS NULL OR expires_at <= ?)", t.key, slot, now).
			Updates(map[string]interface{}{
				"holder":      t.holder,
				"acquired_at": now,
				"expires_at":  expires,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &Lease{t: t, slot: slot, acquiredAt: now}, nil
		}
	}
	return nil, nil
}

// Acquire blocks until a slot is free, ctx is done or the wait window
// passes, in which case ErrTimeout is returned.
func (t *Throttle) Acquire(ctx context.Context) (*Lease, error) {
	if err := t.ensureSlots(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare throttle slots: %w", err)
	}

	deadline := t.now().Add(t.opts.Wait)
	for {
		lease, err := t.tryAcquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire throttle slot: %w", err)
		}
		if lease != nil {
			return lease, nil
		}
		if !t.now().Before(deadline) {
			t.logger.Debug("Throttle wait exceeded", zap.String("key", t.key))
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.opts.Refresh):
		}
	}
}

// Release frees the slot once the refresh window since acquisition passes,
// so at most Slots calls start per window.
func (l *Lease) Release(ctx context.Context) error {
	t := l.t
	freeAt := l.acquiredAt.Add(t.opts.Refresh)
	if now := t.now(); freeAt.Before(now) {
		freeAt = now
	}
	return t.db.WithContext(context.WithoutCancel(ctx)).Model(&models.ThrottleSlot{}).
		Where("lock_key = ? AND slot = ? AND holder = ?", t.key, l.slot, t.holder).
		Updates(map[string]interface{}{
			"expires_at": freeAt,
		}).Error
}

// Do runs fn while holding a slot.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	lease, err := t.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			t.logger.Warn("Failed to release throttle slot", zap.String("key", t.key), zap.Error(err))
		}
	}()
	return fn(ctx)
}
