package service

import (
	"context"

	"go.uber.org/zap"
)

// StatsUpdater writes the periodic monitoring snapshots.
type StatsUpdater struct {
	monitoringService *MonitoringService
	logger            *zap.Logger
	retentionDays     int
}

// NewStatsUpdater creates a new stats updater
func NewStatsUpdater(monitoringService *MonitoringService, logger *zap.Logger, retentionDays int) *StatsUpdater {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &StatsUpdater{
		monitoringService: monitoringService,
		logger:            logger,
		retentionDays:     retentionDays,
	}
}

// Run performs one snapshot. Each step is attempted even when an earlier
// one fails; the first error is returned.
func (s *StatsUpdater) Run(ctx context.Context) error {
	s.logger.Debug("Updating statistics")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"pipeline stats", s.monitoringService.UpdatePipelineStats},
		{"platform stats", s.monitoringService.UpdatePlatformStats},
		{"dashboard summary", s.monitoringService.UpdateDashboardSummary},
		{"old data cleanup", func() error { return s.monitoringService.CleanupOldData(s.retentionDays) }},
	}

	var first error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.fn(); err != nil {
			s.logger.Error("Failed to update statistics", zap.String("step", step.name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}

	if first == nil {
		s.logger.Debug("Statistics updated successfully")
	}
	return first
}
