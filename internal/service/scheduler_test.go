package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

type fakeDispatcher struct {
	jobs   []string
	queued bool
	err    error
}

func (f *fakeDispatcher) Trigger(ctx context.Context, job string, payload interface{}) (bool, error) {
	f.jobs = append(f.jobs, job)
	return f.queued, f.err
}

func TestNewSchedulerRejectsBadTimezone(t *testing.T) {
	_, err := NewScheduler(&config.SchedulerConfig{Timezone: "Mars/Olympus"}, testutil.NewLogger())
	assert.Error(t, err)
}

func TestSchedulerAdd(t *testing.T) {
	s, err := NewScheduler(&config.SchedulerConfig{Enabled: true, Timezone: "Europe/London"}, testutil.NewLogger())
	require.NoError(t, err)

	require.NoError(t, s.Add("snapshot-stats", "@hourly", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Add("disabled", "", func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Add("broken", "every tuesday", func(ctx context.Context) error { return nil }))

	infos := s.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "snapshot-stats", infos[0].Name)
}

func TestAddTriggerDispatchesJob(t *testing.T) {
	s, err := NewScheduler(&config.SchedulerConfig{}, testutil.NewLogger())
	require.NoError(t, err)

	d := &fakeDispatcher{}
	for job, spec := range Triggers(&config.SchedulerConfig{
		FetchNews:               "@daily",
		PollBatches:             "*/5 * * * *",
		CheckQueuedAssets:       "*/5 * * * *",
		FindReadyScripts:        "*/5 * * * *",
		ProcessScheduledUploads: "* * * * *",
		ReclaimStale:            "*/15 * * * *",
	}) {
		require.NoError(t, s.AddTrigger(job, spec, d))
	}
	assert.Len(t, s.List(), 6)

	for _, e := range s.cron.Entries() {
		e.Job.Run()
	}
	assert.ElementsMatch(t, []string{
		"fetch-news", "poll-batches", "check-queued-assets", "find-ready-scripts", "process-scheduled-uploads", "reclaim-stale",
	}, d.jobs)
}

func TestAddTriggerLogsDispatchError(t *testing.T) {
	s, err := NewScheduler(&config.SchedulerConfig{}, testutil.NewLogger())
	require.NoError(t, err)

	d := &fakeDispatcher{err: errors.New("database is locked")}
	require.NoError(t, s.AddTrigger("fetch-news", "@daily", d))
	for _, e := range s.cron.Entries() {
		assert.NotPanics(t, e.Job.Run)
	}
	assert.Equal(t, []string{"fetch-news"}, d.jobs)
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	s, err := NewScheduler(&config.SchedulerConfig{Enabled: false}, testutil.NewLogger())
	require.NoError(t, err)
	assert.NoError(t, s.Start(context.Background()))
}
