package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 0.85, cfg.Pipeline.NoveltyThreshold)
	assert.Equal(t, 5, cfg.Pipeline.NoveltyTopK)
	assert.Equal(t, 10, cfg.Pipeline.PageSize)
	assert.Equal(t, "weekly", cfg.Pipeline.ScheduleMode)
	assert.Equal(t, "24h", cfg.OpenAI.CompletionWindow)
	assert.Equal(t, 3, cfg.ElevenLabs.ThrottleSlots)
	assert.Equal(t, 4, cfg.Queue.MaxAttempts)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.PollBatches)
	assert.Equal(t, "*/15 * * * *", cfg.Scheduler.ReclaimStale)
	assert.Equal(t, "2h", cfg.Pipeline.ClaimLease)
}

func TestLoadConfig_RejectsUnknownScheduleMode(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  schedule_mode: hourly\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.ElevenLabs.ThrottleWait = "soon"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevenlabs.throttle_wait")
}

func TestValidate_NewsSourceDriver(t *testing.T) {
	cfg := &Config{}
	cfg.News.Sources = []NewsSourceConfig{{Name: "x", Driver: "fax"}}
	ApplyDefaults(cfg)

	assert.Error(t, Validate(cfg))
}

func TestMustDuration(t *testing.T) {
	assert.Equal(t, "1s", MustDuration("1s").String())
	assert.Panics(t, func() { MustDuration("nope") })
}
