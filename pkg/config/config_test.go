package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 8*time.Minute, cfg.Scheduler.TimeBudget)
	assert.Equal(t, 7, cfg.Scheduler.DailyCap)
	assert.Equal(t, []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday"}, cfg.Scheduler.WorkingDays)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.ProgressInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.ProgressTTL)
	assert.Equal(t, 2, cfg.Scheduler.WorkerConcurrency)
	assert.Equal(t, 1, cfg.Scheduler.WorkerRetries)
	assert.True(t, cfg.Scheduler.StrictScope)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", EnvProduction)
	t.Setenv("SCHEDULER_TIME_BUDGET", "90s")
	t.Setenv("SCHEDULER_DAILY_CAP", "5")
	t.Setenv("SCHEDULER_WORKING_DAYS", "Monday, Tuesday ,,Friday")
	t.Setenv("SCHEDULER_STRICT_SCOPE", "false")
	t.Setenv("SCHEDULER_WORKER_RETRIES", "-3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test, https://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.TimeBudget)
	assert.Equal(t, 5, cfg.Scheduler.DailyCap)
	assert.Equal(t, []string{"Monday", "Tuesday", "Friday"}, cfg.Scheduler.WorkingDays)
	assert.False(t, cfg.Scheduler.StrictScope)
	assert.Equal(t, 0, cfg.Scheduler.WorkerRetries)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("SCHEDULER_TIME_BUDGET", "soon")
	t.Setenv("SCHEDULER_DAILY_CAP", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Minute, cfg.Scheduler.TimeBudget)
	assert.Equal(t, 7, cfg.Scheduler.DailyCap)
}
