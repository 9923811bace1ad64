package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incomes/internal/backup"
	"incomes/internal/log"
)

type countingJob struct{ runs atomic.Int32 }

func (j *countingJob) Run(context.Context) backup.Outcome {
	j.runs.Add(1)
	return backup.Outcome{Path: "/b/incomes.db"}
}

func TestNextRun(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*60*60)
	cfg := ScheduleConfig{Hour: 2, Minute: 0, Location: shanghai}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before trigger same day", time.Date(2024, 3, 1, 1, 59, 0, 0, shanghai), time.Date(2024, 3, 1, 2, 0, 0, 0, shanghai)},
		{"exactly at trigger", time.Date(2024, 3, 1, 2, 0, 0, 0, shanghai), time.Date(2024, 3, 2, 2, 0, 0, 0, shanghai)},
		{"after trigger", time.Date(2024, 3, 1, 13, 0, 0, 0, shanghai), time.Date(2024, 3, 2, 2, 0, 0, 0, shanghai)},
		{"month rollover", time.Date(2024, 2, 29, 3, 0, 0, 0, shanghai), time.Date(2024, 3, 1, 2, 0, 0, 0, shanghai)},
		// 17:30 UTC is 01:30 the next day in Shanghai.
		{"utc input", time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC), time.Date(2024, 3, 2, 2, 0, 0, 0, shanghai)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.NextRun(tt.now)
			assert.True(t, got.Equal(tt.want), "NextRun(%v) = %v, want %v", tt.now, got, tt.want)
		})
	}
}

func TestDefaultScheduleConfig(t *testing.T) {
	cfg := DefaultScheduleConfig()
	assert.Equal(t, 2, cfg.Hour)
	assert.Equal(t, 0, cfg.Minute)
	require.NotNil(t, cfg.Location)
}

func TestBackupScheduler_FiresAndStops(t *testing.T) {
	job := &countingJob{}
	loc := time.UTC
	s := NewBackupScheduler(job, ScheduleConfig{Hour: 2, Minute: 0, Location: loc}, log.Discard())
	// Always 20ms before the trigger, so every wait is short.
	s.now = func() time.Time { return time.Date(2024, 3, 1, 2, 0, 0, 0, loc).Add(-20 * time.Millisecond) }

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(ctx), "second start is rejected")

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())

	runs := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, job.runs.Load(), "no runs after stop")
}

func TestBackupScheduler_StopWithoutStart(t *testing.T) {
	s := NewBackupScheduler(&countingJob{}, DefaultScheduleConfig(), log.Discard())
	assert.NoError(t, s.Stop(context.Background()))
}
