package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/internal/scheduler"
	"github.com/agentplane/agentplane/tests/helpers"
)

func seedSchedule(t *testing.T, store *repository.SQLiteStore, id, expression string, enabled bool) {
	t.Helper()
	now := time.Now()
	cs := &domain.CronSchedule{
		ScheduleID:  id,
		AssistantID: "a1",
		Expression:  expression,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateSchedule(context.Background(), cs))
}

func firingCount(t *testing.T, store *repository.SQLiteStore, scheduleID string) int {
	t.Helper()
	firings, err := store.ListFiringsBySchedule(context.Background(), scheduleID)
	require.NoError(t, err)
	return len(firings)
}

func TestTriggerLoopFiresOncePerMatchingMinute(t *testing.T) {
	store := helpers.NewTestStore(t)
	seedSchedule(t, store, "cs1", "*/5 * * * *", true)

	loop := scheduler.NewTriggerLoop(store, time.Minute, metrics.NewNopCollector(), zap.NewNop())

	noon := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// 12:00:00 matches */5: exactly one firing.
	require.NoError(t, loop.RunOnce(noon))
	assert.Equal(t, 1, firingCount(t, store, "cs1"))

	// 12:00:30 lands in an already-evaluated minute: nothing new.
	require.NoError(t, loop.RunOnce(noon.Add(30*time.Second)))
	assert.Equal(t, 1, firingCount(t, store, "cs1"))

	// 12:01:00 does not match */5.
	require.NoError(t, loop.RunOnce(noon.Add(time.Minute)))
	assert.Equal(t, 1, firingCount(t, store, "cs1"))

	// 12:05:00 matches again: second firing.
	require.NoError(t, loop.RunOnce(noon.Add(5*time.Minute)))
	assert.Equal(t, 2, firingCount(t, store, "cs1"))
}

func TestTriggerLoopSkipsInvalidExpressions(t *testing.T) {
	store := helpers.NewTestStore(t)
	seedSchedule(t, store, "bad", "not a cron", true)
	seedSchedule(t, store, "good", "* * * * *", true)

	loop := scheduler.NewTriggerLoop(store, time.Minute, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, 0, firingCount(t, store, "bad"))
	assert.Equal(t, 1, firingCount(t, store, "good"), "a bad sibling never blocks a valid schedule")
}

func TestTriggerLoopIgnoresDisabledSchedules(t *testing.T) {
	store := helpers.NewTestStore(t)
	seedSchedule(t, store, "off", "* * * * *", false)

	loop := scheduler.NewTriggerLoop(store, time.Minute, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, 0, firingCount(t, store, "off"))
}

func TestTriggerLoopNeverDoubleFiresAcrossRestart(t *testing.T) {
	store := helpers.NewTestStore(t)
	seedSchedule(t, store, "cs1", "* * * * *", true)

	noon := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	loop := scheduler.NewTriggerLoop(store, time.Minute, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(noon))

	// A fresh loop (new process) inside the same minute sees the stored
	// firing and does not add another.
	restarted := scheduler.NewTriggerLoop(store, time.Minute, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, restarted.RunOnce(noon.Add(45*time.Second)))

	assert.Equal(t, 1, firingCount(t, store, "cs1"))
}
