package scheduler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/graph"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/internal/scheduler"
	"github.com/agentplane/agentplane/tests/helpers"
)

func seedDispatchFixture(t *testing.T, store *repository.SQLiteStore, graphID string) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	a := &domain.Assistant{
		AssistantID: "a1",
		Name:        "reporter",
		GraphID:     graphID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateAssistant(ctx, a))

	cs := &domain.CronSchedule{
		ScheduleID:          "cs1",
		AssistantID:         "a1",
		Expression:          "* * * * *",
		RequiredFields:      []string{"report"},
		SpecialInstructions: "summarize yesterday",
		Enabled:             true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, store.CreateSchedule(ctx, cs))

	f := &domain.CronFiring{
		FiringID:    "f1",
		ScheduleID:  "cs1",
		Status:      domain.FiringStatusScheduled,
		ScheduledAt: now.Truncate(time.Minute),
	}
	require.NoError(t, store.CreateFiring(ctx, f))
	return f.FiringID
}

func TestDispatchLoopRunsScheduledFiring(t *testing.T) {
	store := helpers.NewTestStore(t)
	graphs := graph.NewRegistry()
	graphs.Register("chat", &graph.Scripted{
		Events: []graph.StreamEvent{
			{Type: "message", Data: json.RawMessage(`{"content":"thinking"}`)},
			{Type: "message", Data: json.RawMessage(`{"content":"report done"}`)},
		},
	})
	firingID := seedDispatchFixture(t, store, "chat")

	loop := scheduler.NewDispatchLoop(store, graphs, time.Second, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(context.Background()))

	got, err := store.GetFiring(context.Background(), firingID)
	require.NoError(t, err)
	assert.Equal(t, domain.FiringStatusCompleted, got.Status)
	// The last streamed payload wins.
	assert.JSONEq(t, `{"content":"report done"}`, string(got.Output))
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	// A second pass finds nothing scheduled.
	require.NoError(t, loop.RunOnce(context.Background()))
	firings, err := store.ListScheduledFirings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, firings)
}

func TestDispatchLoopRecordsFailure(t *testing.T) {
	store := helpers.NewTestStore(t)
	graphs := graph.NewRegistry()
	graphs.Register("chat", &graph.Scripted{
		Events: []graph.StreamEvent{{Err: assert.AnError}},
	})
	firingID := seedDispatchFixture(t, store, "chat")

	loop := scheduler.NewDispatchLoop(store, graphs, time.Second, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(context.Background()))

	got, err := store.GetFiring(context.Background(), firingID)
	require.NoError(t, err)
	assert.Equal(t, domain.FiringStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestDispatchLoopUnknownGraphFailsFiringOnly(t *testing.T) {
	store := helpers.NewTestStore(t)
	graphs := graph.NewRegistry()
	firingID := seedDispatchFixture(t, store, "unregistered")

	loop := scheduler.NewDispatchLoop(store, graphs, time.Second, metrics.NewNopCollector(), zap.NewNop())
	require.NoError(t, loop.RunOnce(context.Background()))

	got, err := store.GetFiring(context.Background(), firingID)
	require.NoError(t, err)
	assert.Equal(t, domain.FiringStatusFailed, got.Status)
}

func TestBuildPromptIncludesDirective(t *testing.T) {
	prompt := scheduler.BuildPrompt(&domain.CronSchedule{
		RequiredFields:      []string{"report", "channel"},
		SpecialInstructions: "post to #updates",
	})
	assert.Contains(t, prompt, "required_fields: report, channel")
	assert.Contains(t, prompt, "special_instructions: post to #updates")
	assert.Contains(t, prompt, "without any interruptions or requests for clarification")
}

func TestDispatchLoopRecordsInterruptedFiring(t *testing.T) {
	store := helpers.NewTestStore(t)
	graphs := graph.NewRegistry()
	graphs.Register("chat", &graph.Scripted{Block: true})
	firingID := seedDispatchFixture(t, store, "chat")

	loop := scheduler.NewDispatchLoop(store, graphs, time.Second, metrics.NewNopCollector(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.RunOnce(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// The outcome is persisted even though the loop context is gone;
	// the row must not stay running forever.
	got, err := store.GetFiring(context.Background(), firingID)
	require.NoError(t, err)
	assert.Equal(t, domain.FiringStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}
