package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentplane/agentplane/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedThread(t *testing.T, store *SQLiteStore, threadID string) {
	t.Helper()
	now := time.Now()
	thread := &domain.Thread{
		ThreadID:  threadID,
		Status:    domain.ThreadStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateThread(context.Background(), thread); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
}

func TestSQLiteStoreAssistantLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	a := &domain.Assistant{
		AssistantID:    "a1",
		Name:           "support",
		GraphID:        "chat",
		Config:         json.RawMessage(`{"configurable":{"model":"small"}}`),
		RequiredFields: []string{"topic"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.CreateAssistant(ctx, a); err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}

	// Duplicate name is a conflict.
	dup := &domain.Assistant{AssistantID: "a2", Name: "support", GraphID: "chat", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateAssistant(ctx, dup); err == nil {
		t.Fatal("expected conflict on duplicate name")
	}

	got, err := store.GetAssistantByName(ctx, "support")
	if err != nil {
		t.Fatalf("GetAssistantByName failed: %v", err)
	}
	if got == nil || got.AssistantID != "a1" {
		t.Fatalf("unexpected assistant: %+v", got)
	}
	if len(got.RequiredFields) != 1 || got.RequiredFields[0] != "topic" {
		t.Fatalf("required fields not round-tripped: %+v", got.RequiredFields)
	}

	deleted, err := store.DeleteAssistant(ctx, "a1")
	if err != nil || !deleted {
		t.Fatalf("DeleteAssistant = %v, %v", deleted, err)
	}
	deleted, err = store.DeleteAssistant(ctx, "a1")
	if err != nil || deleted {
		t.Fatalf("second DeleteAssistant = %v, %v", deleted, err)
	}
}

func TestSQLiteStoreThreadBusyFlip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedThread(t, store, "t1")

	ok, err := store.SetThreadBusy(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("SetThreadBusy = %v, %v", ok, err)
	}

	// A busy thread cannot be claimed again.
	ok, err = store.SetThreadBusy(ctx, "t1")
	if err != nil {
		t.Fatalf("SetThreadBusy failed: %v", err)
	}
	if ok {
		t.Fatal("expected busy thread to reject a second claim")
	}

	if err := store.SetThreadIdle(ctx, "t1"); err != nil {
		t.Fatalf("SetThreadIdle failed: %v", err)
	}
	ok, err = store.SetThreadBusy(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("SetThreadBusy after idle = %v, %v", ok, err)
	}
}

func TestSQLiteStoreFinishRunIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedThread(t, store, "t1")

	now := time.Now()
	run := &domain.Run{
		RunID:       "r1",
		ThreadID:    "t1",
		AssistantID: "a1",
		Status:      domain.RunStatusRunning,
		Input:       json.RawMessage(`{"messages":[]}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	won, err := store.FinishRun(ctx, "r1", domain.RunStatusCompleted, []byte(`{"answer":42}`), "")
	if err != nil || !won {
		t.Fatalf("FinishRun = %v, %v", won, err)
	}

	// A losing cancel keeps the stored outcome.
	won, err = store.FinishRun(ctx, "r1", domain.RunStatusCancelled, nil, "")
	if err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if won {
		t.Fatal("expected terminal run to reject a second finish")
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if string(got.Output) != `{"answer":42}` {
		t.Fatalf("output = %s", got.Output)
	}
}

func TestSQLiteStoreListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedThread(t, store, "t1")

	base := time.Now()
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &domain.Run{
			RunID:       id,
			ThreadID:    "t1",
			AssistantID: "a1",
			Status:      domain.RunStatusCompleted,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
			UpdatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := store.ListRunsByThread(ctx, "t1")
	if err != nil {
		t.Fatalf("ListRunsByThread failed: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "r3" || runs[2].RunID != "r1" {
		t.Fatalf("unexpected order: %+v", runs)
	}
}

func TestSQLiteStoreFiringClaim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now()
	cs := &domain.CronSchedule{
		ScheduleID:  "cs1",
		AssistantID: "a1",
		Expression:  "*/5 * * * *",
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateSchedule(ctx, cs); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}

	minute := now.Truncate(time.Minute)
	firing := &domain.CronFiring{
		FiringID:    "f1",
		ScheduleID:  "cs1",
		Status:      domain.FiringStatusScheduled,
		ScheduledAt: minute,
	}
	if err := store.CreateFiring(ctx, firing); err != nil {
		t.Fatalf("CreateFiring failed: %v", err)
	}

	exists, err := store.HasFiringAt(ctx, "cs1", minute.Unix())
	if err != nil || !exists {
		t.Fatalf("HasFiringAt = %v, %v", exists, err)
	}

	claimed, err := store.ClaimFiring(ctx, "f1")
	if err != nil || !claimed {
		t.Fatalf("ClaimFiring = %v, %v", claimed, err)
	}
	claimed, err = store.ClaimFiring(ctx, "f1")
	if err != nil {
		t.Fatalf("ClaimFiring failed: %v", err)
	}
	if claimed {
		t.Fatal("expected claimed firing to reject a second claim")
	}

	if err := store.FinishFiring(ctx, "f1", domain.FiringStatusCompleted, []byte(`"done"`), ""); err != nil {
		t.Fatalf("FinishFiring failed: %v", err)
	}
	got, err := store.GetFiring(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFiring failed: %v", err)
	}
	if got.Status != domain.FiringStatusCompleted || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("unexpected firing: %+v", got)
	}
}
