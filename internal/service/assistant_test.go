package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/domain"
)

func TestCreateAssistantIfExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateAssistant(ctx, domain.CreateAssistantRequest{
		Name:    "support",
		GraphID: "chat",
		Config:  json.RawMessage(`{"model":"v1"}`),
	})
	require.NoError(t, err)

	// Default collision behavior is an error.
	_, err = f.svc.CreateAssistant(ctx, domain.CreateAssistantRequest{Name: "support", GraphID: "chat"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// do_nothing returns the original untouched.
	got, err := f.svc.CreateAssistant(ctx, domain.CreateAssistantRequest{
		Name: "support", GraphID: "chat", IfExists: "do_nothing",
		Config: json.RawMessage(`{"model":"v2"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, first.AssistantID, got.AssistantID)
	assert.JSONEq(t, `{"model":"v1"}`, string(got.Config))

	// replace keeps the id but overwrites the definition.
	got, err = f.svc.CreateAssistant(ctx, domain.CreateAssistantRequest{
		Name: "support", GraphID: "chat", IfExists: "replace",
		Config: json.RawMessage(`{"model":"v2"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, first.AssistantID, got.AssistantID)
	assert.JSONEq(t, `{"model":"v2"}`, string(got.Config))

	_, err = f.svc.CreateAssistant(ctx, domain.CreateAssistantRequest{
		Name: "other", GraphID: "chat", IfExists: "explode",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateAssistantUnknownGraph(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateAssistant(context.Background(), domain.CreateAssistantRequest{
		Name:    "ghost",
		GraphID: "nope",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteAssistant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createAssistant(t, "tmp", "chat", nil)

	require.NoError(t, f.svc.DeleteAssistant(ctx, a.AssistantID))
	assert.ErrorIs(t, f.svc.DeleteAssistant(ctx, a.AssistantID), domain.ErrNotFound)
	_, err := f.svc.GetAssistant(ctx, a.AssistantID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestThreadHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createAssistant(t, "echo", "chat", nil)

	thread, err := f.svc.CreateThread(ctx, domain.CreateThreadRequest{AssistantID: a.AssistantID})
	require.NoError(t, err)

	states, err := f.svc.ThreadHistory(ctx, thread.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, states)

	_, err = f.svc.ThreadHistory(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
