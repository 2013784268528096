package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/domain"
)

func TestInvokeReturnsLastEventData(t *testing.T) {
	g := &Scripted{Events: []StreamEvent{
		{Type: "message", Data: json.RawMessage(`{"step":1}`)},
		{Type: "message", Data: json.RawMessage(`{"step":2}`)},
	}}

	out, err := Invoke(context.Background(), g, Input{RunID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":2}`, string(out))
}

func TestInvokeSurfacesStreamError(t *testing.T) {
	boom := errors.New("boom")
	g := &Scripted{Events: []StreamEvent{
		{Type: "message", Data: json.RawMessage(`{}`)},
		{Err: boom},
	}}

	_, err := Invoke(context.Background(), g, Input{RunID: "r1"})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, domain.ErrExecutionFailed)
}

func TestInvokeCancelled(t *testing.T) {
	g := &Scripted{Block: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := Invoke(ctx, g, Input{RunID: "r1"})
		done <- err
	}()
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Has("chat"))

	r.Register("chat", NewEcho())
	require.True(t, r.Has("chat"))

	g, err := r.Get("chat")
	require.NoError(t, err)
	require.NotNil(t, g)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.ElementsMatch(t, []string{"chat"}, r.IDs())
}

func TestEchoGraphEmitsInput(t *testing.T) {
	g := NewEcho()
	stream, err := g.Execute(context.Background(), Input{
		RunID: "r1",
		Input: json.RawMessage(`[{"role":"user","content":"hi"}]`),
	})
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range stream {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].Type)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(events[0].Data))
}
