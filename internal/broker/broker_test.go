package broker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/broker"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/eventlog"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/tests/helpers"
)

func newTestBroker(t *testing.T, bufSize int) (*broker.Broker, *eventlog.Store) {
	t.Helper()
	_, log := helpers.NewTestStores(t)
	b := broker.New(log, bufSize, metrics.NewNopCollector(), zap.NewNop())
	return b, log
}

func appendAndPublish(t *testing.T, b *broker.Broker, log *eventlog.Store, runID string, seq int64, evType string) {
	t.Helper()
	ev := domain.Event{
		RunID:     runID,
		Seq:       seq,
		Type:      evType,
		Data:      json.RawMessage(fmt.Sprintf(`{"seq":%d}`, seq)),
		CreatedAt: time.Now(),
	}
	require.NoError(t, log.Append(context.Background(), &ev))
	b.Publish(ev)
}

func collect(t *testing.T, ch <-chan domain.Event, want int) []domain.Event {
	t.Helper()
	var got []domain.Event
	timeout := time.After(5 * time.Second)
	for len(got) < want {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d of %d", len(got), want)
		}
	}
	return got
}

func TestSubscribeReplaysStoredEvents(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()

	for seq := int64(1); seq <= 3; seq++ {
		appendAndPublish(t, b, log, "r1", seq, "message")
	}
	appendAndPublish(t, b, log, "r1", 4, domain.EventTypeEnd)

	// Resume mid-stream: only the tail comes back, ending with end.
	ch, err := b.Subscribe(ctx, "r1", 2)
	require.NoError(t, err)

	got := collect(t, ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Seq)
	assert.Equal(t, int64(4), got[1].Seq)
	assert.Equal(t, domain.EventTypeEnd, got[1].Type)

	// Channel closes after the terminal frame.
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeSplicesReplayAndLiveWithoutDuplicates(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()

	appendAndPublish(t, b, log, "r1", 1, "message")
	appendAndPublish(t, b, log, "r1", 2, "message")

	ch, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)

	// Live events published while the subscriber drains replay. Seq 2
	// arriving live again must be deduplicated at the splice point.
	appendAndPublish(t, b, log, "r1", 3, "message")
	appendAndPublish(t, b, log, "r1", 4, domain.EventTypeEnd)

	got := collect(t, ch, 4)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.Seq, "no gaps, no duplicates")
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b, log := newTestBroker(t, 2)
	ctx := context.Background()

	slow, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)

	// Nobody reads slow; its internal queue is 2 deep plus one event
	// parked in the unbuffered pump handoff.
	for seq := int64(1); seq <= 5; seq++ {
		appendAndPublish(t, b, log, "r1", seq, "message")
	}

	// The slow subscriber's channel eventually closes without the full
	// stream.
	got := collect(t, slow, 5)
	assert.Less(t, len(got), 5)

	// A fresh subscriber still sees everything via replay.
	appendAndPublish(t, b, log, "r1", 6, domain.EventTypeEnd)
	fresh, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)
	got = collect(t, fresh, 6)
	assert.Len(t, got, 6)
}

func TestSignalCancelledAppendsTerminalFrame(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()

	appendAndPublish(t, b, log, "r1", 1, "message")

	ch, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)

	require.NoError(t, b.SignalCancelled(ctx, "r1", domain.RunStatusCancelled))

	got := collect(t, ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventTypeEnd, got[1].Type)
	assert.Equal(t, int64(2), got[1].Seq)

	var data domain.EndEventData
	require.NoError(t, json.Unmarshal(got[1].Data, &data))
	assert.Equal(t, domain.RunStatusCancelled, data.Status)
}

func TestCleanupIsIdempotentAndLateSubscribersReplay(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()

	appendAndPublish(t, b, log, "r1", 1, "message")
	appendAndPublish(t, b, log, "r1", 2, domain.EventTypeEnd)

	b.Cleanup("r1")
	b.Cleanup("r1")

	ch, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)
	got := collect(t, ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventTypeEnd, got[1].Type)
}

func TestCleanupClosesLiveSubscribers(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "r1", 0)
	require.NoError(t, err)

	appendAndPublish(t, b, log, "r1", 1, "message")
	b.Cleanup("r1")

	got := collect(t, ch, 1)
	assert.Len(t, got, 1)
	// After cleanup the channel must close rather than hang.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber channel not closed after cleanup")
	}
}

func TestSignalCancelledIsIdempotent(t *testing.T) {
	b, log := newTestBroker(t, 8)
	ctx := context.Background()
	appendAndPublish(t, b, log, "run1", 1, "message")

	require.NoError(t, b.SignalCancelled(ctx, "run1", domain.RunStatusCancelled))
	require.NoError(t, b.SignalCancelled(ctx, "run1", domain.RunStatusCancelled))

	events, err := log.ListAfter(ctx, "run1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventTypeEnd, events[1].Type)
}
