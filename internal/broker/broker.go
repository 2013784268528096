// Package broker fans out run events to live subscribers and splices
// replay from the durable event log.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/eventlog"
	"github.com/agentplane/agentplane/internal/metrics"
)

// Broker distributes run events. Every event is appended to the event
// log before it is published, so a subscriber can always recover the
// full stream by replaying the log and deduplicating on seq.
type Broker struct {
	log     *eventlog.Store
	logger  *zap.Logger
	metrics *metrics.Collector
	bufSize int

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch      chan domain.Event
	dropped bool
}

// New creates a broker. bufSize bounds each subscriber's queue; a
// subscriber that falls more than bufSize events behind is disconnected.
func New(log *eventlog.Store, bufSize int, m *metrics.Collector, logger *zap.Logger) *Broker {
	return &Broker{
		log:     log,
		logger:  logger,
		metrics: m,
		bufSize: bufSize,
		topics:  make(map[string]*topic),
	}
}

// Publish fans an already-persisted event out to the run's subscribers.
// A subscriber with a full queue is disconnected rather than blocking
// the publisher.
func (b *Broker) Publish(ev domain.Event) {
	b.metrics.EventPublished()

	b.mu.Lock()
	t := b.topics[ev.RunID]
	b.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop the subscriber, not the event.
			sub.dropped = true
			close(sub.ch)
			delete(t.subs, sub)
			b.metrics.SubscriberDropped()
			b.logger.Warn("dropping lagging subscriber",
				zap.String("run_id", ev.RunID),
				zap.Int64("seq", ev.Seq))
		}
	}
}

// Subscribe returns a channel yielding the run's events with seq >
// lastSeq: first a replay from the log, then live delivery, with seq
// based dedup at the splice point. The channel closes after the
// terminal "end" event, when ctx is done, or when the subscriber is
// dropped for lagging.
func (b *Broker) Subscribe(ctx context.Context, runID string, lastSeq int64) (<-chan domain.Event, error) {
	sub := &subscriber{ch: make(chan domain.Event, b.bufSize)}

	// Attach before reading the log so no event falls between replay
	// and live delivery: anything appended after the replay snapshot
	// lands in the live queue.
	b.mu.Lock()
	t := b.topics[runID]
	if t == nil {
		t = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[runID] = t
	}
	b.mu.Unlock()

	t.mu.Lock()
	live := !t.closed
	if live {
		t.subs[sub] = struct{}{}
	}
	t.mu.Unlock()

	b.metrics.SubscriberConnected()

	out := make(chan domain.Event)
	go b.pump(ctx, runID, t, sub, live, lastSeq, out)
	return out, nil
}

// detach removes a subscriber and prunes the topic once empty, so
// replay-only subscriptions to finished runs do not accumulate topics.
func (b *Broker) detach(runID string, t *topic, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		close(sub.ch)
	}
	if len(t.subs) == 0 && b.topics[runID] == t {
		delete(b.topics, runID)
	}
}

func (b *Broker) pump(ctx context.Context, runID string, t *topic, sub *subscriber, live bool, lastSeq int64, out chan<- domain.Event) {
	defer close(out)
	defer func() {
		b.detach(runID, t, sub)
		t.mu.Lock()
		dropped := sub.dropped
		t.mu.Unlock()
		if !dropped {
			b.metrics.SubscriberDisconnected()
		}
	}()

	lastSent, done := b.replay(ctx, runID, lastSeq, out)
	if done || !live {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.ch:
			if !ok {
				// Topic cleaned up (or we were dropped). A cleanup can
				// race ahead of our queue drain, so catch the tail from
				// the log before giving up.
				t.mu.Lock()
				dropped := sub.dropped
				t.mu.Unlock()
				if !dropped {
					b.replay(ctx, runID, lastSent, out)
				}
				return
			}
			if ev.Seq <= lastSent {
				continue
			}
			select {
			case out <- ev:
				lastSent = ev.Seq
			case <-ctx.Done():
				return
			}
			if ev.Type == domain.EventTypeEnd {
				return
			}
		}
	}
}

// replay sends stored events with seq > afterSeq to out. It returns the
// last seq sent and whether the stream is complete (end event seen or
// ctx done).
func (b *Broker) replay(ctx context.Context, runID string, afterSeq int64, out chan<- domain.Event) (int64, bool) {
	events, err := b.log.ListAfter(ctx, runID, afterSeq)
	if err != nil {
		b.logger.Error("event replay failed", zap.String("run_id", runID), zap.Error(err))
		return afterSeq, true
	}
	lastSent := afterSeq
	for _, ev := range events {
		select {
		case out <- ev:
			lastSent = ev.Seq
		case <-ctx.Done():
			return lastSent, true
		}
		if ev.Type == domain.EventTypeEnd {
			return lastSent, true
		}
	}
	return lastSent, false
}

// SignalCancelled appends and publishes a synthetic end event so
// subscribers of an externally finished run still see a terminal frame.
func (b *Broker) SignalCancelled(ctx context.Context, runID string, status domain.RunStatus) error {
	return b.signalEnd(ctx, runID, domain.EndEventData{Status: status})
}

// SignalError appends and publishes a synthetic end event carrying the
// failure message.
func (b *Broker) SignalError(ctx context.Context, runID string, msg string) error {
	return b.signalEnd(ctx, runID, domain.EndEventData{Status: domain.RunStatusFailed, Error: msg})
}

func (b *Broker) signalEnd(ctx context.Context, runID string, data domain.EndEventData) error {
	seq, err := b.log.NextSeq(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "next seq")
	}
	// Idempotent: a stream already terminated by an end event is left
	// alone. Concurrent signallers racing to the same seq are resolved
	// by the log's primary key.
	if seq > 1 {
		tail, err := b.log.ListAfter(ctx, runID, seq-2)
		if err != nil {
			return errors.Wrap(err, "read stream tail")
		}
		if len(tail) > 0 && tail[len(tail)-1].Type == domain.EventTypeEnd {
			return nil
		}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal end event")
	}
	ev := domain.Event{
		RunID:     runID,
		Seq:       seq,
		Type:      domain.EventTypeEnd,
		Data:      payload,
		CreatedAt: time.Now(),
	}
	if err := b.log.Append(ctx, &ev); err != nil {
		return errors.Wrap(err, "append end event")
	}
	b.Publish(ev)
	return nil
}

// Cleanup closes the run's topic and disconnects its subscribers.
// Idempotent; later subscribers fall back to pure replay from the log.
func (b *Broker) Cleanup(runID string) {
	b.mu.Lock()
	t := b.topics[runID]
	delete(b.topics, runID)
	b.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for sub := range t.subs {
		close(sub.ch)
		delete(t.subs, sub)
	}
}
