package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentplane/agentplane/internal/domain"
)

// Scripted is a canned graph used in tests and local development. It
// emits a fixed sequence of events with an optional delay between them
// and honors ctx cancellation mid-stream.
type Scripted struct {
	Events []StreamEvent
	Delay  time.Duration
	States []domain.ThreadState

	// Block, when set, makes Execute emit its events and then wait for
	// ctx cancellation instead of finishing, for cancel-path tests.
	Block bool
}

// NewEcho returns a scripted graph that emits the input back as a
// single message event.
func NewEcho() *Scripted {
	return &Scripted{}
}

// Execute streams the scripted events.
func (s *Scripted) Execute(ctx context.Context, in Input) (<-chan StreamEvent, error) {
	events := s.Events
	if len(events) == 0 {
		echo, _ := json.Marshal(map[string]json.RawMessage{"messages": in.Input})
		events = []StreamEvent{{Type: "message", Data: echo}}
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range events {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if s.Block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

// HistoricalStates returns the scripted checkpoint history.
func (s *Scripted) HistoricalStates(ctx context.Context, threadID string) ([]domain.ThreadState, error) {
	return s.States, nil
}
