// Package graph abstracts the execution engine that runs operate on.
package graph

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/agentplane/agentplane/internal/domain"
)

// Input carries everything a graph needs to execute one run.
type Input struct {
	RunID       string
	ThreadID    string
	AssistantID string
	Input       json.RawMessage
	Config      json.RawMessage
	Context     json.RawMessage
}

// StreamEvent is one frame of a graph's execution stream. Err, when
// set, is the final frame and marks the execution failed.
type StreamEvent struct {
	Type string
	Data json.RawMessage
	Err  error
}

// Graph is the execution engine interface. Execute streams events until
// completion, error, or ctx cancellation; the returned channel is
// closed when the stream ends. HistoricalStates returns a thread's
// checkpoint history, newest first.
type Graph interface {
	Execute(ctx context.Context, in Input) (<-chan StreamEvent, error)
	HistoricalStates(ctx context.Context, threadID string) ([]domain.ThreadState, error)
}

// Invoke drains an execution stream and returns the data of the last
// event, for callers that want a single result instead of a stream.
func Invoke(ctx context.Context, g Graph, in Input) (json.RawMessage, error) {
	stream, err := g.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	var last json.RawMessage
	for ev := range stream {
		if ev.Err != nil {
			return nil, errors.Mark(ev.Err, domain.ErrExecutionFailed)
		}
		if len(ev.Data) > 0 {
			last = ev.Data
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return last, nil
}

// Registry maps graph ids to engines.
type Registry struct {
	mu     sync.RWMutex
	graphs map[string]Graph
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]Graph)}
}

// Register binds a graph id to an engine, replacing any previous binding.
func (r *Registry) Register(graphID string, g Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[graphID] = g
}

// Get returns the engine for a graph id, or a not-found error.
func (r *Registry) Get(graphID string) (Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[graphID]
	if !ok {
		return nil, domain.NotFoundf("graph %q is not registered", graphID)
	}
	return g, nil
}

// Has reports whether a graph id is registered.
func (r *Registry) Has(graphID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.graphs[graphID]
	return ok
}

// IDs returns the registered graph ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	return ids
}
