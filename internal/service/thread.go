package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateThread creates an idle thread, optionally pinned to an assistant.
func (s *Service) CreateThread(ctx context.Context, req domain.CreateThreadRequest) (*domain.Thread, error) {
	if req.AssistantID != "" {
		if _, err := s.GetAssistant(ctx, req.AssistantID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	t := &domain.Thread{
		ThreadID:    "thread_" + uuid.New().String()[:8],
		Status:      domain.ThreadStatusIdle,
		AssistantID: req.AssistantID,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetThread retrieves a thread by id.
func (s *Service) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.NotFoundf("thread %s", threadID)
	}
	return t, nil
}

// ThreadHistory returns the thread's checkpoint history from its
// assistant's graph, newest first.
func (s *Service) ThreadHistory(ctx context.Context, threadID string) ([]domain.ThreadState, error) {
	t, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	assistantID := t.AssistantID
	if assistantID == "" {
		// Fall back to the most recent run's assistant.
		runs, err := s.store.ListRunsByThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, nil
		}
		assistantID = runs[0].AssistantID
	}

	assistant, err := s.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	g, err := s.graphs.Get(assistant.GraphID)
	if err != nil {
		return nil, err
	}
	return g.HistoricalStates(ctx, threadID)
}
