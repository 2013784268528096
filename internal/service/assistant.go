package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateAssistant registers an assistant. The if_exists field controls
// what happens on a name collision: "error" (default) rejects,
// "do_nothing" returns the existing assistant, "replace" overwrites it.
func (s *Service) CreateAssistant(ctx context.Context, req domain.CreateAssistantRequest) (*domain.Assistant, error) {
	if req.Name == "" {
		return nil, domain.InvalidArgumentf("name is required")
	}
	if req.GraphID == "" {
		return nil, domain.InvalidArgumentf("graph_id is required")
	}
	if !s.graphs.Has(req.GraphID) {
		return nil, domain.NotFoundf("graph %q is not registered", req.GraphID)
	}

	ifExists := req.IfExists
	if ifExists == "" {
		ifExists = "error"
	}
	switch ifExists {
	case "error", "do_nothing", "replace":
	default:
		return nil, domain.InvalidArgumentf("unknown if_exists %q", ifExists)
	}

	existing, err := s.store.GetAssistantByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if existing != nil {
		switch ifExists {
		case "do_nothing":
			return existing, nil
		case "replace":
			existing.Description = req.Description
			existing.GraphID = req.GraphID
			existing.Config = req.Config
			existing.Context = req.Context
			existing.RequiredFields = req.RequiredFields
			existing.UpdatedAt = now
			if err := s.store.ReplaceAssistant(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		default:
			return nil, domain.Conflictf("assistant %q already exists", req.Name)
		}
	}

	a := &domain.Assistant{
		AssistantID:    "asst_" + uuid.New().String()[:8],
		Name:           req.Name,
		Description:    req.Description,
		GraphID:        req.GraphID,
		Config:         req.Config,
		Context:        req.Context,
		RequiredFields: req.RequiredFields,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAssistant(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("assistant created", zap.String("assistant_id", a.AssistantID), zap.String("name", a.Name))
	return a, nil
}

// GetAssistant retrieves an assistant by id.
func (s *Service) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	a, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.NotFoundf("assistant %s", assistantID)
	}
	return a, nil
}

// ListAssistants lists all assistants.
func (s *Service) ListAssistants(ctx context.Context) ([]domain.Assistant, error) {
	return s.store.ListAssistants(ctx)
}

// DeleteAssistant removes an assistant.
func (s *Service) DeleteAssistant(ctx context.Context, assistantID string) error {
	deleted, err := s.store.DeleteAssistant(ctx, assistantID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NotFoundf("assistant %s", assistantID)
	}
	return nil
}
