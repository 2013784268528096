package service

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateSchedule registers a cron schedule after validating the
// expression and assistant.
func (s *Service) CreateSchedule(ctx context.Context, req domain.CreateScheduleRequest) (*domain.CronSchedule, error) {
	if req.Expression == "" {
		return nil, domain.InvalidArgumentf("expression is required")
	}
	if !gronx.New().IsValid(req.Expression) {
		return nil, domain.InvalidArgumentf("invalid cron expression %q", req.Expression)
	}
	if _, err := s.GetAssistant(ctx, req.AssistantID); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	cs := &domain.CronSchedule{
		ScheduleID:          "cron_" + uuid.New().String()[:8],
		AssistantID:         req.AssistantID,
		Expression:          req.Expression,
		RequiredFields:      req.RequiredFields,
		SpecialInstructions: req.SpecialInstructions,
		Enabled:             enabled,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateSchedule(ctx, cs); err != nil {
		return nil, err
	}
	s.logger.Info("cron schedule created",
		zap.String("schedule_id", cs.ScheduleID),
		zap.String("expression", cs.Expression))
	return cs, nil
}

// GetSchedule retrieves a schedule by id.
func (s *Service) GetSchedule(ctx context.Context, scheduleID string) (*domain.CronSchedule, error) {
	cs, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, domain.NotFoundf("schedule %s", scheduleID)
	}
	return cs, nil
}

// ListSchedules lists all schedules.
func (s *Service) ListSchedules(ctx context.Context) ([]domain.CronSchedule, error) {
	return s.store.ListSchedules(ctx, false)
}

// UpdateSchedule applies the non-nil fields of the request.
func (s *Service) UpdateSchedule(ctx context.Context, scheduleID string, req domain.UpdateScheduleRequest) (*domain.CronSchedule, error) {
	cs, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if req.Expression != nil {
		if !gronx.New().IsValid(*req.Expression) {
			return nil, domain.InvalidArgumentf("invalid cron expression %q", *req.Expression)
		}
		cs.Expression = *req.Expression
	}
	if req.RequiredFields != nil {
		cs.RequiredFields = req.RequiredFields
	}
	if req.SpecialInstructions != nil {
		cs.SpecialInstructions = *req.SpecialInstructions
	}
	if req.Enabled != nil {
		cs.Enabled = *req.Enabled
	}
	cs.UpdatedAt = time.Now()
	if err := s.store.UpdateSchedule(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(ctx context.Context, scheduleID string) error {
	deleted, err := s.store.DeleteSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NotFoundf("schedule %s", scheduleID)
	}
	return nil
}

// TriggerScheduleNow creates an immediate scheduled firing, bypassing
// the expression. The dispatch loop picks it up on its next tick.
func (s *Service) TriggerScheduleNow(ctx context.Context, scheduleID string) (*domain.CronFiring, error) {
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	f := &domain.CronFiring{
		FiringID:    "firing_" + uuid.New().String()[:8],
		ScheduleID:  scheduleID,
		Status:      domain.FiringStatusScheduled,
		ScheduledAt: time.Now().Truncate(time.Second),
	}
	if err := s.store.CreateFiring(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFirings lists a schedule's firings, newest first.
func (s *Service) ListFirings(ctx context.Context, scheduleID string) ([]domain.CronFiring, error) {
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.store.ListFiringsBySchedule(ctx, scheduleID)
}
