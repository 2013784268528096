// Package repository persists assistants, threads, runs and cron state.
package repository

import (
	"context"

	"github.com/agentplane/agentplane/internal/domain"
)

// Store is the persistence interface for orchestrator entities.
type Store interface {
	// Assistants
	CreateAssistant(ctx context.Context, a *domain.Assistant) error
	ReplaceAssistant(ctx context.Context, a *domain.Assistant) error
	GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error)
	GetAssistantByName(ctx context.Context, name string) (*domain.Assistant, error)
	ListAssistants(ctx context.Context) ([]domain.Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) (bool, error)

	// Threads
	CreateThread(ctx context.Context, t *domain.Thread) error
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
	// SetThreadBusy flips an idle thread to busy. Returns false when the
	// thread was already busy.
	SetThreadBusy(ctx context.Context, threadID string) (bool, error)
	SetThreadIdle(ctx context.Context, threadID string) error

	// Runs
	CreateRun(ctx context.Context, r *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRunsByThread(ctx context.Context, threadID string) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	// FinishRun moves a run to a terminal status. Returns false when the
	// run was already terminal; the caller's status is discarded.
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, output []byte, errMsg string) (bool, error)

	// Cron schedules
	CreateSchedule(ctx context.Context, s *domain.CronSchedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*domain.CronSchedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]domain.CronSchedule, error)
	UpdateSchedule(ctx context.Context, s *domain.CronSchedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) (bool, error)

	// Cron firings
	CreateFiring(ctx context.Context, f *domain.CronFiring) error
	GetFiring(ctx context.Context, firingID string) (*domain.CronFiring, error)
	ListFiringsBySchedule(ctx context.Context, scheduleID string) ([]domain.CronFiring, error)
	ListScheduledFirings(ctx context.Context) ([]domain.CronFiring, error)
	// ClaimFiring flips a scheduled firing to running. Returns false when
	// it was already claimed.
	ClaimFiring(ctx context.Context, firingID string) (bool, error)
	FinishFiring(ctx context.Context, firingID string, status domain.FiringStatus, output []byte, errMsg string) error
	// HasFiringAt reports whether a firing already exists for the
	// schedule at the given minute.
	HasFiringAt(ctx context.Context, scheduleID string, scheduledAt int64) (bool, error)

	Close() error
}
