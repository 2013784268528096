// Package service implements the run orchestration state machine.
package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/broker"
	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/eventlog"
	"github.com/agentplane/agentplane/internal/graph"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
)

// Service coordinates runs, threads, assistants and cron schedules.
type Service struct {
	store   repository.Store
	events  *eventlog.Store
	broker  *broker.Broker
	graphs  *graph.Registry
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	// active maps run id to its in-flight handle for cancel/interrupt.
	active sync.Map
}

// New creates the orchestration service.
func New(store repository.Store, events *eventlog.Store, b *broker.Broker, graphs *graph.Registry, cfg *config.Config, m *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		events:  events,
		broker:  b,
		graphs:  graphs,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// Shutdown cancels every in-flight run and waits for their executors
// to finish cleanup, bounded by the configured shutdown timeout.
func (s *Service) Shutdown() {
	var handles []*runHandle
	s.active.Range(func(_, value interface{}) bool {
		handles = append(handles, value.(*runHandle))
		return true
	})
	for _, h := range handles {
		h.cancel()
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.After(timeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			s.logger.Warn("shutdown timeout expired with executors still running",
				zap.Duration("timeout", timeout))
			return
		}
	}
}
