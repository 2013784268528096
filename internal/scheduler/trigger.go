// Package scheduler runs the cron trigger and dispatch loops.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
)

// TriggerLoop converts due cron schedules into scheduled firings. It
// evaluates each minute exactly once, so two ticks inside the same
// minute fire a schedule at most once.
type TriggerLoop struct {
	store    repository.Store
	gron     *gronx.Gronx
	logger   *zap.Logger
	metrics  *metrics.Collector
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	lastMinute time.Time
}

// NewTriggerLoop creates the trigger loop.
func NewTriggerLoop(store repository.Store, interval time.Duration, m *metrics.Collector, logger *zap.Logger) *TriggerLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &TriggerLoop{
		store:    store,
		gron:     gronx.New(),
		logger:   logger,
		metrics:  m,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the trigger loop.
func (l *TriggerLoop) Start() {
	l.wg.Add(1)
	go l.run()
	l.logger.Info("cron trigger loop started", zap.Duration("interval", l.interval))
}

// Stop terminates the loop and waits for the current pass to finish.
func (l *TriggerLoop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.logger.Info("cron trigger loop stopped")
}

func (l *TriggerLoop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case now := <-ticker.C:
			if err := l.RunOnce(now); err != nil {
				l.logger.Error("cron trigger pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce evaluates all enabled schedules against the minute containing
// now. A minute already evaluated is skipped. An invalid expression is
// logged and skipped; it never stops the pass.
func (l *TriggerLoop) RunOnce(now time.Time) error {
	minute := now.Truncate(time.Minute)

	l.mu.Lock()
	if minute.Equal(l.lastMinute) {
		l.mu.Unlock()
		return nil
	}
	l.lastMinute = minute
	l.mu.Unlock()

	schedules, err := l.store.ListSchedules(l.ctx, true)
	if err != nil {
		return err
	}

	for _, cs := range schedules {
		if !l.gron.IsValid(cs.Expression) {
			l.logger.Warn("skipping invalid cron expression",
				zap.String("schedule_id", cs.ScheduleID),
				zap.String("expression", cs.Expression))
			continue
		}
		due, err := l.gron.IsDue(cs.Expression, minute)
		if err != nil {
			l.logger.Warn("cron due check failed",
				zap.String("schedule_id", cs.ScheduleID), zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		// A firing may already exist for this minute (process restart
		// inside the minute); never double-fire.
		exists, err := l.store.HasFiringAt(l.ctx, cs.ScheduleID, minute.Unix())
		if err != nil {
			l.logger.Error("firing lookup failed",
				zap.String("schedule_id", cs.ScheduleID), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		firing := &domain.CronFiring{
			FiringID:    "firing_" + uuid.New().String()[:8],
			ScheduleID:  cs.ScheduleID,
			Status:      domain.FiringStatusScheduled,
			ScheduledAt: minute,
		}
		if err := l.store.CreateFiring(l.ctx, firing); err != nil {
			l.logger.Error("failed to create firing",
				zap.String("schedule_id", cs.ScheduleID), zap.Error(err))
			continue
		}
		l.metrics.CronFiring(string(domain.FiringStatusScheduled))
		l.logger.Info("scheduled cron firing",
			zap.String("schedule_id", cs.ScheduleID),
			zap.String("firing_id", firing.FiringID),
			zap.Time("minute", minute))
	}
	return nil
}
