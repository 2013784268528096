package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/graph"
	"github.com/agentplane/agentplane/internal/metrics"
	"github.com/agentplane/agentplane/internal/repository"
)

const autonomousDirective = "Execute the task to completion without any interruptions or requests " +
	"for clarification. This is a scheduled job, and you are expected to carry out the entire " +
	"process independently. Ensure the final output includes the complete status of the task and " +
	"any relevant details. Do not seek approval or ask for confirmations at any point."

// DispatchLoop claims scheduled firings and executes them to completion
// against their assistant's graph.
type DispatchLoop struct {
	store    repository.Store
	graphs   *graph.Registry
	logger   *zap.Logger
	metrics  *metrics.Collector
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatchLoop creates the dispatch loop.
func NewDispatchLoop(store repository.Store, graphs *graph.Registry, interval time.Duration, m *metrics.Collector, logger *zap.Logger) *DispatchLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchLoop{
		store:    store,
		graphs:   graphs,
		logger:   logger,
		metrics:  m,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the dispatch loop.
func (l *DispatchLoop) Start() {
	l.wg.Add(1)
	go l.run()
	l.logger.Info("cron dispatch loop started", zap.Duration("interval", l.interval))
}

// Stop terminates the loop and waits for the in-flight firing to finish.
func (l *DispatchLoop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.logger.Info("cron dispatch loop stopped")
}

func (l *DispatchLoop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(l.ctx); err != nil {
				l.logger.Error("cron dispatch pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and executes every currently scheduled firing. One
// firing failing never stops the pass.
func (l *DispatchLoop) RunOnce(ctx context.Context) error {
	firings, err := l.store.ListScheduledFirings(ctx)
	if err != nil {
		return err
	}
	if len(firings) == 0 {
		return nil
	}

	l.logger.Info("dispatching cron firings", zap.Int("count", len(firings)))
	for _, f := range firings {
		// Claim first: the running flip is committed before any work,
		// so a crash cannot double-run the firing.
		claimed, err := l.store.ClaimFiring(ctx, f.FiringID)
		if err != nil {
			l.logger.Error("failed to claim firing", zap.String("firing_id", f.FiringID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		l.execute(ctx, f)
	}
	return nil
}

func (l *DispatchLoop) execute(ctx context.Context, f domain.CronFiring) {
	// Persistence keeps working after the loop context is cancelled,
	// so an interrupted firing is recorded instead of stranded running.
	bctx := context.Background()

	output, err := l.invoke(ctx, f)
	if err != nil {
		if ferr := l.store.FinishFiring(bctx, f.FiringID, domain.FiringStatusFailed, nil, err.Error()); ferr != nil {
			l.logger.Error("failed to record firing failure", zap.String("firing_id", f.FiringID), zap.Error(ferr))
		}
		l.metrics.CronFiring(string(domain.FiringStatusFailed))
		l.logger.Error("cron firing failed", zap.String("firing_id", f.FiringID), zap.Error(err))
		return
	}
	if err := l.store.FinishFiring(bctx, f.FiringID, domain.FiringStatusCompleted, output, ""); err != nil {
		l.logger.Error("failed to record firing outcome", zap.String("firing_id", f.FiringID), zap.Error(err))
		return
	}
	l.metrics.CronFiring(string(domain.FiringStatusCompleted))
	l.logger.Info("cron firing completed", zap.String("firing_id", f.FiringID))
}

func (l *DispatchLoop) invoke(ctx context.Context, f domain.CronFiring) (json.RawMessage, error) {
	schedule, err := l.store.GetSchedule(ctx, f.ScheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, domain.NotFoundf("schedule %s", f.ScheduleID)
	}
	assistant, err := l.store.GetAssistant(ctx, schedule.AssistantID)
	if err != nil {
		return nil, err
	}
	if assistant == nil {
		return nil, domain.NotFoundf("assistant %s", schedule.AssistantID)
	}
	g, err := l.graphs.Get(assistant.GraphID)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal([]map[string]string{{
		"role":    "user",
		"content": BuildPrompt(schedule),
	}})
	if err != nil {
		return nil, err
	}

	// The last streamed payload is the firing's output.
	return graph.Invoke(ctx, g, graph.Input{
		ThreadID:    f.FiringID,
		AssistantID: assistant.AssistantID,
		Input:       input,
		Config:      assistant.Config,
		Context:     assistant.Context,
	})
}

// BuildPrompt renders the autonomous-completion prompt for a schedule
// from its required fields and special instructions.
func BuildPrompt(cs *domain.CronSchedule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "required_fields: %s\n", strings.Join(cs.RequiredFields, ", "))
	fmt.Fprintf(&b, "special_instructions: %s\n", cs.SpecialInstructions)
	b.WriteString("Please complete the task as per the required fields and special instructions, ")
	b.WriteString("and report whether the task was completed successfully.\n")
	b.WriteString(autonomousDirective)
	return b.String()
}
