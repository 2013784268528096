package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/graph"
)

// runHandle tracks one in-flight run executor.
type runHandle struct {
	cancel      context.CancelFunc
	interrupted atomic.Bool
	done        chan struct{}
}

// CreateRun validates the request, claims the thread, persists a
// pending run and spawns its executor.
func (s *Service) CreateRun(ctx context.Context, threadID string, req domain.CreateRunRequest) (*domain.Run, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, domain.NotFoundf("thread %s", threadID)
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = thread.AssistantID
	}
	if assistantID == "" {
		return nil, domain.InvalidArgumentf("assistant_id is required")
	}
	assistant, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if assistant == nil {
		return nil, domain.NotFoundf("assistant %s", assistantID)
	}

	g, err := s.graphs.Get(assistant.GraphID)
	if err != nil {
		return nil, err
	}

	if hasConfigurable(req.Config) && len(req.Context) > 0 {
		return nil, domain.InvalidArgumentf("pass either config.configurable or context, not both")
	}

	// Request values win over assistant defaults; the merge is shallow.
	mergedConfig, err := domain.MergeJSON(assistant.Config, req.Config)
	if err != nil {
		return nil, domain.InvalidArgumentf("invalid config: %v", err)
	}
	mergedContext, err := domain.MergeJSON(assistant.Context, req.Context)
	if err != nil {
		return nil, domain.InvalidArgumentf("invalid context: %v", err)
	}

	busy, err := s.store.SetThreadBusy(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !busy {
		return nil, domain.Conflictf("thread %s is busy", threadID)
	}

	now := time.Now()
	run := &domain.Run{
		RunID:       "run_" + uuid.New().String()[:8],
		ThreadID:    threadID,
		AssistantID: assistant.AssistantID,
		Status:      domain.RunStatusPending,
		Input:       req.Input,
		Config:      mergedConfig,
		Context:     mergedContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		// Give the thread back; nothing will ever finish this run.
		if idleErr := s.store.SetThreadIdle(ctx, threadID); idleErr != nil {
			s.logger.Error("failed to release thread after run insert failure",
				zap.String("thread_id", threadID), zap.Error(idleErr))
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	s.active.Store(run.RunID, h)
	s.metrics.RunStarted()

	go s.executeRun(runCtx, run, g, h)

	s.logger.Info("run started",
		zap.String("run_id", run.RunID),
		zap.String("thread_id", threadID),
		zap.String("assistant_id", assistant.AssistantID))
	return run, nil
}

func hasConfigurable(config json.RawMessage) bool {
	if len(config) == 0 {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(config, &m); err != nil {
		return false
	}
	_, ok := m["configurable"]
	return ok
}

// executeRun drives one run to a terminal status. Whatever happens, the
// thread returns to idle, the broker topic is cleaned up and the run is
// removed from the in-flight registry.
func (s *Service) executeRun(ctx context.Context, run *domain.Run, g graph.Graph, h *runHandle) {
	start := time.Now()
	// Persistence keeps working after the run context is cancelled.
	bctx := context.Background()

	defer close(h.done)
	defer s.active.Delete(run.RunID)
	defer s.broker.Cleanup(run.RunID)
	defer func() {
		if err := s.store.SetThreadIdle(bctx, run.ThreadID); err != nil {
			s.logger.Error("failed to set thread idle",
				zap.String("thread_id", run.ThreadID), zap.Error(err))
		}
	}()

	if err := s.store.UpdateRunStatus(bctx, run.RunID, domain.RunStatusRunning); err != nil {
		s.logger.Error("failed to mark run running", zap.String("run_id", run.RunID), zap.Error(err))
	}

	stream, err := g.Execute(ctx, graph.Input{
		RunID:       run.RunID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Input:       run.Input,
		Config:      run.Config,
		Context:     run.Context,
	})
	if err != nil {
		s.finishFailed(bctx, run, start, err)
		return
	}

	var seq int64
	var finalOutput json.RawMessage
	var streamErr error
loop:
	for {
		var ev graph.StreamEvent
		var ok bool
		// Cancellation is observed here too, so a graph that ignores
		// its ctx cannot keep the executor consuming.
		select {
		case <-ctx.Done():
			break loop
		case ev, ok = <-stream:
			if !ok {
				break loop
			}
		}
		if ev.Err != nil {
			streamErr = ev.Err
			break
		}
		seq++
		event := domain.Event{
			RunID:     run.RunID,
			Seq:       seq,
			Type:      ev.Type,
			Data:      ev.Data,
			CreatedAt: time.Now(),
		}
		if err := s.events.Append(bctx, &event); err != nil {
			streamErr = err
			break
		}
		s.broker.Publish(event)
		if len(ev.Data) > 0 {
			finalOutput = ev.Data
		}
	}

	if ctx.Err() != nil {
		status := domain.RunStatusCancelled
		if h.interrupted.Load() {
			status = domain.RunStatusInterrupted
		}
		// The end event lands in the durable stream before the run row
		// turns terminal, so a terminal status always implies a
		// readable end frame.
		if err := s.broker.SignalCancelled(bctx, run.RunID, status); err != nil {
			s.logger.Error("failed to signal cancellation", zap.String("run_id", run.RunID), zap.Error(err))
		}
		s.finishRun(bctx, run, start, status, nil, "")
		return
	}
	if streamErr != nil {
		s.finishFailed(bctx, run, start, streamErr)
		return
	}

	// Natural completion: the end event is part of the durable stream.
	seq++
	endData, _ := json.Marshal(domain.EndEventData{
		Status:      domain.RunStatusCompleted,
		FinalOutput: finalOutput,
	})
	end := domain.Event{
		RunID:     run.RunID,
		Seq:       seq,
		Type:      domain.EventTypeEnd,
		Data:      endData,
		CreatedAt: time.Now(),
	}
	if err := s.events.Append(bctx, &end); err != nil {
		s.logger.Error("failed to append end event", zap.String("run_id", run.RunID), zap.Error(err))
	} else {
		s.broker.Publish(end)
	}

	s.finishRun(bctx, run, start, domain.RunStatusCompleted, finalOutput, "")
}

func (s *Service) finishFailed(ctx context.Context, run *domain.Run, start time.Time, cause error) {
	cause = errors.Mark(cause, domain.ErrExecutionFailed)
	if err := s.broker.SignalError(ctx, run.RunID, cause.Error()); err != nil {
		s.logger.Error("failed to signal run error", zap.String("run_id", run.RunID), zap.Error(err))
	}
	s.finishRun(ctx, run, start, domain.RunStatusFailed, nil, cause.Error())
}

func (s *Service) finishRun(ctx context.Context, run *domain.Run, start time.Time, status domain.RunStatus, output json.RawMessage, errMsg string) {
	won, err := s.store.FinishRun(ctx, run.RunID, status, output, errMsg)
	if err != nil {
		s.logger.Error("failed to finish run",
			zap.String("run_id", run.RunID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	if !won {
		// Someone else reached a terminal status first; theirs stands.
		return
	}
	s.metrics.RunFinished(string(status), time.Since(start).Seconds())
	s.logger.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(status)))
}

// CancelOrInterruptRun stops a run. Terminal runs are a successful
// no-op. A pending or orphaned run is finished directly; a running one
// has its executor cancelled and finishes itself. With wait set, the
// call blocks until the executor has completed its cleanup.
func (s *Service) CancelOrInterruptRun(ctx context.Context, runID string, action domain.CancelAction, wait bool) (*domain.Run, error) {
	switch action {
	case domain.CancelActionCancel, domain.CancelActionInterrupt:
	default:
		return nil, domain.InvalidArgumentf("unknown action %q", action)
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.NotFoundf("run %s", runID)
	}
	if run.Status.IsTerminal() {
		return run, nil
	}

	value, ok := s.active.Load(runID)
	if !ok {
		// No executor to cooperate with: finish the run here.
		status := domain.RunStatusCancelled
		if action == domain.CancelActionInterrupt {
			status = domain.RunStatusInterrupted
		}
		// End frame first, terminal row second; signalling is
		// idempotent, so losing the finish race leaves one end event.
		if err := s.broker.SignalCancelled(ctx, runID, status); err != nil {
			s.logger.Error("failed to signal cancellation", zap.String("run_id", runID), zap.Error(err))
		}
		won, err := s.store.FinishRun(ctx, runID, status, nil, "")
		if err != nil {
			return nil, err
		}
		if won {
			if err := s.store.SetThreadIdle(ctx, run.ThreadID); err != nil {
				s.logger.Error("failed to set thread idle", zap.String("thread_id", run.ThreadID), zap.Error(err))
			}
			s.broker.Cleanup(runID)
			s.metrics.RunFinished(string(status), 0)
		}
		return s.GetRun(ctx, runID)
	}

	h := value.(*runHandle)
	if action == domain.CancelActionInterrupt {
		h.interrupted.Store(true)
	}
	h.cancel()

	if wait {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.GetRun(ctx, runID)
}

// GetRun retrieves a run by id.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.NotFoundf("run %s", runID)
	}
	return run, nil
}

// ListRuns lists a thread's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, threadID string) ([]domain.Run, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, domain.NotFoundf("thread %s", threadID)
	}
	return s.store.ListRunsByThread(ctx, threadID)
}

// UpdateRunStatus is the administrative status override. Terminal
// targets go through the idempotent finish path so a live executor
// cannot double-finish the run.
func (s *Service) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) (*domain.Run, error) {
	if !validRunStatus(status) {
		return nil, domain.InvalidArgumentf("unknown status %q", status)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal() {
		won, err := s.store.FinishRun(ctx, runID, status, nil, "")
		if err != nil {
			return nil, err
		}
		if won {
			if err := s.store.SetThreadIdle(ctx, run.ThreadID); err != nil {
				s.logger.Error("failed to set thread idle", zap.String("thread_id", run.ThreadID), zap.Error(err))
			}
		}
	} else {
		if run.Status.IsTerminal() {
			return nil, domain.Conflictf("run %s is already %s", runID, run.Status)
		}
		if err := s.store.UpdateRunStatus(ctx, runID, status); err != nil {
			return nil, err
		}
	}
	return s.GetRun(ctx, runID)
}

func validRunStatus(status domain.RunStatus) bool {
	switch status {
	case domain.RunStatusPending, domain.RunStatusRunning:
		return true
	}
	return status.IsTerminal()
}

// StreamRun subscribes to a run's event stream, replaying everything
// after lastSeq first.
func (s *Service) StreamRun(ctx context.Context, runID string, lastSeq int64) (<-chan domain.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.broker.Subscribe(ctx, runID, lastSeq)
}

// ParseLastEventID extracts the resume seq from an SSE Last-Event-ID
// header value. Unparseable values resume from the beginning.
func ParseLastEventID(runID, header string) int64 {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	id, seq, ok := domain.ParseEventID(header)
	if !ok || id != runID {
		return 0
	}
	return seq
}
