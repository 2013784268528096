package v1

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/service"
)

// StreamRun streams a run's events via SSE. A Last-Event-ID header
// carrying a synthetic event id resumes after that sequence; the
// stream replays any persisted events first and then follows live
// ones until the run's end event.
// GET /api/v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	lastSeq := service.ParseLastEventID(runID, c.Request().Header.Get("Last-Event-ID"))

	events, err := h.service.StreamRun(ctx, runID, lastSeq)
	if err != nil {
		return jsonError(c, err)
	}
	return streamSSE(c, ctx, events)
}

// CreateRunStream starts a run on a thread and streams its events via
// SSE in the same response, from the first event through end.
// POST /api/v1/threads/:thread_id/runs/stream
func (h *Handler) CreateRunStream(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("thread_id")

	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.service.CreateRun(ctx, threadID, req)
	if err != nil {
		return jsonError(c, err)
	}

	events, err := h.service.StreamRun(ctx, run.RunID, 0)
	if err != nil {
		return jsonError(c, err)
	}
	return streamSSE(c, ctx, events)
}

// streamSSE writes the SSE preamble and drains the event channel into
// the response until the channel closes or the client goes away.
func streamSSE(c echo.Context, ctx context.Context, events <-chan domain.Event) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	flusher, _ := c.Response().Writer.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(c, ev); err != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeSSEEvent(c echo.Context, ev domain.Event) error {
	w := c.Response().Writer
	if _, err := fmt.Fprintf(w, "id: %s\n", ev.EventID()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data)
	return err
}
