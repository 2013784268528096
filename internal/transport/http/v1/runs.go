package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateRun starts a run on a thread and begins executing it.
// POST /api/v1/threads/:thread_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
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
	return c.JSON(http.StatusCreated, run)
}

// UpdateRunStatus administratively sets a run's status. Terminal
// statuses go through the idempotent finish path and release the
// thread.
// POST /api/v1/runs/:run_id/status
func (h *Handler) UpdateRunStatus(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	var req struct {
		Status domain.RunStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.service.UpdateRunStatus(ctx, runID, req.Status)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRun returns a single run.
// GET /api/v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun cancels or interrupts a run.
// POST /api/v1/runs/:run_id/cancel?action=cancel|interrupt&wait=0|1
func (h *Handler) CancelRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	action := domain.CancelAction(c.QueryParam("action"))
	if action == "" {
		action = domain.CancelActionCancel
	}
	wait := c.QueryParam("wait") == "1" || c.QueryParam("wait") == "true"

	run, err := h.service.CancelOrInterruptRun(ctx, runID, action, wait)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
