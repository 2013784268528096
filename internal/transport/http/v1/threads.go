package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateThread creates a new conversation thread.
// POST /api/v1/threads
func (h *Handler) CreateThread(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	thread, err := h.service.CreateThread(ctx, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, thread)
}

// GetThread returns a single thread.
// GET /api/v1/threads/:thread_id
func (h *Handler) GetThread(c echo.Context) error {
	thread, err := h.service.GetThread(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// GetThreadHistory returns the historical graph states for a thread.
// GET /api/v1/threads/:thread_id/history
func (h *Handler) GetThreadHistory(c echo.Context) error {
	states, err := h.service.ThreadHistory(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": states})
}

// ListThreadRuns returns the runs executed on a thread, newest first.
// GET /api/v1/threads/:thread_id/runs
func (h *Handler) ListThreadRuns(c echo.Context) error {
	runs, err := h.service.ListRuns(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}
