package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateSchedule registers a new cron schedule.
// POST /api/v1/crons
func (h *Handler) CreateSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	schedule, err := h.service.CreateSchedule(ctx, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, schedule)
}

// ListSchedules returns all cron schedules.
// GET /api/v1/crons
func (h *Handler) ListSchedules(c echo.Context) error {
	schedules, err := h.service.ListSchedules(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"crons": schedules})
}

// GetSchedule returns a single cron schedule.
// GET /api/v1/crons/:schedule_id
func (h *Handler) GetSchedule(c echo.Context) error {
	schedule, err := h.service.GetSchedule(c.Request().Context(), c.Param("schedule_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, schedule)
}

// UpdateSchedule updates a cron schedule in place.
// PUT /api/v1/crons/:schedule_id
func (h *Handler) UpdateSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.UpdateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	schedule, err := h.service.UpdateSchedule(ctx, c.Param("schedule_id"), req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule removes a cron schedule.
// DELETE /api/v1/crons/:schedule_id
func (h *Handler) DeleteSchedule(c echo.Context) error {
	if err := h.service.DeleteSchedule(c.Request().Context(), c.Param("schedule_id")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TriggerSchedule enqueues an immediate firing for a schedule,
// bypassing the cron expression.
// POST /api/v1/crons/:schedule_id/trigger
func (h *Handler) TriggerSchedule(c echo.Context) error {
	firing, err := h.service.TriggerScheduleNow(c.Request().Context(), c.Param("schedule_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, firing)
}

// ListFirings returns the firing history for a schedule, newest first.
// GET /api/v1/crons/:schedule_id/firings
func (h *Handler) ListFirings(c echo.Context) error {
	firings, err := h.service.ListFirings(c.Request().Context(), c.Param("schedule_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"firings": firings})
}
