// Package v1 provides the HTTP handlers for the /api/v1 surface.
package v1

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	// Assistant API
	g.POST("/assistants", h.CreateAssistant)
	g.GET("/assistants", h.ListAssistants)
	g.GET("/assistants/:assistant_id", h.GetAssistant)
	g.DELETE("/assistants/:assistant_id", h.DeleteAssistant)

	// Thread API
	g.POST("/threads", h.CreateThread)
	g.GET("/threads/:thread_id", h.GetThread)
	g.GET("/threads/:thread_id/history", h.GetThreadHistory)
	g.GET("/threads/:thread_id/runs", h.ListThreadRuns)
	g.POST("/threads/:thread_id/runs", h.CreateRun)
	g.POST("/threads/:thread_id/runs/stream", h.CreateRunStream)

	// Run API
	g.GET("/runs/:run_id", h.GetRun)
	g.POST("/runs/:run_id/status", h.UpdateRunStatus)
	g.POST("/runs/:run_id/cancel", h.CancelRun)
	g.GET("/runs/:run_id/stream", h.StreamRun)
	g.GET("/runs/:run_id/ws", h.StreamRunWS)

	// Cron API
	g.POST("/crons", h.CreateSchedule)
	g.GET("/crons", h.ListSchedules)
	g.GET("/crons/:schedule_id", h.GetSchedule)
	g.PUT("/crons/:schedule_id", h.UpdateSchedule)
	g.DELETE("/crons/:schedule_id", h.DeleteSchedule)
	g.POST("/crons/:schedule_id/trigger", h.TriggerSchedule)
	g.GET("/crons/:schedule_id/firings", h.ListFirings)
}

// jsonError maps service errors onto HTTP status codes and writes the
// standard {"error": msg} body.
func jsonError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
