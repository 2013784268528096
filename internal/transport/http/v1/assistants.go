package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/domain"
)

// CreateAssistant registers a new assistant.
// POST /api/v1/assistants
func (h *Handler) CreateAssistant(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateAssistantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	assistant, err := h.service.CreateAssistant(ctx, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, assistant)
}

// ListAssistants returns all registered assistants.
// GET /api/v1/assistants
func (h *Handler) ListAssistants(c echo.Context) error {
	assistants, err := h.service.ListAssistants(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"assistants": assistants})
}

// GetAssistant returns a single assistant.
// GET /api/v1/assistants/:assistant_id
func (h *Handler) GetAssistant(c echo.Context) error {
	assistant, err := h.service.GetAssistant(c.Request().Context(), c.Param("assistant_id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// DeleteAssistant removes an assistant.
// DELETE /api/v1/assistants/:assistant_id
func (h *Handler) DeleteAssistant(c echo.Context) error {
	if err := h.service.DeleteAssistant(c.Request().Context(), c.Param("assistant_id")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
