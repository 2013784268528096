package v1

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/agentplane/agentplane/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsFrame is the JSON frame written for each event over the socket.
type wsFrame struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StreamRunWS streams a run's events over a WebSocket connection,
// one JSON frame per event. A last_event_id query parameter resumes
// after that sequence, mirroring the SSE endpoint.
// GET /api/v1/runs/:run_id/ws
func (h *Handler) StreamRunWS(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	lastSeq := service.ParseLastEventID(runID, c.QueryParam("last_event_id"))

	events, err := h.service.StreamRun(ctx, runID, lastSeq)
	if err != nil {
		return jsonError(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Drain reads so ping/close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return nil
			}
			frame := wsFrame{ID: ev.EventID(), Event: ev.Type, Data: ev.Data}
			if err := conn.WriteJSON(frame); err != nil {
				return nil
			}
		}
	}
}
