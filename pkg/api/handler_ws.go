package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws to WebSocket and delegates to ConnectionManager.
// Clients then subscribe to "itinerary:{id}" channels for progress and patch
// events.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "WebSocket not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// TODO: replace with an OriginPatterns allowlist once the frontend
		// origin is settled.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
