package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/chat"
)

// handleChat handles POST /api/v1/chat. One conversational turn, routed to
// the responsible agent; runs synchronously within the agent deadline.
func (s *Server) handleChat(c *gin.Context) {
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.ChatText) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "chat_text is required"})
		return
	}

	res, err := s.chatRouter.Handle(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
