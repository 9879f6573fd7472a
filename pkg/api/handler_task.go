package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// getTask handles GET /api/v1/tasks/:id.
func (s *Server) getTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// cancelTask handles POST /api/v1/tasks/:id/cancel.
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.tasks.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CancelResponse{TaskID: id, Message: "cancellation requested"})
}
