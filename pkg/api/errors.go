package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/services"
)

// ErrorResponse is the JSON error body for all failed requests.
type ErrorResponse struct {
	Error string   `json:"error"`
	Nodes []string `json:"nodes,omitempty"` // locked nodes for 409s
}

// writeServiceError maps service and engine errors to HTTP responses.
func writeServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validErr.Error()})
		return
	}
	var invalidCS *engine.InvalidChangeSetError
	if errors.As(err, &invalidCS) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: invalidCS.Error()})
		return
	}
	var lockErr *engine.LockedNodeError
	if errors.As(err, &lockErr) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: lockErr.Error(), Nodes: lockErr.Nodes})
		return
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "resource not found"})
	case errors.Is(err, services.ErrConcurrentModification):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "concurrent modification, reload and retry"})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "resource already exists"})
	case errors.Is(err, agent.ErrAgentTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "agent timed out"})
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
