package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /api/v1/health. Only in-process components are
// checked; the LLM provider is deliberately excluded so an upstream outage
// does not get this process restarted.
func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy
	resp := &HealthResponse{Version: version.Full(), Checks: checks}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		resp.WorkerPool = poolHealth
		if !poolHealth.IsHealthy {
			status = healthStatusDegraded
			msg := "worker pool unhealthy"
			if poolHealth.StoreError != "" {
				msg = poolHealth.StoreError
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}
	if s.connManager != nil {
		checks["websocket"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp.Status = status
	c.JSON(http.StatusOK, resp)
}
