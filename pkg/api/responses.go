package api

import (
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
)

// BookResponse is returned by POST /api/v1/itineraries/:id/nodes/:nodeId/book.
type BookResponse struct {
	BookingRef string       `json:"booking_ref"`
	Locked     bool         `json:"locked"`
	Message    string       `json:"message,omitempty"`
	ToVersion  int          `json:"to_version,omitempty"`
	Diff       *models.Diff `json:"diff,omitempty"`
}

// CancelResponse is returned by POST /api/v1/tasks/:id/cancel.
type CancelResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// HealthCheck is one component's status inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Checks     map[string]HealthCheck `json:"checks"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
}
