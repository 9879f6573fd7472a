// Package api exposes the HTTP and WebSocket surface: itinerary CRUD,
// change proposals and applies, undo, chat, booking, task status, health,
// and the event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/chat"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
	"github.com/wayfarer-hq/wayfarer/pkg/services"
)

// Server wires the application services to HTTP handlers.
type Server struct {
	itineraries *services.ItineraryService
	chatRouter  *chat.Router
	tasks       *queue.TaskService
	pool        *queue.WorkerPool
	connManager *events.ConnectionManager

	httpServer *http.Server
}

// NewServer creates the API server. pool and connManager may be nil in tests.
func NewServer(itineraries *services.ItineraryService, chatRouter *chat.Router, tasks *queue.TaskService, pool *queue.WorkerPool, connManager *events.ConnectionManager) *Server {
	return &Server{
		itineraries: itineraries,
		chatRouter:  chatRouter,
		tasks:       tasks,
		pool:        pool,
		connManager: connManager,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/v1/health", s.healthHandler)
	r.GET("/ws", s.wsHandler)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/itineraries", s.createItinerary)
		v1.GET("/itineraries", s.listItineraries)
		v1.GET("/itineraries/:id", s.getItinerary)
		v1.GET("/itineraries/:id/revisions", s.listRevisions)
		v1.POST("/itineraries/:id/propose", s.proposeChange)
		v1.POST("/itineraries/:id/apply", s.applyChange)
		v1.POST("/itineraries/:id/undo", s.undo)
		v1.POST("/itineraries/:id/nodes/:nodeId/book", s.bookNode)

		v1.POST("/chat", s.handleChat)

		v1.GET("/tasks/:id", s.getTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
	}

	return r
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithListener serves on an existing listener. Tests use it to bind a
// random port before starting the server.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
