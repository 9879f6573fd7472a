// Package e2e boots a complete wayfarer instance over the in-memory store
// and a scripted mock LLM, exercising the HTTP and WebSocket surface end to
// end.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/api"
	"github.com/wayfarer-hq/wayfarer/pkg/chat"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/orchestrator"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
	"github.com/wayfarer-hq/wayfarer/pkg/services"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestApp is a fully wired wayfarer instance listening on a random port.
type TestApp struct {
	Store       *memory.Store
	Mock        *llm.MockClient
	Registry    *agent.Registry
	Deps        *agent.Deps
	Tasks       *queue.TaskService
	Pool        *queue.WorkerPool
	ConnManager *events.ConnectionManager
	Server      *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

type testAppConfig struct {
	workerCount  int
	pollInterval time.Duration
	taskTimeout  time.Duration
	maxAttempts  int
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithWorkerCount sets the number of queue workers.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithPollInterval sets the worker poll interval.
func WithPollInterval(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.pollInterval = d }
}

// WithTaskTimeout sets the per-task execution timeout.
func WithTaskTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.taskTimeout = d }
}

// WithMaxAttempts sets the default task attempt budget.
func WithMaxAttempts(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxAttempts = n }
}

// NewTestApp creates and starts a full wayfarer test instance. Shutdown is
// registered via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workerCount:  2,
		pollInterval: 10 * time.Millisecond,
		taskTimeout:  30 * time.Second,
		maxAttempts:  3,
	}
	for _, opt := range opts {
		opt(tc)
	}

	st := memory.New()
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus, 5*time.Second)

	mock := llm.NewMockClient("")
	gateway := llm.NewGateway(mock, llm.GatewayConfig{
		RetryMaxAttempts: 1,
		RetryBase:        time.Millisecond,
	})

	eng := engine.New(st, publisher, engine.DefaultPacingConfig())
	deps := &agent.Deps{
		Store:    st,
		Engine:   eng,
		Gateway:  gateway,
		Events:   publisher,
		Deadline: 10 * time.Second,
	}

	registry := agent.NewRegistry()
	planner := agent.NewPlannerAgent(deps)
	dayByDay := agent.NewDayByDayPlannerAgent(deps)
	for _, a := range []agent.Agent{
		planner,
		dayByDay,
		agent.NewSkeletonPlannerAgent(deps),
		agent.NewActivityAgent(deps),
		agent.NewMealAgent(deps),
		agent.NewTransportAgent(deps),
		agent.NewEnrichmentAgent(deps),
		agent.NewCostEstimatorAgent(deps),
		agent.NewEditorAgent(deps),
		agent.NewExplainAgent(deps),
		agent.NewBookingAgent(deps),
		agent.NewPlacesAgent(deps),
	} {
		require.NoError(t, registry.Register(a))
	}
	pipeline := orchestrator.New(st, eng, registry, deps, publisher)
	planner.SetPipeline(pipeline)
	dayByDay.SetPipeline(pipeline)

	queueCfg := queue.Config{
		WorkerCount:        tc.workerCount,
		PollInterval:       tc.pollInterval,
		TaskTimeout:        tc.taskTimeout,
		RetryBase:          time.Millisecond,
		DefaultMaxAttempts: tc.maxAttempts,
	}
	pool := queue.NewWorkerPool(st, registry, deps, queueCfg)
	require.NoError(t, pool.Start(context.Background()))
	tasks := queue.NewTaskService(st, pool, queueCfg)

	itineraries := services.NewItineraryService(st, eng, tasks, registry, deps)
	chatRouter := chat.NewRouter(registry, deps)

	server := api.NewServer(itineraries, chatRouter, tasks, pool, connManager)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Store:       st,
		Mock:        mock,
		Registry:    registry,
		Deps:        deps,
		Tasks:       tasks,
		Pool:        pool,
		ConnManager: connManager,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s/ws", addr),
		t:           t,
	}

	t.Cleanup(func() {
		pool.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return app
}
