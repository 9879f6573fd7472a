// Wayfarer itinerary server: HTTP API, WebSocket progress streaming, queue
// workers, and the agent-driven generation pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/api"
	"github.com/wayfarer-hq/wayfarer/pkg/chat"
	"github.com/wayfarer-hq/wayfarer/pkg/cleanup"
	"github.com/wayfarer-hq/wayfarer/pkg/config"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/orchestrator"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
	"github.com/wayfarer-hq/wayfarer/pkg/services"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
	"github.com/wayfarer-hq/wayfarer/pkg/store/redisstore"
	"github.com/wayfarer-hq/wayfarer/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	addr := flag.String("addr", "", "Listen address override (default from config)")
	flag.Parse()

	// Load .env from the config directory before reading configuration.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting wayfarer", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	listenAddr := cfg.Server.Addr
	if *addr != "" {
		listenAddr = *addr
	}

	// Persistence backend.
	var st store.Store
	switch cfg.Store.Type {
	case config.StoreTypeInMemory:
		st = memory.New(memory.WithRevisionRetain(cfg.Revisions.Retain))
		slog.Info("Using in-memory store")
	case config.StoreTypeRemoteKV, config.StoreTypeRedis:
		rs, err := redisstore.New(ctx, redisstore.Options{
			Addr:           cfg.Store.Redis.Addr,
			Password:       cfg.Store.Redis.Password,
			DB:             cfg.Store.Redis.DB,
			RevisionRetain: cfg.Revisions.Retain,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Store.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rs.Close(); err != nil {
				slog.Error("Error closing Redis store", "error", err)
			}
		}()
		st = rs
		slog.Info("Connected to Redis store", "addr", cfg.Store.Redis.Addr)
	}

	// Event streaming infrastructure.
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus, 10*time.Second)

	// LLM client and gateway.
	var client llm.Client
	if cfg.LLM.MockMode {
		client = llm.NewMockClient(cfg.LLM.MockDir)
		slog.Warn("LLM mock mode enabled, no model calls will be made")
	} else {
		apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
		if apiKey == "" {
			slog.Error("Missing API key", "env", cfg.LLM.APIKeyEnv)
			os.Exit(1)
		}
		client = llm.NewOpenAIClient(apiKey, "", cfg.LLM.Model)
	}
	gateway := llm.NewGateway(client, llm.GatewayConfig{
		RetryMaxAttempts: cfg.LLM.Retry.MaxAttempts,
		RetryBase:        cfg.LLM.Retry.Base(),
		Temperature:      float32(cfg.LLM.Temperature),
		MaxTokens:        cfg.LLM.MaxTokens,
	})
	defer func() {
		if err := gateway.Close(); err != nil {
			slog.Error("Error closing LLM gateway", "error", err)
		}
	}()
	slog.Info("LLM gateway initialized", "model", cfg.LLM.Model, "mock_mode", cfg.LLM.MockMode)

	// Mutation engine and agents.
	eng := engine.New(st, publisher, engine.DefaultPacingConfig())
	deps := &agent.Deps{
		Store:    st,
		Engine:   eng,
		Gateway:  gateway,
		Events:   publisher,
		Model:    cfg.LLM.Model,
		Deadline: cfg.Orchestrator.PhaseTimeout(),
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
		if err := registry.Register(a); err != nil {
			slog.Error("Failed to register agent", "error", err)
			os.Exit(1)
		}
	}

	// The orchestrator is built over the registry, then injected back into
	// the planner agents that delegate full generation runs to it.
	pipeline := orchestrator.New(st, eng, registry, deps, publisher)
	planner.SetPipeline(pipeline)
	dayByDay.SetPipeline(pipeline)
	slog.Info("Agents registered", "count", len(registry.Agents()))

	// Durable task queue.
	queueCfg := queue.Config{
		WorkerCount:         cfg.Queue.WorkerCount,
		MaxConcurrentTasks:  cfg.Queue.MaxConcurrentTasks,
		PollInterval:        time.Duration(cfg.Queue.PollIntervalMs) * time.Millisecond,
		PollIntervalJitter:  time.Duration(cfg.Queue.PollJitterMs) * time.Millisecond,
		TaskTimeout:         time.Duration(cfg.Queue.TaskTimeoutSec) * time.Second,
		ZombieSweepInterval: time.Duration(cfg.TaskSweep.IntervalSec) * time.Second,
		StaleThreshold:      time.Duration(cfg.TaskSweep.StalenessMinutes) * time.Minute,
		HardThreshold:       time.Duration(cfg.TaskSweep.HardLimitMinutes) * time.Minute,
		RetryBase:           time.Duration(cfg.Queue.RetryBaseMs) * time.Millisecond,
		DefaultMaxAttempts:  cfg.Queue.MaxAttempts,
	}
	pool := queue.NewWorkerPool(st, registry, deps, queueCfg)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}
	tasks := queue.NewTaskService(st, pool, queueCfg)

	// Domain services.
	itineraries := services.NewItineraryService(st, eng, tasks, registry, deps)
	chatRouter := chat.NewRouter(registry, deps)

	// Background retention.
	cleaner := cleanup.NewService(cfg.Cleanup, st)
	if err := cleaner.Start(ctx); err != nil {
		slog.Error("Failed to start cleanup service", "error", err)
		os.Exit(1)
	}

	// HTTP server.
	server := api.NewServer(itineraries, chatRouter, tasks, pool, connManager)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(listenAddr); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Wayfarer started", "workers", cfg.Queue.WorkerCount, "store", cfg.Store.Type)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: stop intake first, then drain workers.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Worker pool shutdown timeout exceeded, tasks will be requeued by the zombie sweep")
	}

	cleaner.Stop()

	slog.Info("Shutdown complete")
}
