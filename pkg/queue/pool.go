package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// WorkerPool manages a set of polling workers plus the zombie sweep.
type WorkerPool struct {
	store    store.Store
	registry *agent.Registry
	deps     *agent.Deps
	config   Config
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Task cancel registry: task id → cancel function.
	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	sweepMu          sync.Mutex
	lastZombieSweep  time.Time
	zombiesRecovered int
}

// NewWorkerPool creates a worker pool. Workers are not started until Start.
func NewWorkerPool(st store.Store, registry *agent.Registry, deps *agent.Deps, cfg Config) *WorkerPool {
	cfg = cfg.withDefaults()
	return &WorkerPool{
		store:       st,
		registry:    registry,
		deps:        deps,
		config:      cfg,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the zombie sweep background task.
// Subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.store, p.registry, p.deps, p.config, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runZombieSweep(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// complete their current tasks before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeTaskIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active tasks to complete",
			"count", len(active), "task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterTask stores a cancel function for cooperative cancellation.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task running in this
// process. Returns true if the task was found and cancelled.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	pending, errQ := p.store.ListTasksByStatus(ctx, models.TaskStatusPending)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check", "error", errQ)
	}
	running, errR := p.store.ListTasksByStatus(ctx, models.TaskStatusRunning)
	if errR != nil {
		slog.Error("Failed to query running tasks for health check", "error", errR)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	storeHealthy := errQ == nil && errR == nil
	isHealthy := len(p.workers) > 0 && len(running) <= p.config.MaxConcurrentTasks && storeHealthy

	p.sweepMu.Lock()
	lastSweep := p.lastZombieSweep
	recovered := p.zombiesRecovered
	p.sweepMu.Unlock()

	var storeError string
	if errQ != nil {
		storeError = fmt.Sprintf("queue depth query failed: %v", errQ)
	} else if errR != nil {
		storeError = fmt.Sprintf("running tasks query failed: %v", errR)
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		StoreReachable:   storeHealthy,
		StoreError:       storeError,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		RunningTasks:     len(running),
		MaxConcurrent:    p.config.MaxConcurrentTasks,
		QueueDepth:       len(pending),
		WorkerStats:      workerStats,
		LastZombieSweep:  lastSweep,
		ZombiesRecovered: recovered,
	}
}

// runZombieSweep periodically requeues running tasks whose worker died. Two
// triggers: no heartbeat for StaleThreshold, or started more than
// HardThreshold ago regardless of heartbeats.
func (p *WorkerPool) runZombieSweep(ctx context.Context) {
	ticker := time.NewTicker(p.config.ZombieSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepZombies(ctx)
		}
	}
}

// sweepZombies scans running tasks and requeues zombies for retry.
func (p *WorkerPool) sweepZombies(ctx context.Context) {
	now := time.Now()
	running, err := p.store.ListTasksByStatus(ctx, models.TaskStatusRunning)
	if err != nil {
		slog.Error("Zombie sweep query failed", "error", err)
		return
	}

	recovered := 0
	for _, t := range running {
		stale := now.Sub(t.UpdatedAt) > p.config.StaleThreshold
		overrun := !t.StartedAt.IsZero() && now.Sub(t.StartedAt) > p.config.HardThreshold
		if !stale && !overrun {
			continue
		}

		// A stale task's worker is presumed dead; cancel locally in case it
		// is actually ours and wedged.
		p.CancelTask(t.ID)

		_, err := p.store.TransitionTask(ctx, t.ID, models.TaskStatusRunning, models.TaskStatusPending, func(t *models.Task) {
			t.StartedAt = time.Time{}
			t.NextAttemptAt = now
			t.LastError = "requeued by zombie sweep"
		})
		if err != nil {
			if !errors.Is(err, store.ErrInvalidTransition) {
				slog.Error("Failed to requeue zombie task", "task_id", t.ID, "error", err)
			}
			continue
		}
		recovered++
		slog.Warn("Requeued zombie task",
			"task_id", t.ID,
			"type", t.Type,
			"stale", stale,
			"overrun", overrun)
	}

	p.sweepMu.Lock()
	p.lastZombieSweep = now
	p.zombiesRecovered += recovered
	p.sweepMu.Unlock()
}

// activeTaskIDs returns ids of currently processing tasks (for logging).
func (p *WorkerPool) activeTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
