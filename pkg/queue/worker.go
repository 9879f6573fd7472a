package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// maxRetryDelay caps the exponential retry backoff.
const maxRetryDelay = 5 * time.Minute

// Worker is a single queue worker that polls for and processes tasks.
type Worker struct {
	id       string
	store    store.Store
	registry *agent.Registry
	deps     *agent.Deps
	config   Config
	pool     TaskRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// TaskRegistry is the subset of WorkerPool used by Worker for task
// cancellation registration.
type TaskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id string, st store.Store, registry *agent.Registry, deps *agent.Deps, cfg Config, pool TaskRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		registry:     registry,
		deps:         deps,
		config:       cfg,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second) // brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a task, and processes it to a
// terminal or retryable state.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Best-effort capacity check; racy with concurrent workers but bounded
	// by WorkerCount and mitigated by poll jitter.
	running, err := w.store.ListTasksByStatus(ctx, models.TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("checking running tasks: %w", err)
	}
	if len(running) >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	task, err := w.store.ClaimNextTask(ctx, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoTasksAvailable
		}
		return fmt.Errorf("claiming task: %w", err)
	}

	log := slog.With("task_id", task.ID, "type", task.Type, "worker_id", w.id)
	log.Info("Task claimed", "attempt", task.Attempts+1, "max_attempts", task.MaxAttempts)

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	taskCtx, cancelTask := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancelTask()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterTask(task.ID, cancelTask)
	defer w.pool.UnregisterTask(task.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, task.ID)

	result, execErr := w.execute(taskCtx, task)

	cancelHeartbeat()

	// Terminal updates use a background context: the task context may
	// already be cancelled or expired.
	if err := w.settle(context.Background(), taskCtx, task, result, execErr); err != nil {
		log.Error("Failed to settle task", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("Task processing complete")
	return nil
}

// execute routes the task to its agent and runs it under the task context.
func (w *Worker) execute(ctx context.Context, task *models.Task) (*agent.Result, error) {
	a, err := w.registry.Route(task.Type)
	if err != nil {
		return nil, err
	}
	req, err := requestFromTask(task)
	if err != nil {
		return nil, err
	}
	return agent.Run(ctx, a, w.deps, req)
}

// settle writes the post-execution task state: completed on success,
// cancelled on external cancellation, pending with backoff while attempts
// remain, failed otherwise.
func (w *Worker) settle(ctx, taskCtx context.Context, task *models.Task, result *agent.Result, execErr error) error {
	if execErr == nil {
		_, err := w.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusCompleted, func(t *models.Task) {
			t.Attempts++
			t.LastError = ""
			t.Result = resultToMap(result)
		})
		return ignoreExternalTransition(err, task.ID)
	}

	if errors.Is(taskCtx.Err(), context.Canceled) {
		_, err := w.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusCancelled, func(t *models.Task) {
			t.Attempts++
			t.LastError = execErr.Error()
		})
		return ignoreExternalTransition(err, task.ID)
	}

	attempt := task.Attempts + 1
	if attempt >= task.MaxAttempts {
		slog.Warn("Task failed permanently",
			"task_id", task.ID, "type", task.Type, "attempts", attempt, "error", execErr)
		_, err := w.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusFailed, func(t *models.Task) {
			t.Attempts = attempt
			t.LastError = execErr.Error()
		})
		return ignoreExternalTransition(err, task.ID)
	}

	delay := retryDelay(w.config.RetryBase, attempt)
	slog.Warn("Task failed, scheduling retry",
		"task_id", task.ID, "type", task.Type, "attempt", attempt, "retry_in", delay, "error", execErr)
	_, err := w.store.TransitionTask(ctx, task.ID, models.TaskStatusRunning, models.TaskStatusPending, func(t *models.Task) {
		t.Attempts = attempt
		t.StartedAt = time.Time{}
		t.LastError = execErr.Error()
		t.NextAttemptAt = time.Now().Add(delay)
	})
	return ignoreExternalTransition(err, task.ID)
}

// ignoreExternalTransition swallows ErrInvalidTransition: the task was moved
// out of running by someone else (cancellation endpoint, zombie sweep) while
// we were finishing, and their state wins.
func ignoreExternalTransition(err error, taskID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrInvalidTransition) {
		slog.Info("Task already transitioned externally, keeping its state", "task_id", taskID)
		return nil
	}
	return err
}

// runHeartbeat periodically refreshes the task's updated_at so the zombie
// sweep can tell this task is alive.
func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.store.TransitionTask(ctx, taskID, models.TaskStatusRunning, models.TaskStatusRunning, nil)
			if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
				slog.Warn("Heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// retryDelay is exponential in the attempt number, capped at maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}

// requestFromTask decodes the task's params back into an agent request.
// Params are written by TaskService.Submit via requestToParams; the two are
// JSON-shape inverses.
func requestFromTask(task *models.Task) (*agent.Request, error) {
	req := &agent.Request{ItineraryID: task.ItineraryID}
	if len(task.Params) == 0 {
		return req, nil
	}
	raw, err := json.Marshal(task.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding task params: %w", err)
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("decoding task params: %w", err)
	}
	if req.ItineraryID == "" {
		req.ItineraryID = task.ItineraryID
	}
	return req, nil
}

// resultToMap flattens an agent result into the task's result field.
func resultToMap(result *agent.Result) map[string]any {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"message": result.Message}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"message": result.Message}
	}
	return out
}
