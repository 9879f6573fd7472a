package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// Canceller cancels a task running in this process. Implemented by WorkerPool.
type Canceller interface {
	CancelTask(taskID string) bool
}

// TaskService is the submission and lifecycle surface for durable tasks.
// Handlers and chat routing submit work here; the worker pool drains it.
type TaskService struct {
	store     store.Store
	canceller Canceller
	config    Config
}

// NewTaskService creates a task service. canceller may be nil (running tasks
// can then only be cancelled by the zombie sweep).
func NewTaskService(st store.Store, canceller Canceller, cfg Config) *TaskService {
	return &TaskService{store: st, canceller: canceller, config: cfg.withDefaults()}
}

// SubmitInput describes a task to enqueue.
type SubmitInput struct {
	Type           string
	ItineraryID    string
	Owner          string
	Request        *agent.Request
	IdempotencyKey string
	MaxAttempts    int
}

// Submit enqueues a task. When the idempotency key is already known the
// existing task is returned instead of creating a duplicate.
func (s *TaskService) Submit(ctx context.Context, in SubmitInput) (*models.Task, error) {
	if in.Type == "" {
		return nil, fmt.Errorf("task type is required")
	}

	params, err := requestToParams(in.Request)
	if err != nil {
		return nil, err
	}

	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.config.DefaultMaxAttempts
	}

	now := time.Now()
	task := &models.Task{
		ID:             NewTaskID(),
		Type:           in.Type,
		ItineraryID:    in.ItineraryID,
		Owner:          in.Owner,
		Params:         params,
		Status:         models.TaskStatusPending,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, getErr := s.store.GetTaskByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("looking up task by idempotency key: %w", getErr)
			}
			slog.Info("Returning existing task for idempotency key",
				"task_id", existing.ID, "type", existing.Type)
			return existing, nil
		}
		return nil, fmt.Errorf("creating task: %w", err)
	}

	slog.Info("Task submitted",
		"task_id", task.ID, "type", task.Type, "itinerary_id", task.ItineraryID)
	return task, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns tasks with the given status, oldest first.
func (s *TaskService) List(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	return s.store.ListTasksByStatus(ctx, status)
}

// Cancel moves a pending task to cancelled, or signals a running task's
// context; the owning worker then records the cancelled state.
func (s *TaskService) Cancel(ctx context.Context, id string) error {
	_, err := s.store.TransitionTask(ctx, id, models.TaskStatusPending, models.TaskStatusCancelled, nil)
	if err == nil {
		slog.Info("Cancelled pending task", "task_id", id)
		return nil
	}
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusRunning:
		if s.canceller != nil && s.canceller.CancelTask(id) {
			slog.Info("Signalled running task for cancellation", "task_id", id)
			return nil
		}
		return fmt.Errorf("task %s is running on another process", id)
	case models.TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("task %s is already %s", id, task.Status)
	}
}

// NewTaskID returns a fresh task id.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// requestToParams flattens an agent request into task params. Inverse of
// requestFromTask in worker.go.
func requestToParams(req *agent.Request) (map[string]any, error) {
	if req == nil {
		return nil, nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding task params: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encoding task params: %w", err)
	}
	return out, nil
}
