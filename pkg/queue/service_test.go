package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

// stubAgent answers a fixed task type with a scripted execute function.
type stubAgent struct {
	taskType string
	execute  func(ctx context.Context, req *agent.Request) (*agent.Result, error)
}

func (a *stubAgent) Capabilities() agent.Capabilities {
	return agent.Capabilities{Name: a.taskType + "-stub", TaskType: a.taskType, Priority: 1}
}

func (a *stubAgent) Execute(ctx context.Context, req *agent.Request) (*agent.Result, error) {
	return a.execute(ctx, req)
}

type queueFixture struct {
	store   *memory.Store
	pool    *WorkerPool
	service *TaskService
}

func newQueueFixture(t *testing.T, agents ...agent.Agent) *queueFixture {
	t.Helper()
	st := memory.New()
	registry := agent.NewRegistry()
	for _, a := range agents {
		require.NoError(t, registry.Register(a))
	}
	deps := &agent.Deps{Store: st, Deadline: 5 * time.Second}
	cfg := Config{
		WorkerCount:        2,
		PollInterval:       5 * time.Millisecond,
		TaskTimeout:        time.Second,
		RetryBase:          time.Millisecond,
		DefaultMaxAttempts: 3,
	}
	pool := NewWorkerPool(st, registry, deps, cfg)
	return &queueFixture{
		store:   st,
		pool:    pool,
		service: NewTaskService(st, pool, cfg),
	}
}

func (f *queueFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.pool.Start(context.Background()))
	t.Cleanup(f.pool.Stop)
}

func (f *queueFixture) waitForStatus(t *testing.T, taskID string, status models.TaskStatus) *models.Task {
	t.Helper()
	var task *models.Task
	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = got
		return task.Status == status
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", taskID, status)
	return task
}

func TestSubmitAndProcessTask(t *testing.T) {
	f := newQueueFixture(t, &stubAgent{
		taskType: "edit",
		execute: func(ctx context.Context, req *agent.Request) (*agent.Result, error) {
			return &agent.Result{Message: "moved dinner", Applied: true, ToVersion: 2}, nil
		},
	})
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type:        "edit",
		ItineraryID: "it_abc",
		Request:     &agent.Request{ItineraryID: "it_abc", ChatText: "move dinner to 8pm"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	done := f.waitForStatus(t, task.ID, models.TaskStatusCompleted)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, "moved dinner", done.Result["message"])
	assert.Equal(t, true, done.Result["applied"])
	assert.False(t, done.StartedAt.IsZero())
}

func TestSubmitIdempotencyReturnsExistingTask(t *testing.T) {
	f := newQueueFixture(t)

	first, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	second, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc", IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubmitRequiresType(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.service.Submit(context.Background(), SubmitInput{ItineraryID: "it_abc"})
	assert.Error(t, err)
}

func TestFailingTaskRetriesUntilMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	f := newQueueFixture(t, &stubAgent{
		taskType: "edit",
		execute: func(ctx context.Context, req *agent.Request) (*agent.Result, error) {
			calls.Add(1)
			return nil, errors.New("model unavailable")
		},
	})
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc", MaxAttempts: 2,
	})
	require.NoError(t, err)

	failed := f.waitForStatus(t, task.ID, models.TaskStatusFailed)
	assert.Equal(t, 2, failed.Attempts)
	assert.Contains(t, failed.LastError, "model unavailable")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	f := newQueueFixture(t, &stubAgent{
		taskType: "edit",
		execute: func(ctx context.Context, req *agent.Request) (*agent.Result, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient")
			}
			return &agent.Result{Message: "ok"}, nil
		},
	})
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc",
	})
	require.NoError(t, err)

	done := f.waitForStatus(t, task.ID, models.TaskStatusCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Empty(t, done.LastError)
}

func TestCancelPendingTask(t *testing.T) {
	f := newQueueFixture(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), task.ID))

	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	// Cancelling an already cancelled task is a no-op.
	assert.NoError(t, f.service.Cancel(context.Background(), task.ID))
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	f := newQueueFixture(t, &stubAgent{
		taskType: "plan",
		execute: func(ctx context.Context, req *agent.Request) (*agent.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "plan", ItineraryID: "it_abc",
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	require.NoError(t, f.service.Cancel(context.Background(), task.ID))
	cancelled := f.waitForStatus(t, task.ID, models.TaskStatusCancelled)
	assert.NotEmpty(t, cancelled.LastError)
}

func TestCancelCompletedTaskFails(t *testing.T) {
	f := newQueueFixture(t, &stubAgent{
		taskType: "edit",
		execute: func(ctx context.Context, req *agent.Request) (*agent.Result, error) {
			return &agent.Result{}, nil
		},
	})
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "edit", ItineraryID: "it_abc",
	})
	require.NoError(t, err)
	f.waitForStatus(t, task.ID, models.TaskStatusCompleted)

	err = f.service.Cancel(context.Background(), task.ID)
	assert.ErrorContains(t, err, "already completed")
}

func TestUnknownTaskTypeFailsPermanently(t *testing.T) {
	f := newQueueFixture(t)
	f.start(t)

	task, err := f.service.Submit(context.Background(), SubmitInput{
		Type: "no-such-type", ItineraryID: "it_abc", MaxAttempts: 1,
	})
	require.NoError(t, err)

	failed := f.waitForStatus(t, task.ID, models.TaskStatusFailed)
	assert.Contains(t, failed.LastError, "no agent registered")
}
