package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

func TestPoolRegisterAndCancelTask(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterTask("task-1", cancel)

	assert.True(t, pool.CancelTask("task-1"))
	assert.Error(t, ctx.Err())

	assert.False(t, pool.CancelTask("unknown"))
}

func TestPoolUnregisterTask(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterTask("task-1", cancel)
	assert.True(t, pool.CancelTask("task-1"))

	pool.UnregisterTask("task-1")
	assert.False(t, pool.CancelTask("task-1"))
}

func TestPoolActiveTaskIDs(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	assert.Empty(t, pool.activeTaskIDs())

	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterTask("task-a", cancel1)
	pool.RegisterTask("task-b", cancel2)

	ids := pool.activeTaskIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "task-a")
	assert.Contains(t, ids, "task-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}

	pool.Stop()
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestSweepRequeuesZombieTasks(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &models.Task{
		ID: "task-zombie", Type: "edit", ItineraryID: "it_1",
		Status: models.TaskStatusPending, MaxAttempts: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	// Claim with a timestamp an hour in the past so both the heartbeat
	// staleness and the hard runtime bound have been exceeded.
	claimed, err := st.ClaimNextTask(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusRunning, claimed.Status)

	pool := NewWorkerPool(st, nil, nil, Config{})
	pool.sweepZombies(ctx)

	task, err := st.GetTask(ctx, "task-zombie")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.True(t, task.StartedAt.IsZero())
	assert.False(t, task.NextAttemptAt.IsZero())
	assert.Contains(t, task.LastError, "zombie")

	health := pool.Health()
	assert.Equal(t, 1, health.ZombiesRecovered)
	assert.False(t, health.LastZombieSweep.IsZero())
}

func TestSweepLeavesHealthyRunningTasks(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &models.Task{
		ID: "task-live", Type: "edit", ItineraryID: "it_1",
		Status: models.TaskStatusPending, MaxAttempts: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	_, err := st.ClaimNextTask(ctx, time.Now())
	require.NoError(t, err)

	pool := NewWorkerPool(st, nil, nil, Config{})
	pool.sweepZombies(ctx)

	task, err := st.GetTask(ctx, "task-live")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
	assert.Equal(t, 0, pool.Health().ZombiesRecovered)
}
