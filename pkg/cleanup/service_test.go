package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/config"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

func seedTask(t *testing.T, st *memory.Store, id string, status models.TaskStatus, age time.Duration) {
	t.Helper()
	now := time.Now()
	require.NoError(t, st.CreateTask(context.Background(), &models.Task{
		ID:        id,
		Type:      "edit",
		Status:    status,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}))
}

func TestPruneExpiredTasks(t *testing.T) {
	st := memory.New()
	svc := NewService(config.CleanupConfig{TaskTTLHours: 24}, st)

	seedTask(t, st, "task_old_done", models.TaskStatusCompleted, 48*time.Hour)
	seedTask(t, st, "task_old_failed", models.TaskStatusFailed, 48*time.Hour)
	seedTask(t, st, "task_old_cancelled", models.TaskStatusCancelled, 48*time.Hour)
	seedTask(t, st, "task_fresh_done", models.TaskStatusCompleted, time.Hour)
	seedTask(t, st, "task_old_pending", models.TaskStatusPending, 48*time.Hour)
	seedTask(t, st, "task_old_running", models.TaskStatusRunning, 48*time.Hour)

	pruned, err := svc.PruneExpiredTasks(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	// Terminal tasks past the TTL are gone.
	for _, id := range []string{"task_old_done", "task_old_failed", "task_old_cancelled"} {
		_, err := st.GetTask(context.Background(), id)
		assert.True(t, errors.Is(err, store.ErrNotFound), "expected %s to be pruned", id)
	}

	// Fresh and non-terminal tasks survive regardless of age.
	for _, id := range []string{"task_fresh_done", "task_old_pending", "task_old_running"} {
		_, err := st.GetTask(context.Background(), id)
		assert.NoError(t, err, "expected %s to survive", id)
	}
}

func TestPruneReleasesIdempotencyKey(t *testing.T) {
	st := memory.New()
	svc := NewService(config.CleanupConfig{TaskTTLHours: 24}, st)

	now := time.Now()
	require.NoError(t, st.CreateTask(context.Background(), &models.Task{
		ID:             "task_keyed",
		Type:           "create",
		Status:         models.TaskStatusCompleted,
		IdempotencyKey: "idem-1",
		CreatedAt:      now.Add(-48 * time.Hour),
		UpdatedAt:      now.Add(-48 * time.Hour),
	}))

	pruned, err := svc.PruneExpiredTasks(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, err = st.GetTaskByIdempotencyKey(context.Background(), "idem-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPruneNothingExpired(t *testing.T) {
	st := memory.New()
	svc := NewService(config.CleanupConfig{TaskTTLHours: 24}, st)
	seedTask(t, st, "task_recent", models.TaskStatusCompleted, time.Minute)

	pruned, err := svc.PruneExpiredTasks(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestStartStop(t *testing.T) {
	st := memory.New()
	svc := NewService(config.CleanupConfig{}, st)

	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()), "double start must fail")

	svc.Stop()
	// Stop after stop is a no-op.
	svc.Stop()

	// The service can be restarted after a clean stop.
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
}
