package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

func testItinerary(id string, version int) *models.Itinerary {
	return &models.Itinerary{
		ID: id, Version: version, Owner: "user_1",
		Days: []*models.Day{{
			DayNumber: 1, Date: "2026-09-01",
			Nodes: []*models.Node{{ID: "day1_node1", Type: models.NodeTypeMeal, Title: "Breakfast"}},
		}},
	}
}

func TestPutItineraryVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()

	// 0 means "must not exist".
	require.NoError(t, s.PutItinerary(ctx, testItinerary("it_1", 1), 0))
	assert.ErrorIs(t, s.PutItinerary(ctx, testItinerary("it_1", 1), 0), store.ErrVersionConflict)

	// Updates must carry the stored version.
	it := testItinerary("it_1", 2)
	require.NoError(t, s.PutItinerary(ctx, it, 1))
	assert.ErrorIs(t, s.PutItinerary(ctx, testItinerary("it_1", 3), 1), store.ErrVersionConflict)

	// Updating a missing document is not an upsert.
	assert.ErrorIs(t, s.PutItinerary(ctx, testItinerary("it_missing", 2), 1), store.ErrNotFound)
}

func TestGetItineraryReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutItinerary(ctx, testItinerary("it_1", 1), 0))

	got, err := s.GetItinerary(ctx, "it_1")
	require.NoError(t, err)
	got.Days[0].Nodes[0].Title = "mutated"

	again, err := s.GetItinerary(ctx, "it_1")
	require.NoError(t, err)
	assert.Equal(t, "Breakfast", again.Days[0].Nodes[0].Title)
}

func TestRevisionRetention(t *testing.T) {
	s := New(WithRevisionRetain(3))
	ctx := context.Background()

	for v := 1; v <= 5; v++ {
		require.NoError(t, s.SaveRevision(ctx, models.Revision{
			ItineraryID: "it_1", Version: v, Snapshot: testItinerary("it_1", v),
		}))
	}

	// Only the newest three survive, newest first.
	revs, err := s.ListRevisions(ctx, "it_1", 0)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, 5, revs[0].Version)
	assert.Equal(t, 3, revs[2].Version)

	_, err = s.GetRevision(ctx, "it_1", 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rev, err := s.GetRevision(ctx, "it_1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rev.Snapshot.Version)
}

func TestListRevisionsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for v := 1; v <= 4; v++ {
		require.NoError(t, s.SaveRevision(ctx, models.Revision{
			ItineraryID: "it_1", Version: v, Snapshot: testItinerary("it_1", v),
		}))
	}
	revs, err := s.ListRevisions(ctx, "it_1", 2)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, 4, revs[0].Version)
	assert.Equal(t, 3, revs[1].Version)
}

func TestMetadataByOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutMetadata(ctx, models.TripMetadata{Owner: "user_1", ItineraryID: "it_a"}))
	require.NoError(t, s.PutMetadata(ctx, models.TripMetadata{Owner: "user_1", ItineraryID: "it_b"}))
	require.NoError(t, s.PutMetadata(ctx, models.TripMetadata{Owner: "user_2", ItineraryID: "it_c"}))

	mds, err := s.ListByOwner(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, mds, 2)
	assert.Equal(t, "it_a", mds[0].ItineraryID)

	// Upsert replaces the entry in place.
	require.NoError(t, s.PutMetadata(ctx, models.TripMetadata{
		Owner: "user_1", ItineraryID: "it_a", Status: models.GenerationStatusReady,
	}))
	mds, err = s.ListByOwner(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, mds, 2)
}

func newTask(id string, createdAt time.Time) *models.Task {
	return &models.Task{
		ID: id, Type: "edit", Status: models.TaskStatusPending,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}
}

func TestClaimNextTaskFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTask(ctx, newTask("task_b", now.Add(-time.Minute))))
	require.NoError(t, s.CreateTask(ctx, newTask("task_a", now.Add(-2*time.Minute))))

	first, err := s.ClaimNextTask(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "task_a", first.ID)
	assert.Equal(t, models.TaskStatusRunning, first.Status)
	assert.Equal(t, now, first.StartedAt)

	second, err := s.ClaimNextTask(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "task_b", second.ID)

	_, err = s.ClaimNextTask(ctx, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimSkipsTasksNotYetDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	task := newTask("task_later", now)
	task.NextAttemptAt = now.Add(time.Minute)
	require.NoError(t, s.CreateTask(ctx, task))

	_, err := s.ClaimNextTask(ctx, now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	claimed, err := s.ClaimNextTask(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "task_later", claimed.ID)
}

func TestTaskIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := newTask("task_1", time.Now())
	task.IdempotencyKey = "idem-1"
	require.NoError(t, s.CreateTask(ctx, task))

	dup := newTask("task_2", time.Now())
	dup.IdempotencyKey = "idem-1"
	assert.ErrorIs(t, s.CreateTask(ctx, dup), store.ErrDuplicateIdempotencyKey)

	existing, err := s.GetTaskByIdempotencyKey(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "task_1", existing.ID)
}

func TestTransitionTaskGuardsCurrentStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newTask("task_1", time.Now())))

	_, err := s.TransitionTask(ctx, "task_1", models.TaskStatusRunning, models.TaskStatusCompleted, nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.TransitionTask(ctx, "task_1", models.TaskStatusPending, models.TaskStatusCancelled, func(t *models.Task) {
		t.LastError = "cancelled by user"
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, "cancelled by user", got.LastError)

	_, err = s.TransitionTask(ctx, "task_missing", models.TaskStatusPending, models.TaskStatusRunning, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeTasks(t *testing.T) {
	s := New()
	ctx := context.Background()

	var seen []string
	unsubscribe := s.SubscribeTasks(store.TaskFilter{Type: "edit"}, func(task *models.Task) {
		seen = append(seen, task.ID+":"+string(task.Status))
	})

	require.NoError(t, s.CreateTask(ctx, newTask("task_1", time.Now())))
	other := newTask("task_other", time.Now())
	other.Type = "create"
	require.NoError(t, s.CreateTask(ctx, other))

	_, err := s.TransitionTask(ctx, "task_1", models.TaskStatusPending, models.TaskStatusRunning, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"task_1:pending", "task_1:running"}, seen)

	unsubscribe()
	_, err = s.TransitionTask(ctx, "task_1", models.TaskStatusRunning, models.TaskStatusCompleted, nil)
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestDeleteTask(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := newTask("task_1", time.Now())
	task.IdempotencyKey = "idem-1"
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.DeleteTask(ctx, "task_1"))

	_, err := s.GetTask(ctx, "task_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTaskByIdempotencyKey(ctx, "idem-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteTask(ctx, "task_1"), store.ErrNotFound)
}

func TestListTasksByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateTask(ctx, newTask("task_1", now.Add(-time.Minute))))
	require.NoError(t, s.CreateTask(ctx, newTask("task_2", now)))
	_, err := s.TransitionTask(ctx, "task_1", models.TaskStatusPending, models.TaskStatusRunning, nil)
	require.NoError(t, err)

	pending, err := s.ListTasksByStatus(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "task_2", pending[0].ID)

	running, err := s.ListTasksByStatus(ctx, models.TaskStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "task_1", running[0].ID)
}
