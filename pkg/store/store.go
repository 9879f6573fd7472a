// Package store defines the persistence abstraction for itineraries,
// revisions, trip metadata, and durable tasks.
//
// Two implementations exist: memory (tests, single-process deployments) and
// redisstore (remote KV). Both provide compare-and-swap on the itinerary
// version and atomic task state transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// Sentinel errors surfaced by store implementations.
var (
	// ErrNotFound indicates the itinerary, revision, or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a compare-and-swap failure. The caller
	// must reload the current document and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrTransientIO indicates a retryable I/O failure.
	ErrTransientIO = errors.New("transient io error")

	// ErrDuplicateIdempotencyKey indicates a task with the same idempotency
	// key already exists. The existing task should be returned to the caller.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransition indicates a task state transition from an
	// unexpected current status.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// TaskFilter selects tasks for SubscribeTasks notifications.
// Zero-value fields match everything.
type TaskFilter struct {
	ItineraryID string
	Type        string
	Status      models.TaskStatus
}

// Matches reports whether the task satisfies the filter.
func (f TaskFilter) Matches(t *models.Task) bool {
	if f.ItineraryID != "" && f.ItineraryID != t.ItineraryID {
		return false
	}
	if f.Type != "" && f.Type != t.Type {
		return false
	}
	if f.Status != "" && f.Status != t.Status {
		return false
	}
	return true
}

// Store is the persistence interface.
type Store interface {
	// GetItinerary returns the current document. The version is carried
	// inside the itinerary. Returns ErrNotFound when absent.
	GetItinerary(ctx context.Context, id string) (*models.Itinerary, error)

	// PutItinerary persists the document if the stored version equals
	// expectedVersion (0 means "must not exist"). Returns ErrVersionConflict
	// on mismatch.
	PutItinerary(ctx context.Context, it *models.Itinerary, expectedVersion int) error

	// ListByOwner returns trip metadata for all itineraries of an owner.
	ListByOwner(ctx context.Context, owner string) ([]models.TripMetadata, error)

	// PutMetadata upserts the per-owner trip metadata index entry.
	PutMetadata(ctx context.Context, md models.TripMetadata) error

	// SaveRevision stores an immutable snapshot and prunes revisions beyond
	// the configured retention bound.
	SaveRevision(ctx context.Context, rev models.Revision) error

	// GetRevision returns the snapshot at a version. Returns ErrNotFound
	// when absent (including pruned revisions).
	GetRevision(ctx context.Context, id string, version int) (*models.Revision, error)

	// ListRevisions returns up to limit revisions, newest first.
	ListRevisions(ctx context.Context, id string, limit int) ([]models.Revision, error)

	// CreateTask persists a new task. When the task carries an idempotency
	// key that already exists, ErrDuplicateIdempotencyKey is returned.
	CreateTask(ctx context.Context, t *models.Task) error

	// GetTask returns a task by id.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// GetTaskByIdempotencyKey returns the task with the given key.
	GetTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error)

	// UpdateTask persists the full task record.
	UpdateTask(ctx context.Context, t *models.Task) error

	// TransitionTask atomically moves a task from one status to another,
	// applying mutate to the record inside the transition. Returns
	// ErrInvalidTransition when the current status differs from from.
	TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, mutate func(*models.Task)) (*models.Task, error)

	// ClaimNextTask atomically claims the oldest pending task whose
	// next_attempt_at is not in the future, transitioning it to running.
	// Returns ErrNotFound when no task is claimable.
	ClaimNextTask(ctx context.Context, now time.Time) (*models.Task, error)

	// ListTasksByStatus returns all tasks with the given status.
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)

	// DeleteTask removes a task record and its idempotency key mapping.
	// Returns ErrNotFound when the task does not exist.
	DeleteTask(ctx context.Context, id string) error

	// SubscribeTasks registers a callback invoked after every task state
	// change matching the filter. The returned function unsubscribes.
	SubscribeTasks(filter TaskFilter, fn func(*models.Task)) (unsubscribe func())
}
