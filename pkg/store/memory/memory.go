// Package memory provides an in-process Store used by tests and
// single-process deployments (store.type: "inmemory").
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// DefaultRevisionRetain is the default number of revisions kept per itinerary.
const DefaultRevisionRetain = 50

// Store is a mutex-guarded in-memory implementation of store.Store.
// Documents are deep-copied on the way in and out so callers can never
// alias stored state.
type Store struct {
	mu sync.RWMutex

	itineraries map[string]*models.Itinerary
	revisions   map[string][]models.Revision     // itinerary id → revisions, ascending version
	metadata    map[string]models.TripMetadata   // owner + "/" + itinerary id
	tasks       map[string]*models.Task          // task id
	taskKeys    map[string]string                // idempotency key → task id
	retain      int

	subMu       sync.Mutex
	subscribers map[int]taskSubscription
	nextSubID   int
}

type taskSubscription struct {
	filter store.TaskFilter
	fn     func(*models.Task)
}

// Option configures the store.
type Option func(*Store)

// WithRevisionRetain overrides the revision retention bound.
func WithRevisionRetain(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retain = n
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		itineraries: make(map[string]*models.Itinerary),
		revisions:   make(map[string][]models.Revision),
		metadata:    make(map[string]models.TripMetadata),
		tasks:       make(map[string]*models.Task),
		taskKeys:    make(map[string]string),
		subscribers: make(map[int]taskSubscription),
		retain:      DefaultRevisionRetain,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// GetItinerary implements store.Store.
func (s *Store) GetItinerary(_ context.Context, id string) (*models.Itinerary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.itineraries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return it.Clone(), nil
}

// PutItinerary implements store.Store with compare-and-swap on version.
func (s *Store) PutItinerary(_ context.Context, it *models.Itinerary, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.itineraries[it.ID]
	switch {
	case !exists && expectedVersion != 0:
		return store.ErrNotFound
	case exists && current.Version != expectedVersion:
		return store.ErrVersionConflict
	}
	s.itineraries[it.ID] = it.Clone()
	return nil
}

// ListByOwner implements store.Store.
func (s *Store) ListByOwner(_ context.Context, owner string) ([]models.TripMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TripMetadata
	for _, md := range s.metadata {
		if md.Owner == owner {
			out = append(out, md)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItineraryID < out[j].ItineraryID })
	return out, nil
}

// PutMetadata implements store.Store.
func (s *Store) PutMetadata(_ context.Context, md models.TripMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[md.Owner+"/"+md.ItineraryID] = md
	return nil
}

// SaveRevision implements store.Store, pruning beyond the retention bound.
func (s *Store) SaveRevision(_ context.Context, rev models.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev.Snapshot = rev.Snapshot.Clone()
	revs := append(s.revisions[rev.ItineraryID], rev)
	sort.Slice(revs, func(i, j int) bool { return revs[i].Version < revs[j].Version })
	if len(revs) > s.retain {
		revs = revs[len(revs)-s.retain:]
	}
	s.revisions[rev.ItineraryID] = revs
	return nil
}

// GetRevision implements store.Store.
func (s *Store) GetRevision(_ context.Context, id string, version int) (*models.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rev := range s.revisions[id] {
		if rev.Version == version {
			out := rev
			out.Snapshot = rev.Snapshot.Clone()
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListRevisions implements store.Store, newest first.
func (s *Store) ListRevisions(_ context.Context, id string, limit int) ([]models.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := s.revisions[id]
	out := make([]models.Revision, 0, len(revs))
	for i := len(revs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		rev := revs[i]
		rev.Snapshot = rev.Snapshot.Clone()
		out = append(out, rev)
	}
	return out, nil
}

// CreateTask implements store.Store.
func (s *Store) CreateTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	if t.IdempotencyKey != "" {
		if _, exists := s.taskKeys[t.IdempotencyKey]; exists {
			s.mu.Unlock()
			return store.ErrDuplicateIdempotencyKey
		}
		s.taskKeys[t.IdempotencyKey] = t.ID
	}
	s.tasks[t.ID] = cloneTask(t)
	snapshot := cloneTask(t)
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// GetTask implements store.Store.
func (s *Store) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTask(t), nil
}

// GetTaskByIdempotencyKey implements store.Store.
func (s *Store) GetTaskByIdempotencyKey(_ context.Context, key string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.taskKeys[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTask(s.tasks[id]), nil
}

// UpdateTask implements store.Store.
func (s *Store) UpdateTask(_ context.Context, t *models.Task) error {
	s.mu.Lock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	t.UpdatedAt = time.Now()
	s.tasks[t.ID] = cloneTask(t)
	snapshot := cloneTask(t)
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// TransitionTask implements store.Store.
func (s *Store) TransitionTask(_ context.Context, id string, from, to models.TaskStatus, mutate func(*models.Task)) (*models.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if t.Status != from {
		s.mu.Unlock()
		return nil, store.ErrInvalidTransition
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(t)
	}
	snapshot := cloneTask(t)
	s.mu.Unlock()

	s.notify(snapshot)
	return cloneTask(snapshot), nil
}

// ClaimNextTask implements store.Store. FIFO by creation time among due
// pending tasks.
func (s *Store) ClaimNextTask(_ context.Context, now time.Time) (*models.Task, error) {
	s.mu.Lock()
	var oldest *models.Task
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if !t.NextAttemptAt.IsZero() && t.NextAttemptAt.After(now) {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	oldest.Status = models.TaskStatusRunning
	oldest.StartedAt = now
	oldest.UpdatedAt = now
	snapshot := cloneTask(oldest)
	s.mu.Unlock()

	s.notify(snapshot)
	return cloneTask(snapshot), nil
}

// ListTasksByStatus implements store.Store.
func (s *Store) ListTasksByStatus(_ context.Context, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteTask implements store.Store.
func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.IdempotencyKey != "" {
		delete(s.taskKeys, t.IdempotencyKey)
	}
	delete(s.tasks, id)
	return nil
}

// SubscribeTasks implements store.Store.
func (s *Store) SubscribeTasks(filter store.TaskFilter, fn func(*models.Task)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = taskSubscription{filter: filter, fn: fn}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// notify invokes matching task subscribers. Callbacks run synchronously on
// the mutating goroutine; subscribers must not block.
func (s *Store) notify(t *models.Task) {
	s.subMu.Lock()
	subs := make([]taskSubscription, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if sub.filter.Matches(t) {
			subs = append(subs, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(cloneTask(t))
	}
}

func cloneTask(t *models.Task) *models.Task {
	out := *t
	if t.Params != nil {
		out.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			out.Params[k] = v
		}
	}
	if t.Result != nil {
		out.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			out.Result[k] = v
		}
	}
	return &out
}
