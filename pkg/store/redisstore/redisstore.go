// Package redisstore provides a Redis-backed Store (store.type: "remoteKV").
//
// Key layout mirrors the documented persisted-state layout:
//
//	itineraries/{id}                    → JSON document (version inside)
//	itineraries/{id}/revisions/{v}      → JSON revision snapshot
//	itineraries/{id}/revisions          → zset of retained versions
//	users/{owner}/itineraries           → hash: itinerary id → metadata JSON
//	tasks/{id}                          → JSON task record
//	tasks:pending                       → zset of pending task ids by created-at
//	tasks:idem                          → hash: idempotency key → task id
//
// Compare-and-swap on the itinerary version uses WATCH/MULTI/EXEC. Task
// claims use the same optimistic transaction over the pending zset.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// Store implements store.Store on Redis.
type Store struct {
	rdb    redis.UniversalClient
	retain int

	// Task change notifications are in-process only: remote watchers poll.
	local *subscribers
}

// Options configures the Redis store.
type Options struct {
	// Addr is the Redis address, e.g. "localhost:6379".
	Addr string
	// Password is optional.
	Password string
	// DB selects the logical database.
	DB int
	// RevisionRetain bounds retained revisions per itinerary (default 50).
	RevisionRetain int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	retain := opts.RevisionRetain
	if retain <= 0 {
		retain = 50
	}
	return &Store{rdb: rdb, retain: retain, local: newSubscribers()}, nil
}

var _ store.Store = (*Store)(nil)

// Close releases the Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

func itineraryKey(id string) string { return "itineraries/" + id }
func revisionKey(id string, v int) string {
	return fmt.Sprintf("itineraries/%s/revisions/%d", id, v)
}
func revisionIndexKey(id string) string { return "itineraries/" + id + "/revisions" }
func ownerKey(owner string) string      { return "users/" + owner + "/itineraries" }
func taskKey(id string) string          { return "tasks/" + id }

const (
	pendingTasksKey = "tasks:pending"
	idemKey         = "tasks:idem"
)

// classify maps go-redis errors onto store sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrTransientIO, err)
	}
	return err
}

// withRetry retries transient I/O failures with short exponential backoff.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
	), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, store.ErrTransientIO) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// GetItinerary implements store.Store.
func (s *Store) GetItinerary(ctx context.Context, id string) (*models.Itinerary, error) {
	var it models.Itinerary
	err := withRetry(ctx, func() error {
		data, err := s.rdb.Get(ctx, itineraryKey(id)).Bytes()
		if err != nil {
			return classify(err)
		}
		return json.Unmarshal(data, &it)
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// PutItinerary implements store.Store with WATCH-based CAS on version.
func (s *Store) PutItinerary(ctx context.Context, it *models.Itinerary, expectedVersion int) error {
	key := itineraryKey(it.ID)
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshal itinerary: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return store.ErrNotFound
			}
		case err != nil:
			return classify(err)
		default:
			var stored struct {
				Version int `json:"version"`
			}
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("decode stored version: %w", err)
			}
			if stored.Version != expectedVersion {
				return store.ErrVersionConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return classify(err)
	}

	err = s.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer raced us between WATCH and EXEC.
		return store.ErrVersionConflict
	}
	return err
}

// ListByOwner implements store.Store.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]models.TripMetadata, error) {
	var out []models.TripMetadata
	err := withRetry(ctx, func() error {
		fields, err := s.rdb.HGetAll(ctx, ownerKey(owner)).Result()
		if err != nil {
			return classify(err)
		}
		out = out[:0]
		for _, raw := range fields {
			var md models.TripMetadata
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				continue
			}
			out = append(out, md)
		}
		return nil
	})
	return out, err
}

// PutMetadata implements store.Store.
func (s *Store) PutMetadata(ctx context.Context, md models.TripMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return withRetry(ctx, func() error {
		return classify(s.rdb.HSet(ctx, ownerKey(md.Owner), md.ItineraryID, data).Err())
	})
}

// SaveRevision implements store.Store, pruning beyond the retention bound.
func (s *Store) SaveRevision(ctx context.Context, rev models.Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("marshal revision: %w", err)
	}
	idx := revisionIndexKey(rev.ItineraryID)
	return withRetry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, revisionKey(rev.ItineraryID, rev.Version), data, 0)
		pipe.ZAdd(ctx, idx, redis.Z{Score: float64(rev.Version), Member: fmt.Sprint(rev.Version)})
		if _, err := pipe.Exec(ctx); err != nil {
			return classify(err)
		}

		// Prune oldest revisions beyond the retention bound.
		stale, err := s.rdb.ZRange(ctx, idx, 0, int64(-s.retain-1)).Result()
		if err != nil {
			return classify(err)
		}
		for _, member := range stale {
			var v int
			if _, err := fmt.Sscan(member, &v); err != nil {
				continue
			}
			s.rdb.Del(ctx, revisionKey(rev.ItineraryID, v))
			s.rdb.ZRem(ctx, idx, member)
		}
		return nil
	})
}

// GetRevision implements store.Store.
func (s *Store) GetRevision(ctx context.Context, id string, version int) (*models.Revision, error) {
	var rev models.Revision
	err := withRetry(ctx, func() error {
		data, err := s.rdb.Get(ctx, revisionKey(id, version)).Bytes()
		if err != nil {
			return classify(err)
		}
		return json.Unmarshal(data, &rev)
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// ListRevisions implements store.Store, newest first.
func (s *Store) ListRevisions(ctx context.Context, id string, limit int) ([]models.Revision, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := s.rdb.ZRevRange(ctx, revisionIndexKey(id), 0, stop).Result()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]models.Revision, 0, len(members))
	for _, member := range members {
		var v int
		if _, err := fmt.Sscan(member, &v); err != nil {
			continue
		}
		rev, err := s.GetRevision(ctx, id, v)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rev)
	}
	return out, nil
}

// CreateTask implements store.Store.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if t.IdempotencyKey != "" {
		ok, err := s.rdb.HSetNX(ctx, idemKey, t.IdempotencyKey, t.ID).Result()
		if err != nil {
			return classify(err)
		}
		if !ok {
			return store.ErrDuplicateIdempotencyKey
		}
	}
	if err := s.writeTask(ctx, t); err != nil {
		return err
	}
	if t.Status == models.TaskStatusPending {
		if err := s.rdb.ZAdd(ctx, pendingTasksKey, redis.Z{
			Score:  float64(t.CreatedAt.UnixNano()),
			Member: t.ID,
		}).Err(); err != nil {
			return classify(err)
		}
	}
	s.local.notify(t)
	return nil
}

// GetTask implements store.Store.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	err := withRetry(ctx, func() error {
		data, err := s.rdb.Get(ctx, taskKey(id)).Bytes()
		if err != nil {
			return classify(err)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskByIdempotencyKey implements store.Store.
func (s *Store) GetTaskByIdempotencyKey(ctx context.Context, key string) (*models.Task, error) {
	id, err := s.rdb.HGet(ctx, idemKey, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return s.GetTask(ctx, id)
}

// UpdateTask implements store.Store.
func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now()
	if err := s.writeTask(ctx, t); err != nil {
		return err
	}
	if err := s.syncPendingIndex(ctx, t); err != nil {
		return err
	}
	s.local.notify(t)
	return nil
}

// TransitionTask implements store.Store using a WATCH transaction on the task key.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to models.TaskStatus, mutate func(*models.Task)) (*models.Task, error) {
	key := taskKey(id)
	var result *models.Task

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return classify(err)
		}
		var t models.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode task: %w", err)
		}
		if t.Status != from {
			return store.ErrInvalidTransition
		}
		t.Status = to
		t.UpdatedAt = time.Now()
		if mutate != nil {
			mutate(&t)
		}
		updated, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if to == models.TaskStatusPending {
				pipe.ZAdd(ctx, pendingTasksKey, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
			} else {
				pipe.ZRem(ctx, pendingTasksKey, t.ID)
			}
			return nil
		})
		if err != nil {
			return classify(err)
		}
		result = &t
		return nil
	}

	err := s.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	s.local.notify(result)
	return result, nil
}

// ClaimNextTask implements store.Store. Pops due pending task ids in
// created-at order and transitions the first claimable one to running.
func (s *Store) ClaimNextTask(ctx context.Context, now time.Time) (*models.Task, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, pendingTasksKey, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: 16,
	}).Result()
	if err != nil {
		return nil, classify(err)
	}
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.rdb.ZRem(ctx, pendingTasksKey, id)
				continue
			}
			return nil, err
		}
		if !t.NextAttemptAt.IsZero() && t.NextAttemptAt.After(now) {
			continue
		}
		claimed, err := s.TransitionTask(ctx, id, models.TaskStatusPending, models.TaskStatusRunning, func(t *models.Task) {
			t.StartedAt = now
		})
		if err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				continue // another worker won the race
			}
			return nil, err
		}
		return claimed, nil
	}
	return nil, store.ErrNotFound
}

// ListTasksByStatus implements store.Store by scanning task keys.
func (s *Store) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var out []*models.Task
	iter := s.rdb.Scan(ctx, 0, taskKey("*"), 256).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, classify(err)
		}
		var t models.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if t.Status == status {
			out = append(out, &t)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// DeleteTask implements store.Store.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, pendingTasksKey, id)
		if t.IdempotencyKey != "" {
			pipe.HDel(ctx, idemKey, t.IdempotencyKey)
		}
		_, err := pipe.Exec(ctx)
		return classify(err)
	})
}

// SubscribeTasks implements store.Store. Notifications are delivered for
// changes made through this process only.
func (s *Store) SubscribeTasks(filter store.TaskFilter, fn func(*models.Task)) func() {
	return s.local.add(filter, fn)
}

func (s *Store) writeTask(ctx context.Context, t *models.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return withRetry(ctx, func() error {
		return classify(s.rdb.Set(ctx, taskKey(t.ID), data, 0).Err())
	})
}

func (s *Store) syncPendingIndex(ctx context.Context, t *models.Task) error {
	if t.Status == models.TaskStatusPending {
		return classify(s.rdb.ZAdd(ctx, pendingTasksKey, redis.Z{
			Score: float64(t.CreatedAt.UnixNano()), Member: t.ID,
		}).Err())
	}
	return classify(s.rdb.ZRem(ctx, pendingTasksKey, t.ID).Err())
}
