package redisstore

import (
	"sync"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// subscribers is the in-process task change notification registry.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]taskSub
}

type taskSub struct {
	filter store.TaskFilter
	fn     func(*models.Task)
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]taskSub)}
}

func (s *subscribers) add(filter store.TaskFilter, fn func(*models.Task)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = taskSub{filter: filter, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify(t *models.Task) {
	s.mu.Lock()
	matched := make([]taskSub, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.filter.Matches(t) {
			matched = append(matched, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range matched {
		sub.fn(t)
	}
}
