package events

import (
	"log/slog"
	"sync"
)

// subscriptionBuffer bounds each subscription's delivery queue. A subscriber
// that falls this far behind is dropped rather than blocking publishers.
const subscriptionBuffer = 64

// Envelope wraps a published payload with its per-itinerary sequence number.
type Envelope struct {
	Seq     int64 `json:"seq"`
	Payload any   `json:"payload"`
}

// Bus is the in-process event bus keyed by itinerary id. Publish is
// non-blocking for publishers; slow subscribers are dropped silently.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	nextSeq int64
	subs    map[int]*Subscription
	nextID  int
}

// Subscription receives events for one itinerary in publish order.
type Subscription struct {
	// C delivers envelopes in publish order. Closed when the subscription
	// is dropped or closed.
	C <-chan Envelope

	ch          chan Envelope
	bus         *Bus
	itineraryID string
	id          int
	closeOnce   sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

// Subscribe registers a subscriber for an itinerary's events.
func (b *Bus) Subscribe(itineraryID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[itineraryID]
	if !ok {
		t = &topic{subs: make(map[int]*Subscription)}
		b.topics[itineraryID] = t
	}

	ch := make(chan Envelope, subscriptionBuffer)
	sub := &Subscription{
		C:           ch,
		ch:          ch,
		bus:         b,
		itineraryID: itineraryID,
		id:          t.nextID,
	}
	t.subs[t.nextID] = sub
	t.nextID++
	return sub
}

// Publish delivers the payload to all live subscribers of the itinerary,
// assigning the next sequence number. Subscribers whose buffers are full
// are dropped.
func (b *Bus) Publish(itineraryID string, payload any) {
	b.mu.Lock()
	t, ok := b.topics[itineraryID]
	if !ok {
		// No subscribers yet; still advance the sequence so late
		// subscribers can observe the gap.
		t = &topic{subs: make(map[int]*Subscription)}
		b.topics[itineraryID] = t
	}
	t.nextSeq++
	env := Envelope{Seq: t.nextSeq, Payload: payload}

	var dropped []*Subscription
	for _, sub := range t.subs {
		select {
		case sub.ch <- env:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(t.subs, sub.id)
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		slog.Warn("Dropping slow event subscriber",
			"itinerary_id", itineraryID, "seq", env.Seq)
		sub.closeChan()
	}
}

// SubscriberCount returns the number of live subscribers for an itinerary.
func (b *Bus) SubscriberCount(itineraryID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[itineraryID]; ok {
		return len(t.subs)
	}
	return 0
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if t, ok := s.bus.topics[s.itineraryID]; ok {
		delete(t.subs, s.id)
	}
	s.bus.mu.Unlock()
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.closeOnce.Do(func() { close(s.ch) })
}
