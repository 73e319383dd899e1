// Package eventbus fans status changes, mail events, and count updates out
// to all subscribers through bounded per-subscriber queues: a slow
// subscriber is dropped rather than allowed to block the hot routing path.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names for the events published by the message plane.
const (
	TopicMailSent     = "mail:sent"
	TopicMailReceived = "mail:received"
	TopicMailRouted   = "mail:routed"
	TopicMailFailed   = "mail:failed"
	TopicMailBounced  = "mail:bounced"
	TopicMailCounts   = "mail:counts"
	TopicBeeStatus    = "bee:status"
	TopicSwarmUpdated = "swarm:updated"
)

// DefaultQueueSize is the recommended bounded per-subscriber queue depth.
const DefaultQueueSize = 256

// Event is one published notification. Payload's concrete type depends on
// Topic; Gateway handlers and internal subscribers type-assert accordingly.
type Event struct {
	Topic   string
	Payload any
	Time    time.Time
}

// subscriber holds one subscription's bounded queue and topic filter.
type subscriber struct {
	id      uint64
	topics  map[string]bool // nil/empty means "all topics"
	ch      chan Event
	closeMu sync.Mutex
	closed  bool
}

func (s *subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[topic]
}

// deliver attempts a non-blocking send; if the subscriber's queue is full
// it is dropped and its channel closed so the subscriber observes the
// closure and can reconnect.
func (s *subscriber) deliver(ev Event) (dropped bool) {
	select {
	case s.ch <- ev:
		return false
	default:
		s.closeMu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.closeMu.Unlock()
		return true
	}
}

// Bus is an in-process, single-writer-per-topic pub/sub fan-out. Events
// published to the same topic are delivered to each subscriber in
// publication order; ordering across topics is not guaranteed.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
	onDrop func(subscriberID uint64)
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// OnDrop registers a callback invoked (outside the bus lock) whenever a
// subscriber is dropped for a full queue.
func (b *Bus) OnDrop(fn func(subscriberID uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a new subscriber. If topics is empty the subscriber
// receives every published event. The returned channel is closed when the
// subscriber is dropped (queue overflow) or explicitly unsubscribed; the
// returned function unsubscribes.
func (b *Bus) Subscribe(queueSize int, topics ...string) (<-chan Event, func()) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	filter := make(map[string]bool, len(topics))
	for _, t := range topics {
		filter[t] = true
	}

	sub := &subscriber{
		id:     b.nextID.Add(1),
		topics: filter,
		ch:     make(chan Event, queueSize),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(sub.id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	sub.closeMu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.closeMu.Unlock()
}

// Publish fans ev out to every subscriber whose filter matches topic.
// Publish never blocks: a subscriber whose queue is full is dropped.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	recipients := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(topic) {
			recipients = append(recipients, s)
		}
	}
	onDrop := b.onDrop
	b.mu.RUnlock()

	for _, s := range recipients {
		if s.deliver(ev) {
			b.mu.Lock()
			delete(b.subs, s.id)
			b.mu.Unlock()
			if onDrop != nil {
				onDrop(s.id)
			}
		}
	}
}

// SubscriberCount returns the number of currently active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
