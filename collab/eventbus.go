// Package collab implements the five external collaborator contracts
// the core consumes and exposes without owning: an event bus, an RPC
// layer over the message transport, a KVS client, leveled logging, and
// a service-plugin loader.
package collab

import (
	"sync"
	"time"
)

// Event is a published (topic, payload) pair, timestamped on publish.
type Event struct {
	Topic     string
	Payload   []byte
	Timestamp time.Time
}

// Subscription is the lazy sequence a subscriber drains: Next blocks
// until an event matching the subscription's glob arrives, or the
// subscription is unsubscribed (closing the channel and making Next
// return ok=false).
type Subscription struct {
	glob string
	ch   chan Event
	bus  *EventBus
}

// Next returns the next event for this subscription, blocking the
// calling goroutine. ok is false once Unsubscribe has been called and
// no further events will arrive.
func (s *Subscription) Next() (Event, bool) {
	ev, ok := <-s.ch
	return ev, ok
}

// EventBus distributes published events to every subscription whose
// topic glob matches, dropping silently for any subscriber whose
// buffer is full rather than blocking the publisher — grounded on
// cuemby-warren's events.Broker, generalized from exact-match
// channels to dotted-topic glob subscriptions.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers topicGlob and returns the subscription to drain
// via Next. topicGlob is either an exact dotted topic, or a prefix
// ending in ".*" matching one or more trailing components.
func (b *EventBus) Subscribe(topicGlob string) *Subscription {
	sub := &Subscription{glob: topicGlob, ch: make(chan Event, 64), bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel, ending its Next
// sequence.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish delivers (topic, payload) to every subscription whose glob
// matches topic, in publication order per subscriber.
func (b *EventBus) Publish(topic string, payload []byte) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !topicMatchesGlob(sub.glob, topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default: // subscriber buffer full, drop rather than block the publisher
		}
	}
}

// topicMatchesGlob implements the "* suffix" wildcard: an exact glob
// matches only the identical topic; a glob ending in ".*" matches any
// topic with that prefix plus at least one further component.
func topicMatchesGlob(glob, topic string) bool {
	if glob == topic {
		return true
	}
	const suffix = ".*"
	if len(glob) <= len(suffix) || glob[len(glob)-len(suffix):] != suffix {
		return false
	}
	prefix := glob[:len(glob)-1] // keep the trailing "."
	return len(topic) > len(prefix) && topic[:len(prefix)] == prefix
}
