// Package bus carries chat events from the write path to in-process
// subscribers. Delivery is synchronous and in registration order; an
// event published while nobody listens is simply gone.
package bus

import (
	"sync"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

// Event types.
const (
	TypeMessage         = "message"
	TypeMessageEdited   = "messageEdited"
	TypeMessageDeleted  = "messageDeleted"
	TypeMessageReaction = "messageReaction"
	TypeTyping          = "typing"
	TypeMessagesRead    = "messagesRead"
)

// Event is a single chat occurrence. Thread is set for every type so
// subscribers can filter without inspecting the payload.
type Event struct {
	Type    string `json:"type"`
	Thread  string `json:"thread"`
	TS      int64  `json:"ts"`
	Payload any    `json:"payload"`
}

// ReactionEvent is the payload for TypeMessageReaction. Removed marks
// a toggle-off.
type ReactionEvent struct {
	MessageID string          `json:"messageId"`
	Thread    string          `json:"thread"`
	Reaction  models.Reaction `json:"reaction"`
	Removed   bool            `json:"removed"`
}

// ReadEvent is the payload for TypeMessagesRead.
type ReadEvent struct {
	Receiver string `json:"receiver"`
	Sender   string `json:"sender,omitempty"`
	Thread   string `json:"thread,omitempty"`
	Count    int    `json:"count"`
	TS       int64  `json:"ts"`
}

// Handler receives one event. Handlers run on the publisher's goroutine
// and must not block.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus fans events out to subscribers. The zero value is not usable;
// construct with New and inject where publishing happens.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription

	onPublish func(eventType string)
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// OnPublish installs a hook invoked once per published event, used for
// counting. Must be set before the bus is shared.
func (b *Bus) OnPublish(fn func(eventType string)) {
	b.onPublish = fn
}

// Subscribe registers a handler and returns its id for Unsubscribe.
// Handlers are invoked in the order they were registered.
func (b *Bus) Subscribe(fn Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	logger.Debug("bus_subscribed", "id", id, "subscribers", len(b.subs))
	return id
}

// Unsubscribe removes a handler. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			logger.Debug("bus_unsubscribed", "id", id, "subscribers", len(b.subs))
			return
		}
	}
}

// Publish delivers the event to every current subscriber, synchronously
// and in registration order. The event's timestamp is filled if unset.
func (b *Bus) Publish(ev Event) {
	if ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	if b.onPublish != nil {
		b.onPublish(ev.Type)
	}
	for _, s := range subs {
		s.fn(ev)
	}
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
