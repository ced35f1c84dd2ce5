// Package feed turns bus events into per-consumer streams suitable for
// long-lived connections. Each feed carries one kind of event, may be
// scoped to a single thread, and drops events when its consumer falls
// behind rather than blocking the publisher.
package feed

import (
	"fmt"
	"sync"
	"sync/atomic"

	"chatcore/pkg/bus"
	"chatcore/pkg/logger"
)

// Kind selects which event types a feed carries.
type Kind string

const (
	KindMessages  Kind = "messages"
	KindTyping    Kind = "typing"
	KindReads     Kind = "reads"
	KindReactions Kind = "reactions"
)

var kindTypes = map[Kind][]string{
	KindMessages:  {bus.TypeMessage, bus.TypeMessageEdited, bus.TypeMessageDeleted},
	KindTyping:    {bus.TypeTyping},
	KindReads:     {bus.TypeMessagesRead},
	KindReactions: {bus.TypeMessageReaction},
}

// ParseKind validates a feed kind from request input.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindTypes[k]; !ok {
		return "", fmt.Errorf("unknown feed kind: %q", s)
	}
	return k, nil
}

// Gateway opens feeds over a shared bus.
type Gateway struct {
	bus    *bus.Bus
	buffer int

	// optional counters, wired by telemetry
	OnOpen  func(kind string)
	OnClose func(kind string)
	OnDrop  func(kind string)
}

// NewGateway returns a gateway whose feeds buffer up to buffer events.
func NewGateway(b *bus.Bus, buffer int) *Gateway {
	if buffer <= 0 {
		buffer = 64
	}
	return &Gateway{bus: b, buffer: buffer}
}

// Feed is one consumer's stream. Read from C until it is closed; call
// Close exactly when done.
type Feed struct {
	C <-chan bus.Event

	gw    *Gateway
	kind  Kind
	ch    chan bus.Event
	subID uint64

	// mu orders sends against close so a publish racing Close never
	// writes to a closed channel.
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Open subscribes a new feed for the given kind. A non-empty threadID
// restricts the feed to that thread's events; empty receives all
// threads. The subscriber only sees events published after Open.
func (g *Gateway) Open(kind Kind, threadID string) (*Feed, error) {
	types, ok := kindTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown feed kind: %q", kind)
	}
	ch := make(chan bus.Event, g.buffer)
	f := &Feed{C: ch, gw: g, kind: kind, ch: ch}
	f.subID = g.bus.Subscribe(func(ev bus.Event) {
		match := false
		for _, t := range types {
			if ev.Type == t {
				match = true
				break
			}
		}
		if !match {
			return
		}
		if threadID != "" && ev.Thread != threadID {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return
		}
		select {
		case ch <- ev:
		default:
			f.dropped.Add(1)
			if g.OnDrop != nil {
				g.OnDrop(string(kind))
			}
			logger.Warn("feed_event_dropped", "kind", string(kind), "thread", threadID)
		}
	})
	if g.OnOpen != nil {
		g.OnOpen(string(kind))
	}
	logger.Debug("feed_opened", "kind", string(kind), "thread", threadID)
	return f, nil
}

// Close unsubscribes the feed and closes its channel. Safe to call more
// than once.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()
	f.gw.bus.Unsubscribe(f.subID)
	if f.gw.OnClose != nil {
		f.gw.OnClose(string(f.kind))
	}
}

// Dropped reports how many events were discarded because the consumer
// was not keeping up.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}
