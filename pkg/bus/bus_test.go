package bus

import (
	"testing"

	"chatcore/pkg/models"
)

func TestPublishOrderAndPayload(t *testing.T) {
	b := New()

	var order []string
	b.Subscribe(func(ev Event) { order = append(order, "first:"+ev.Type) })
	b.Subscribe(func(ev Event) { order = append(order, "second:"+ev.Type) })

	b.Publish(Event{Type: TypeMessage, Thread: "t1", Payload: &models.Message{ID: "m1"}})

	if len(order) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(order))
	}
	if order[0] != "first:message" || order[1] != "second:message" {
		t.Fatalf("delivery out of registration order: %v", order)
	}
}

func TestPublishFillsTimestamp(t *testing.T) {
	b := New()
	var got Event
	b.Subscribe(func(ev Event) { got = ev })
	b.Publish(Event{Type: TypeTyping, Thread: "t1"})
	if got.TS == 0 {
		t.Fatalf("timestamp not filled")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var n int
	id := b.Subscribe(func(Event) { n++ })
	b.Publish(Event{Type: TypeMessage})
	b.Unsubscribe(id)
	b.Publish(Event{Type: TypeMessage})
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Subscribers())
	}
	// unknown id is a no-op
	b.Unsubscribe(999)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := New()
	// must not panic or retain anything
	b.Publish(Event{Type: TypeMessageDeleted, Thread: "t1"})
	var n int
	b.Subscribe(func(Event) { n++ })
	b.Publish(Event{Type: TypeMessage})
	if n != 1 {
		t.Fatalf("late subscriber must only see post-subscription events, got %d", n)
	}
}

func TestOnPublishHook(t *testing.T) {
	b := New()
	var types []string
	b.OnPublish(func(et string) { types = append(types, et) })
	b.Publish(Event{Type: TypeMessage})
	b.Publish(Event{Type: TypeMessagesRead})
	if len(types) != 2 || types[0] != TypeMessage || types[1] != TypeMessagesRead {
		t.Fatalf("hook not invoked per publish: %v", types)
	}
}
